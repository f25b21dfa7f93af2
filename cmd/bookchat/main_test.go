package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/suPer8Hu/book-chat/internal/config"
	"github.com/suPer8Hu/book-chat/internal/retrieval"
)

func TestBooksCommand(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"books"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("books: %v", err)
	}
	if !strings.Contains(out.String(), "atomic-habits") {
		t.Fatalf("catalog listing missing atomic-habits:\n%s", out.String())
	}
}

func TestBooksCommand_MissingFile(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"books", "--file", t.TempDir() + "/missing.yaml"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected an error for a missing catalog file")
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := newEmbedder(context.Background(), config.Config{EmbedProvider: "ollama", EmbedModel: "mxbai-embed-large"})
	if err != nil {
		t.Fatalf("ollama embedder: %v", err)
	}
	if e.Name() != "ollama:mxbai-embed-large" {
		t.Fatalf("Name = %q", e.Name())
	}

	if _, err := newEmbedder(context.Background(), config.Config{EmbedProvider: "genai"}); err == nil {
		t.Fatal("genai without an api key should fail")
	}
	if _, err := newEmbedder(context.Background(), config.Config{EmbedProvider: "word2vec"}); err == nil {
		t.Fatal("unknown provider should fail")
	}
}

func TestNewEmbeddingCache(t *testing.T) {
	c, closeFn, err := newEmbeddingCache(context.Background(), config.Config{EmbedCache: "memory"})
	if err != nil {
		t.Fatalf("memory cache: %v", err)
	}
	defer closeFn()
	if _, ok := c.(*retrieval.MemoryCache); !ok {
		t.Fatalf("cache = %T", c)
	}

	c, _, err = newEmbeddingCache(context.Background(), config.Config{EmbedCache: "none"})
	if err != nil || c != nil {
		t.Fatalf("none: %v %v", c, err)
	}
	if _, _, err := newEmbeddingCache(context.Background(), config.Config{EmbedCache: "disk"}); err == nil {
		t.Fatal("unknown cache should fail")
	}
}

func TestNewProviders(t *testing.T) {
	reg := newProviders(config.Config{OllamaModel: "llama3:latest"})
	if got := strings.Join(reg.Names(), ","); got != "ollama,openrouter" {
		t.Fatalf("Names = %q", got)
	}
	if _, err := reg.Get(context.Background(), "openrouter", ""); err == nil {
		t.Fatal("openrouter without an api key should fail")
	}
}
