// Package books holds the read-only book catalog that conversations are grounded in.
package books

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed books.yaml
var defaultCatalog []byte

type Chapter struct {
	Number  int    `yaml:"number" json:"number"`
	Title   string `yaml:"title" json:"title"`
	Content string `yaml:"content" json:"content"`
}

type Book struct {
	ID          string    `yaml:"id" json:"id"`
	Title       string    `yaml:"title" json:"title"`
	Author      string    `yaml:"author" json:"author"`
	Description string    `yaml:"description" json:"description"`
	CoverImage  string    `yaml:"cover_image" json:"cover_image"`
	Summary     string    `yaml:"summary" json:"summary"`
	Chapters    []Chapter `yaml:"chapters" json:"chapters"`
}

// Catalog is immutable after construction and safe for concurrent use.
type Catalog struct {
	books []Book
	byID  map[string]int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(data []byte) (*Catalog, error) {
	var list []Book
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("books: parse catalog: %w", err)
	}
	return New(list)
}

// New validates list and builds a catalog from it.
func New(list []Book) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]int, len(list))}
	for _, b := range list {
		b.ID = strings.TrimSpace(b.ID)
		if b.ID == "" {
			return nil, errors.New("books: book without id")
		}
		if _, dup := c.byID[b.ID]; dup {
			return nil, fmt.Errorf("books: duplicate id %q", b.ID)
		}
		b.Chapters = append([]Chapter(nil), b.Chapters...)
		c.byID[b.ID] = len(c.books)
		c.books = append(c.books, b)
	}
	return c, nil
}

func (c *Catalog) Get(id string) (Book, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Book{}, false
	}
	return c.books[i], true
}

func (c *Catalog) All() []Book {
	return append([]Book(nil), c.books...)
}
