// Package retrieval picks the book passages most relevant to a question.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/suPer8Hu/book-chat/internal/ai"
	"github.com/suPer8Hu/book-chat/internal/books"
)

const DefaultTopK = 2

type Passage struct {
	ChapterTitle string  `json:"chapter_title"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}

// Ranker scores every chapter of a book against a query by embedding cosine similarity.
type Ranker struct {
	embedder ai.Embedder
	k        int
	cache    EmbeddingCache
	parallel int
	log      *zap.Logger
}

type Option func(*Ranker)

func WithTopK(k int) Option {
	return func(r *Ranker) {
		if k > 0 {
			r.k = k
		}
	}
}

// WithCache caches chapter embeddings. Query embeddings are never cached.
func WithCache(c EmbeddingCache) Option {
	return func(r *Ranker) { r.cache = c }
}

// WithParallelism bounds concurrent embedding calls per Rank.
func WithParallelism(n int) Option {
	return func(r *Ranker) {
		if n > 0 {
			r.parallel = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Ranker) {
		if l != nil {
			r.log = l
		}
	}
}

func NewRanker(embedder ai.Embedder, opts ...Option) *Ranker {
	r := &Ranker{
		embedder: embedder,
		k:        DefaultTopK,
		parallel: 4,
		log:      zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Ranker) TopK() int { return r.k }

// Rank returns at most K passages, highest score first. Equal scores keep chapter order.
// Any embedding failure fails the whole call.
func (r *Ranker) Rank(ctx context.Context, query string, book books.Book) ([]Passage, error) {
	if len(book.Chapters) == 0 {
		return []Passage{}, nil
	}

	qvec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored := make([]Passage, len(book.Chapters))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallel)
	for i, ch := range book.Chapters {
		g.Go(func() error {
			cvec, err := r.chapterVector(gctx, ch.Content)
			if err != nil {
				return fmt.Errorf("embed chapter %q: %w", ch.Title, err)
			}
			score, err := CosineSimilarity(qvec, cvec)
			if err != nil {
				return err
			}
			scored[i] = Passage{ChapterTitle: ch.Title, Content: ch.Content, Score: score}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > r.k {
		scored = scored[:r.k]
	}
	return scored, nil
}

func (r *Ranker) chapterVector(ctx context.Context, content string) ([]float32, error) {
	if r.cache == nil {
		return r.embedder.Embed(ctx, content)
	}

	key := CacheKey(r.embedder.Name(), content)
	if vec, ok, err := r.cache.GetVector(ctx, key); err != nil {
		r.log.Warn("embedding cache get failed", zap.Error(err))
	} else if ok {
		return vec, nil
	}

	vec, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetVector(ctx, key, vec); err != nil {
		r.log.Warn("embedding cache set failed", zap.Error(err))
	}
	return vec, nil
}
