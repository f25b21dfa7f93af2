// Package chat answers questions about a book inside a user's conversation.
package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/ai"
	"github.com/suPer8Hu/book-chat/internal/auth"
	"github.com/suPer8Hu/book-chat/internal/books"
	"github.com/suPer8Hu/book-chat/internal/common"
	"github.com/suPer8Hu/book-chat/internal/conversation"
	"github.com/suPer8Hu/book-chat/internal/logging"
	"github.com/suPer8Hu/book-chat/internal/metrics"
	"github.com/suPer8Hu/book-chat/internal/retrieval"
)

const (
	defaultGenerationTimeout = 30 * time.Second
	defaultHistoryTurns      = 4
	defaultListLimit         = 5
	maxListLimit             = 50
)

type TokenResolver interface {
	Resolve(token string) (auth.Identity, bool)
}

type RateLimiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

type PassageRanker interface {
	Rank(ctx context.Context, query string, book books.Book) ([]retrieval.Passage, error)
}

type BookCatalog interface {
	Get(id string) (books.Book, bool)
}

// Deps are the collaborators of the Service. Jobs and Publisher may be nil when async asks are disabled.
type Deps struct {
	Tokens    TokenResolver
	Limiter   RateLimiter
	Store     *conversation.Store
	Catalog   BookCatalog
	Ranker    PassageRanker
	Provider  ai.Provider
	Jobs      *Repo
	Publisher JobPublisher
}

type Service struct {
	tokens    TokenResolver
	limiter   RateLimiter
	store     *conversation.Store
	catalog   BookCatalog
	ranker    PassageRanker
	provider  ai.Provider
	jobs      *Repo
	publisher JobPublisher

	genTimeout   time.Duration
	historyTurns int
	anonByAddr   bool
	metrics      metrics.Recorder
	log          *zap.Logger
}

type Option func(*Service)

func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.genTimeout = d
		}
	}
}

// WithHistoryTurns sets how many prior messages go into the prompt.
func WithHistoryTurns(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.historyTurns = n
		}
	}
}

// WithAnonymousByAddr gives each anonymous client address its own rate-limit bucket
// instead of the shared "anonymous" one.
func WithAnonymousByAddr(on bool) Option {
	return func(s *Service) { s.anonByAddr = on }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(s *Service) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = logging.OrNop(l) }
}

func NewService(d Deps, opts ...Option) *Service {
	s := &Service{
		tokens:       d.Tokens,
		limiter:      d.Limiter,
		store:        d.Store,
		catalog:      d.Catalog,
		ranker:       d.Ranker,
		provider:     d.Provider,
		jobs:         d.Jobs,
		publisher:    d.Publisher,
		genTimeout:   defaultGenerationTimeout,
		historyTurns: defaultHistoryTurns,
		metrics:      metrics.Nop{},
		log:          zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type AskRequest struct {
	Token          string
	ClientAddr     string
	BookID         string
	ConversationID string
	Message        string
}

// Ask resolves the caller, charges the rate limit and answers the message.
func (s *Service) Ask(ctx context.Context, req AskRequest) (string, error) {
	id, err := s.Admit(ctx, req.Token, req.ClientAddr)
	if err != nil {
		return "", err
	}
	return s.AnswerAs(ctx, id, req.BookID, req.ConversationID, req.Message)
}

// Resolve maps a token to its identity, or the anonymous identity.
func (s *Service) Resolve(token string) auth.Identity {
	if token != "" && s.tokens != nil {
		if id, ok := s.tokens.Resolve(token); ok {
			return id
		}
	}
	return auth.Anonymous()
}

// Admit resolves the caller and consumes one request from its rate-limit window.
func (s *Service) Admit(ctx context.Context, token, clientAddr string) (auth.Identity, error) {
	id := s.Resolve(token)
	key := s.rateKey(id, clientAddr)
	if !s.limiter.Allow(key) {
		s.metrics.RecordAsk(metrics.OutcomeRateLimited)
		s.log.Info("rate limited", zap.String("user_id", id.ID), zap.String("key", key))
		return id, common.Wrap(common.KindRateLimited, "rate limit exceeded, please try again later",
			&common.RetryAfterError{After: s.limiter.RetryAfter(key)})
	}
	return id, nil
}

func (s *Service) rateKey(id auth.Identity, clientAddr string) string {
	if id.IsAnonymous() {
		if s.anonByAddr && clientAddr != "" {
			return auth.AnonymousID + ":" + clientAddr
		}
		return auth.AnonymousID
	}
	return id.ID
}

// turn is everything needed to generate one answer, gathered before any state changes.
type turn struct {
	identity auth.Identity
	convID   string
	question string
	prompt   []ai.Message
}

// prepare runs validation, lookups and retrieval. Nothing is written.
func (s *Service) prepare(ctx context.Context, id auth.Identity, bookID, conversationID, message string) (turn, error) {
	if strings.TrimSpace(bookID) == "" || strings.TrimSpace(conversationID) == "" || strings.TrimSpace(message) == "" {
		return turn{}, common.E(common.KindInvalidRequest, "bookId, conversationId and message are required")
	}

	book, ok := s.catalog.Get(bookID)
	if !ok {
		return turn{}, common.E(common.KindNotFound, "book not found")
	}

	conv, ok := s.store.Get(conversationID, id.ID)
	if !ok || conv.BookID != bookID {
		return turn{}, common.E(common.KindNotFound, "conversation not found")
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
	defer cancel()
	start := time.Now()
	passages, err := s.ranker.Rank(rctx, message, book)
	s.metrics.RecordRetrievalLatency(time.Since(start))
	if err != nil {
		s.log.Warn("retrieval failed",
			zap.String("book_id", bookID),
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return turn{}, common.Wrap(common.KindGenerationFailed, err.Error(), err)
	}

	return turn{
		identity: id,
		convID:   conversationID,
		question: message,
		prompt:   buildPrompt(book, passages, conv.Recent(s.historyTurns), message),
	}, nil
}

// commit appends the question and the answer in that order.
func (s *Service) commit(t turn, answer string) error {
	_, err := s.store.Update(t.convID, t.identity.ID, func(c *conversation.Conversation) error {
		s.store.Append(c, conversation.RoleUser, t.question)
		s.store.Append(c, conversation.RoleAssistant, answer)
		return nil
	})
	if errors.Is(err, conversation.ErrNotFound) {
		return common.Wrap(common.KindNotFound, "conversation not found", err)
	}
	if err != nil {
		return common.Wrap(common.KindInternal, "", err)
	}
	return nil
}

// AnswerAs answers message for an already admitted identity. The conversation is only
// modified when generation succeeds; a caller that goes away does not cancel generation.
func (s *Service) AnswerAs(ctx context.Context, id auth.Identity, bookID, conversationID, message string) (answer string, err error) {
	defer func() { s.metrics.RecordAsk(outcomeOf(err)) }()

	t, err := s.prepare(ctx, id, bookID, conversationID, message)
	if err != nil {
		return "", err
	}

	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.provider.Chat(gctx, t.prompt)
	cost := time.Since(start)
	s.metrics.RecordGenerationLatency(cost)
	if err != nil {
		s.log.Warn("generation failed",
			zap.String("user_id", id.ID),
			zap.String("conversation_id", conversationID),
			zap.Duration("cost", cost),
			zap.Error(err),
		)
		return "", common.Wrap(common.KindGenerationFailed, err.Error(), err)
	}
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
	}

	if err := s.commit(t, reply); err != nil {
		return "", err
	}
	s.log.Debug("answered",
		zap.String("user_id", id.ID),
		zap.String("book_id", bookID),
		zap.String("conversation_id", conversationID),
		zap.Duration("cost", cost),
	)
	return reply, nil
}

func outcomeOf(err error) string {
	switch common.KindOf(err) {
	case "":
		return metrics.OutcomeOK
	case common.KindInvalidRequest:
		return metrics.OutcomeInvalid
	case common.KindNotFound:
		return metrics.OutcomeNotFound
	case common.KindRateLimited:
		return metrics.OutcomeRateLimited
	case common.KindGenerationFailed:
		return metrics.OutcomeGenerationFailed
	default:
		return metrics.OutcomeInternal
	}
}

// CreateConversation starts an empty conversation with bookID for id.
func (s *Service) CreateConversation(ctx context.Context, id auth.Identity, bookID string) (string, error) {
	if strings.TrimSpace(bookID) == "" {
		return "", common.E(common.KindInvalidRequest, "bookId is required")
	}
	if _, ok := s.catalog.Get(bookID); !ok {
		return "", common.E(common.KindNotFound, "book not found")
	}
	conv := s.store.Create(id.ID, bookID)
	s.store.Save(conv)
	return conv.ID, nil
}

// ListConversations returns id's conversations about bookID, most recently updated first.
func (s *Service) ListConversations(ctx context.Context, id auth.Identity, bookID string, limit int) ([]conversation.Conversation, error) {
	if strings.TrimSpace(bookID) == "" {
		return nil, common.E(common.KindInvalidRequest, "bookId is required")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListRecent(id.ID, bookID, limit), nil
}

func (s *Service) GetConversation(ctx context.Context, id auth.Identity, conversationID string) (conversation.Conversation, error) {
	conv, ok := s.store.Get(conversationID, id.ID)
	if !ok {
		return conversation.Conversation{}, common.E(common.KindNotFound, "conversation not found")
	}
	return conv, nil
}
