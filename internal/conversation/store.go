package conversation

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/suPer8Hu/book-chat/internal/common"
)

var ErrNotFound = errors.New("conversation not found")

type ownerKey struct {
	userID string
	bookID string
}

// entry guards one stored conversation. Its mutex serializes writers of that conversation.
type entry struct {
	mu   sync.Mutex
	conv Conversation
}

// Store keeps conversations in memory, grouped per (user, book).
// Get and ListRecent hand out copies; callers mutate their own copy and
// persist it with Save, or use Update for an atomic read-modify-write.
type Store struct {
	now   func() time.Time
	newID func() string

	mu      sync.RWMutex
	byID    map[string]*entry
	byOwner map[ownerKey][]*entry
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		newID:   common.MustULID,
		byID:    make(map[string]*entry),
		byOwner: make(map[ownerKey][]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create allocates an empty conversation. It is not visible until saved.
func (s *Store) Create(userID, bookID string) Conversation {
	now := s.now()
	return Conversation{
		ID:        s.newID(),
		BookID:    bookID,
		UserID:    userID,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Append adds a new message to conv and bumps UpdatedAt. The caller persists conv.
func (s *Store) Append(conv *Conversation, role Role, content string) Message {
	now := s.now()
	// UpdatedAt must strictly increase even if the clock did not move.
	if !now.After(conv.UpdatedAt) {
		now = conv.UpdatedAt.Add(time.Nanosecond)
	}
	m := Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	conv.Messages = append(conv.Messages, m)
	conv.UpdatedAt = now
	return m
}

// Save upserts conv by id.
func (s *Store) Save(conv Conversation) {
	conv = conv.Clone()

	s.mu.Lock()
	e, ok := s.byID[conv.ID]
	if !ok {
		e = &entry{conv: conv}
		s.byID[conv.ID] = e
		k := ownerKey{conv.UserID, conv.BookID}
		s.byOwner[k] = append(s.byOwner[k], e)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	e.mu.Lock()
	// ownership never changes after the first save
	conv.UserID, conv.BookID = e.conv.UserID, e.conv.BookID
	e.conv = conv
	e.mu.Unlock()
}

// Get returns the conversation with id if it belongs to userID.
func (s *Store) Get(id, userID string) (Conversation, bool) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Conversation{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv.UserID != userID {
		return Conversation{}, false
	}
	return e.conv.Clone(), true
}

// Update applies fn to the stored conversation while holding its lock.
// If fn fails nothing is written.
func (s *Store) Update(id, userID string, fn func(*Conversation) error) (Conversation, error) {
	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Conversation{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.conv.UserID != userID {
		return Conversation{}, ErrNotFound
	}
	work := e.conv.Clone()
	if err := fn(&work); err != nil {
		return Conversation{}, err
	}
	e.conv = work
	return work.Clone(), nil
}

// ListRecent returns up to limit conversations for (userID, bookID), most recently updated first.
func (s *Store) ListRecent(userID, bookID string, limit int) []Conversation {
	s.mu.RLock()
	entries := append([]*entry(nil), s.byOwner[ownerKey{userID, bookID}]...)
	s.mu.RUnlock()

	out := make([]Conversation, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.conv.Clone())
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Len is the total number of stored conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
