package auth

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/logging"
)

// Signer issues and verifies signed, time-bounded credentials.
type Signer interface {
	Sign(id Identity) (token string, expiresAt time.Time, err error)
	Verify(token string) (Identity, time.Time, error)
}

type liveToken struct {
	identity  Identity
	expiresAt time.Time
}

// Registry maps session tokens to identities. A token resolves only when its
// signature verifies and it is still in the live set, so logout works before expiry.
type Registry struct {
	signer Signer
	log    *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	live map[string]liveToken

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

type RegistryOption func(*Registry)

func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

func WithRegistryLogger(l *zap.Logger) RegistryOption {
	return func(r *Registry) { r.log = logging.OrNop(l) }
}

// NewRegistry starts a janitor pruning expired tokens every pruneEvery.
// pruneEvery <= 0 disables the janitor. Call Close to stop it.
func NewRegistry(signer Signer, pruneEvery time.Duration, opts ...RegistryOption) *Registry {
	r := &Registry{
		signer: signer,
		log:    zap.NewNop(),
		now:    time.Now,
		live:   make(map[string]liveToken),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	if pruneEvery > 0 {
		go r.pruneLoop(pruneEvery)
	} else {
		close(r.done)
	}
	return r
}

func (r *Registry) Issue(id Identity) (string, error) {
	tok, exp, err := r.signer.Sign(id)
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	r.live[tok] = liveToken{identity: id, expiresAt: exp}
	r.mu.Unlock()
	return tok, nil
}

// Resolve never fails loudly: every kind of bad token is simply "no session".
func (r *Registry) Resolve(token string) (Identity, bool) {
	if token == "" {
		return Identity{}, false
	}
	if _, _, err := r.signer.Verify(token); err != nil {
		return Identity{}, false
	}
	r.mu.RLock()
	lt, ok := r.live[token]
	r.mu.RUnlock()
	if !ok || !r.now().Before(lt.expiresAt) {
		return Identity{}, false
	}
	return lt.identity, true
}

func (r *Registry) Revoke(token string) {
	r.mu.Lock()
	delete(r.live, token)
	r.mu.Unlock()
}

// Prune drops live entries whose expiry is not after now and reports how many were removed.
func (r *Registry) Prune(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for tok, lt := range r.live {
		if !now.Before(lt.expiresAt) {
			delete(r.live, tok)
			n++
		}
	}
	return n
}

// Len is the number of live tokens.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.live)
}

func (r *Registry) Close() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *Registry) pruneLoop(every time.Duration) {
	defer close(r.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.Prune(r.now()); n > 0 {
				r.log.Debug("pruned expired sessions", zap.Int("count", n))
			}
		case <-r.stopCh:
			return
		}
	}
}
