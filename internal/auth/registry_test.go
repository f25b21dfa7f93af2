package auth

import (
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, clock *fakeClock) *Registry {
	t.Helper()
	signer := NewJWTSigner("test-secret", 7*24*time.Hour)
	if clock != nil {
		signer.now = clock.Now
	}
	opts := []RegistryOption{}
	if clock != nil {
		opts = append(opts, WithClock(clock.Now))
	}
	r := NewRegistry(signer, 0, opts...)
	t.Cleanup(r.Close)
	return r
}

var alice = Identity{ID: "01ALICE", Email: "alice@example.com", DisplayName: "Alice", Provider: "email"}

func TestRegistry_IssueResolve(t *testing.T) {
	r := newTestRegistry(t, nil)

	tok, err := r.Issue(alice)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, ok := r.Resolve(tok)
	if !ok {
		t.Fatal("expected token to resolve")
	}
	if got != alice {
		t.Fatalf("resolved %+v, want %+v", got, alice)
	}
}

func TestRegistry_MultipleLiveTokensPerIdentity(t *testing.T) {
	r := newTestRegistry(t, nil)

	t1, _ := r.Issue(alice)
	t2, _ := r.Issue(alice)
	if t1 == t2 {
		t.Fatal("tokens should be distinct")
	}
	r.Revoke(t1)
	if _, ok := r.Resolve(t1); ok {
		t.Fatal("revoked token resolved")
	}
	if _, ok := r.Resolve(t2); !ok {
		t.Fatal("other device's token should still resolve")
	}
}

func TestRegistry_RevokeIsFinalAndIdempotent(t *testing.T) {
	r := newTestRegistry(t, nil)
	tok, _ := r.Issue(alice)

	r.Revoke(tok)
	r.Revoke(tok)
	r.Revoke("never-issued")

	for i := 0; i < 3; i++ {
		if _, ok := r.Resolve(tok); ok {
			t.Fatal("revoked token must never resolve again")
		}
	}
}

func TestRegistry_BadTokensResolveToNone(t *testing.T) {
	r := newTestRegistry(t, nil)
	tok, _ := r.Issue(alice)

	other := NewJWTSigner("other-secret", time.Hour)
	foreign, _, err := other.Sign(alice)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(tok, ".")
	tampered := parts[0] + "." + parts[1] + "x." + parts[2]

	for name, in := range map[string]string{
		"empty":    "",
		"garbage":  "not-a-token",
		"dots":     "...",
		"foreign":  foreign,
		"tampered": tampered,
	} {
		if _, ok := r.Resolve(in); ok {
			t.Errorf("%s: expected no session", name)
		}
	}
}

func TestRegistry_SignedButNotLive(t *testing.T) {
	signer := NewJWTSigner("test-secret", time.Hour)
	r := NewRegistry(signer, 0)
	defer r.Close()

	// valid signature, but never recorded by this registry (e.g. issued before a restart)
	tok, _, err := signer.Sign(alice)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, ok := r.Resolve(tok); ok {
		t.Fatal("token outside the live set must not resolve")
	}
}

func TestRegistry_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := newTestRegistry(t, clock)

	tok, err := r.Issue(alice)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	clock.Advance(7*24*time.Hour - time.Minute)
	if _, ok := r.Resolve(tok); !ok {
		t.Fatal("token should be valid just before expiry")
	}

	clock.Advance(2 * time.Minute)
	if _, ok := r.Resolve(tok); ok {
		t.Fatal("expired token resolved")
	}
	if n := r.Prune(clock.Now()); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if r.Len() != 0 {
		t.Fatalf("live set size %d after prune", r.Len())
	}
}

func TestRegistry_JanitorStops(t *testing.T) {
	r := NewRegistry(NewJWTSigner("s", time.Hour), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	r.Close()
	r.Close()
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := newTestRegistry(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := r.Issue(alice)
			if err != nil {
				t.Errorf("Issue: %v", err)
				return
			}
			if _, ok := r.Resolve(tok); !ok {
				t.Error("fresh token did not resolve")
			}
			r.Revoke(tok)
		}()
	}
	wg.Wait()
	if r.Len() != 0 {
		t.Fatalf("live set size %d, want 0", r.Len())
	}
}
