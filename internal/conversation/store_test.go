package conversation

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// frozen returns a clock that never advances, to exercise the strictly-increasing UpdatedAt rule.
func frozen(t time.Time) func() time.Time { return func() time.Time { return t } }

func seqIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func TestCreate_NotVisibleUntilSaved(t *testing.T) {
	s := NewStore(WithClock(frozen(base)))
	c := s.Create("u1", "atomic-habits")

	if c.ID == "" || !c.CreatedAt.Equal(base) || !c.UpdatedAt.Equal(base) || len(c.Messages) != 0 {
		t.Fatalf("unexpected new conversation %+v", c)
	}
	if _, ok := s.Get(c.ID, "u1"); ok {
		t.Fatal("unsaved conversation should not be found")
	}
	s.Save(c)
	if _, ok := s.Get(c.ID, "u1"); !ok {
		t.Fatal("saved conversation not found")
	}
}

func TestAppend_OrderAndStrictlyIncreasingUpdatedAt(t *testing.T) {
	s := NewStore(WithClock(frozen(base)), WithIDs(seqIDs()))
	c := s.Create("u1", "b1")

	prev := c.UpdatedAt
	var want []string
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		m := s.Append(&c, role, fmt.Sprintf("m%d", i))
		want = append(want, m.ID)
		if !c.UpdatedAt.After(prev) {
			t.Fatalf("UpdatedAt did not increase: %s -> %s", prev, c.UpdatedAt)
		}
		prev = c.UpdatedAt
	}
	s.Save(c)

	got, _ := s.Get(c.ID, "u1")
	var ids []string
	for _, m := range got.Messages {
		ids = append(ids, m.ID)
	}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Fatalf("message order mismatch (-want +got):\n%s", diff)
	}
}

func TestGet_ScopedToUser(t *testing.T) {
	s := NewStore()
	c := s.Create("alice", "b1")
	s.Save(c)

	if _, ok := s.Get(c.ID, "mallory"); ok {
		t.Fatal("another user must not read the conversation")
	}
	if _, err := s.Update(c.ID, "mallory", func(*Conversation) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Update by another user: %v", err)
	}
	if _, ok := s.Get("missing", "alice"); ok {
		t.Fatal("unknown id found")
	}
}

func TestGet_ReturnsIndependentCopy(t *testing.T) {
	s := NewStore()
	c := s.Create("u", "b")
	s.Append(&c, RoleUser, "hi")
	s.Save(c)

	got, _ := s.Get(c.ID, "u")
	s.Append(&got, RoleAssistant, "not saved")

	again, _ := s.Get(c.ID, "u")
	if len(again.Messages) != 1 {
		t.Fatalf("unsaved append leaked into the store: %d messages", len(again.Messages))
	}
}

func TestSave_Upsert(t *testing.T) {
	s := NewStore()
	c := s.Create("u", "b")
	s.Save(c)
	s.Append(&c, RoleUser, "hello")
	s.Save(c)

	if s.Len() != 1 {
		t.Fatalf("Len = %d after upsert", s.Len())
	}
	if list := s.ListRecent("u", "b", 10); len(list) != 1 || len(list[0].Messages) != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestListRecent_OrderAndLimit(t *testing.T) {
	now := base
	s := NewStore(WithClock(func() time.Time { return now }))

	var ids []string
	for i := 0; i < 7; i++ {
		now = base.Add(time.Duration(i) * time.Minute)
		c := s.Create("u", "book")
		s.Save(c)
		ids = append(ids, c.ID)
	}
	// touch the oldest one so it becomes the most recent
	now = base.Add(time.Hour)
	if _, err := s.Update(ids[0], "u", func(c *Conversation) error {
		s.Append(c, RoleUser, "bump")
		return nil
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	other := s.Create("u", "other-book")
	s.Save(other)

	got := s.ListRecent("u", "book", 5)
	var gotIDs []string
	for _, c := range got {
		gotIDs = append(gotIDs, c.ID)
	}
	want := []string{ids[0], ids[6], ids[5], ids[4], ids[3]}
	if diff := cmp.Diff(want, gotIDs); diff != "" {
		t.Fatalf("ListRecent mismatch (-want +got):\n%s", diff)
	}
	if n := len(s.ListRecent("u", "nothing", 5)); n != 0 {
		t.Fatalf("expected empty list, got %d", n)
	}
}

func TestUpdate_FailureWritesNothing(t *testing.T) {
	s := NewStore()
	c := s.Create("u", "b")
	s.Save(c)

	boom := errors.New("boom")
	_, err := s.Update(c.ID, "u", func(c *Conversation) error {
		s.Append(c, RoleUser, "partial")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	got, _ := s.Get(c.ID, "u")
	if len(got.Messages) != 0 {
		t.Fatal("failed update left a partial append")
	}
}

func TestUpdate_ConcurrentWritersNoLostUpdates(t *testing.T) {
	s := NewStore()
	c := s.Create("u", "b")
	s.Save(c)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Update(c.ID, "u", func(c *Conversation) error {
				s.Append(c, RoleUser, fmt.Sprintf("q%d", i))
				s.Append(c, RoleAssistant, fmt.Sprintf("a%d", i))
				return nil
			})
			if err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, _ := s.Get(c.ID, "u")
	if len(got.Messages) != 2*n {
		t.Fatalf("got %d messages, want %d", len(got.Messages), 2*n)
	}
	seen := map[string]bool{}
	for i := 0; i < len(got.Messages); i += 2 {
		q, a := got.Messages[i], got.Messages[i+1]
		if q.Role != RoleUser || a.Role != RoleAssistant || q.Content[1:] != a.Content[1:] {
			t.Fatalf("pair %d interleaved: %q / %q", i/2, q.Content, a.Content)
		}
		for _, m := range []Message{q, a} {
			if seen[m.ID] {
				t.Fatalf("duplicate message id %s", m.ID)
			}
			seen[m.ID] = true
		}
	}
}

func TestRecent(t *testing.T) {
	c := Conversation{}
	for i := 0; i < 6; i++ {
		c.Messages = append(c.Messages, Message{Content: fmt.Sprint(i)})
	}
	got := c.Recent(4)
	if len(got) != 4 || got[0].Content != "2" || got[3].Content != "5" {
		t.Fatalf("Recent(4) = %+v", got)
	}
	if len(c.Recent(10)) != 6 || c.Recent(0) != nil {
		t.Fatal("Recent bounds")
	}
}
