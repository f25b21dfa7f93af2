package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/book-chat/internal/common"
)

type recordingPublisher struct {
	mu       sync.Mutex
	jobs     []string
	retries  []string
	delays   []time.Duration
	err      error
	retryErr error
}

func (p *recordingPublisher) PublishJob(ctx context.Context, jobID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.jobs = append(p.jobs, jobID)
	return nil
}

func (p *recordingPublisher) PublishRetry(ctx context.Context, jobID string, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.retryErr != nil {
		return p.retryErr
	}
	p.retries = append(p.retries, jobID)
	p.delays = append(p.delays, delay)
	return nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Job{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newJobFixture(t *testing.T) (*fixture, *recordingPublisher, *Repo) {
	t.Helper()
	f := newFixture(t, 100)
	repo := NewRepo(openTestDB(t))
	pub := &recordingPublisher{}
	f.svc.jobs = repo
	f.svc.publisher = pub
	return f, pub, repo
}

func TestJobs_Lifecycle(t *testing.T) {
	f, pub, _ := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")

	job, created, err := f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: question}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !created || job.Status != JobQueued {
		t.Fatalf("created=%v status=%s", created, job.Status)
	}
	if len(pub.jobs) != 1 || pub.jobs[0] != job.ID {
		t.Fatalf("published %v", pub.jobs)
	}

	// nothing is answered before a worker runs the job
	conv, _ := f.svc.GetConversation(ctx, alice, convID)
	if len(conv.Messages) != 0 {
		t.Fatalf("enqueue wrote %d messages", len(conv.Messages))
	}

	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("process: %v", err)
	}

	got, err := f.svc.GetJob(ctx, alice, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded || got.Reply == nil || *got.Reply != "ok" {
		t.Fatalf("job after processing: %+v", got)
	}
	conv, _ = f.svc.GetConversation(ctx, alice, convID)
	if len(conv.Messages) != 2 {
		t.Fatalf("want 2 messages after processing, got %d", len(conv.Messages))
	}

	// redelivery is a no-op
	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("reprocess: %v", err)
	}
	conv, _ = f.svc.GetConversation(ctx, alice, convID)
	if len(conv.Messages) != 2 {
		t.Fatalf("redelivery answered again: %d messages", len(conv.Messages))
	}

	_, err = f.svc.GetJob(ctx, bob, job.ID)
	assertKind(t, err, common.KindNotFound)
	_, err = f.svc.GetJob(ctx, alice, "missing")
	assertKind(t, err, common.KindNotFound)
}

func TestJobs_IdempotencyKey(t *testing.T) {
	f, pub, _ := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")
	req := AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: "hi"}

	first, created, err := f.svc.EnqueueAsk(ctx, req, "key-1")
	if err != nil || !created {
		t.Fatalf("first enqueue: created=%v err=%v", created, err)
	}
	again, created, err := f.svc.EnqueueAsk(ctx, req, "key-1")
	if err != nil {
		t.Fatalf("second enqueue: %v", err)
	}
	if created || again.ID != first.ID {
		t.Fatalf("want existing job %s, got %s (created=%v)", first.ID, again.ID, created)
	}
	if len(pub.jobs) != 1 {
		t.Fatalf("duplicate publish: %v", pub.jobs)
	}

	long := make([]byte, maxIdempotencyKeyLen+1)
	for i := range long {
		long[i] = 'k'
	}
	_, _, err = f.svc.EnqueueAsk(ctx, req, string(long))
	assertKind(t, err, common.KindInvalidRequest)
}

func TestJobs_FailedGenerationRetriesThenFails(t *testing.T) {
	f, pub, _ := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")

	job, _, err := f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: "hi"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.prov.err = errors.New("model overloaded")

	// each retry goes back to queued so the redelivered message can claim it
	for attempt := 1; attempt < maxJobAttempts; attempt++ {
		if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
			t.Fatalf("attempt %d: want requeue, got %v", attempt, err)
		}
		got, _ := f.svc.GetJob(ctx, alice, job.ID)
		if got.Status != JobQueued || got.Attempts != attempt {
			t.Fatalf("attempt %d: status=%s attempts=%d", attempt, got.Status, got.Attempts)
		}
	}
	wantDelays := []time.Duration{5 * time.Second, 10 * time.Second}
	if len(pub.retries) != maxJobAttempts-1 || pub.retries[0] != job.ID {
		t.Fatalf("retries = %v", pub.retries)
	}
	for i, d := range wantDelays {
		if pub.delays[i] != d {
			t.Fatalf("delay[%d] = %s, want %s", i, pub.delays[i], d)
		}
	}

	err = f.svc.ProcessJob(ctx, job.ID)
	assertKind(t, err, common.KindGenerationFailed)

	got, _ := f.svc.GetJob(ctx, alice, job.ID)
	if got.Status != JobFailed || got.Error == nil || *got.Error != "model overloaded" {
		t.Fatalf("job after failure: %+v", got)
	}
	if got.Attempts != maxJobAttempts {
		t.Fatalf("attempts = %d", got.Attempts)
	}
	conv, _ := f.svc.GetConversation(ctx, alice, convID)
	if len(conv.Messages) != 0 {
		t.Fatalf("failed job committed %d messages", len(conv.Messages))
	}
}

func TestJobs_RetrySucceedsOnRedelivery(t *testing.T) {
	f, pub, _ := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")

	job, _, err := f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: "hi"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.prov.err = errors.New("model overloaded")
	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if len(pub.retries) != 1 {
		t.Fatalf("retries = %v", pub.retries)
	}

	f.prov.err = nil
	if err := f.svc.ProcessJob(ctx, job.ID); err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	got, _ := f.svc.GetJob(ctx, alice, job.ID)
	if got.Status != JobSucceeded || got.Attempts != 2 {
		t.Fatalf("job = %+v", got)
	}
	conv, _ := f.svc.GetConversation(ctx, alice, convID)
	if len(conv.Messages) != 2 {
		t.Fatalf("want 2 messages, got %d", len(conv.Messages))
	}
}

func TestJobs_RetryPublishFailureMarksFailed(t *testing.T) {
	f, pub, _ := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")

	job, _, err := f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: "hi"}, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	f.prov.err = errors.New("model overloaded")
	pub.retryErr = errors.New("broker down")

	err = f.svc.ProcessJob(ctx, job.ID)
	assertKind(t, err, common.KindGenerationFailed)
	got, _ := f.svc.GetJob(ctx, alice, job.ID)
	if got.Status != JobFailed {
		t.Fatalf("status = %s", got.Status)
	}
}

func TestRetryDelay(t *testing.T) {
	for attempt, want := range map[int]time.Duration{0: 5 * time.Second, 1: 5 * time.Second, 2: 10 * time.Second, 3: 20 * time.Second} {
		if got := retryDelay(attempt); got != want {
			t.Fatalf("retryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestJobs_EnqueueValidatesAndPublishFailure(t *testing.T) {
	f, pub, repo := newJobFixture(t)
	ctx := context.Background()
	convID := f.newConversation(t, alice, "atomic-habits")

	_, _, err := f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: "missing", Message: "hi"}, "")
	assertKind(t, err, common.KindNotFound)
	_, _, err = f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: " "}, "")
	assertKind(t, err, common.KindInvalidRequest)

	pub.err = errors.New("broker down")
	_, _, err = f.svc.EnqueueAsk(ctx, AskRequest{Token: "tok-alice", BookID: "atomic-habits", ConversationID: convID, Message: "hi"}, "k")
	assertKind(t, err, common.KindInternal)

	stuck, err := repo.GetJobByUserAndIdempotencyKey(ctx, alice.ID, "k")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stuck.Status != JobFailed {
		t.Fatalf("unpublished job should be failed, got %s", stuck.Status)
	}
}

func TestJobs_Disabled(t *testing.T) {
	f := newFixture(t, 10)
	_, _, err := f.svc.EnqueueAsk(context.Background(), AskRequest{}, "")
	if !errors.Is(err, ErrAsyncDisabled) {
		t.Fatalf("want ErrAsyncDisabled, got %v", err)
	}
}
