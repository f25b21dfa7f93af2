package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/suPer8Hu/book-chat/internal/auth"
	"github.com/suPer8Hu/book-chat/internal/common"
)

const (
	maxIdempotencyKeyLen = 128

	// A job whose generation failed is retried until it has been claimed this many times.
	maxJobAttempts = 3
	retryBaseDelay = 5 * time.Second
)

// ErrAsyncDisabled is returned by EnqueueAsk when no job queue is configured.
var ErrAsyncDisabled = errors.New("async asks are disabled")

type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
	// PublishRetry redelivers jobID after delay.
	PublishRetry(ctx context.Context, jobID string, delay time.Duration) error
}

// retryDelay doubles per attempt: 5s, 10s, 20s...
func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return retryBaseDelay << (attempt - 1)
}

// EnqueueAsk admits the caller, checks the request and queues it for a worker.
// With an idempotency key, repeating the call returns the original job without
// queueing it again. The bool reports whether a new job was created.
func (s *Service) EnqueueAsk(ctx context.Context, req AskRequest, idempotencyKey string) (*Job, bool, error) {
	if s.jobs == nil || s.publisher == nil {
		return nil, false, ErrAsyncDisabled
	}

	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if len(idempotencyKey) > maxIdempotencyKeyLen {
		return nil, false, common.E(common.KindInvalidRequest, "idempotency key too long")
	}

	id, err := s.Admit(ctx, req.Token, req.ClientAddr)
	if err != nil {
		return nil, false, err
	}

	if strings.TrimSpace(req.BookID) == "" || strings.TrimSpace(req.ConversationID) == "" || strings.TrimSpace(req.Message) == "" {
		return nil, false, common.E(common.KindInvalidRequest, "bookId, conversationId and message are required")
	}
	if _, ok := s.catalog.Get(req.BookID); !ok {
		return nil, false, common.E(common.KindNotFound, "book not found")
	}
	if conv, ok := s.store.Get(req.ConversationID, id.ID); !ok || conv.BookID != req.BookID {
		return nil, false, common.E(common.KindNotFound, "conversation not found")
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, false, common.Wrap(common.KindInternal, "", err)
	}

	var keyPtr *string
	if idempotencyKey != "" {
		keyPtr = &idempotencyKey
	}
	j := &Job{
		ID:             jobID,
		UserID:         id.ID,
		BookID:         req.BookID,
		ConversationID: req.ConversationID,
		Prompt:         req.Message,
		IdempotencyKey: keyPtr,
		Status:         JobQueued,
	}

	job, created, err := s.jobs.CreateJobOrGetExisting(ctx, j)
	if err != nil {
		s.log.Error("create job failed", zap.String("user_id", id.ID), zap.String("job_id", jobID), zap.Error(err))
		return nil, false, common.Wrap(common.KindInternal, "", err)
	}

	// enqueue only when a new job was created
	if created {
		if err := s.publisher.PublishJob(ctx, job.ID); err != nil {
			s.log.Error("publish job failed", zap.String("job_id", job.ID), zap.Error(err))
			_ = s.jobs.MarkJobFailed(context.WithoutCancel(ctx), job.ID, "enqueue failed")
			return nil, false, common.Wrap(common.KindInternal, "", err)
		}
	}
	return job, created, nil
}

// ProcessJob answers a queued job and records the outcome on the job row.
// Jobs that are no longer queued are skipped, so redelivered messages are harmless.
// Generation failures are requeued with backoff until maxJobAttempts; other
// failures mark the job failed and are returned.
func (s *Service) ProcessJob(ctx context.Context, jobID string) error {
	if s.jobs == nil {
		return ErrAsyncDisabled
	}

	claimed, err := s.jobs.MarkJobRunning(ctx, jobID)
	if err != nil {
		return err
	}
	j, err := s.jobs.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		msg := "job already taken"
		if j.Status.Terminal() {
			msg = "job already finished"
		}
		s.log.Info(msg, zap.String("job_id", jobID), zap.String("status", string(j.Status)))
		return nil
	}

	reply, err := s.AnswerAs(ctx, auth.Identity{ID: j.UserID}, j.BookID, j.ConversationID, j.Prompt)
	if err != nil {
		if common.KindOf(err) == common.KindGenerationFailed && j.Attempts < maxJobAttempts {
			rerr := s.retryJob(ctx, j)
			if rerr == nil {
				s.metrics.RecordJob("retried")
				return nil
			}
			s.log.Error("retry job failed", zap.String("job_id", jobID), zap.Error(rerr))
		}
		if merr := s.jobs.MarkJobFailed(ctx, jobID, common.PublicMessage(err)); merr != nil {
			s.log.Error("mark job failed", zap.String("job_id", jobID), zap.Error(merr))
		}
		s.metrics.RecordJob(string(JobFailed))
		return err
	}

	if err := s.jobs.MarkJobSucceeded(ctx, jobID, reply); err != nil {
		return err
	}
	s.metrics.RecordJob(string(JobSucceeded))
	return nil
}

func (s *Service) retryJob(ctx context.Context, j *Job) error {
	if s.publisher == nil {
		return ErrAsyncDisabled
	}
	requeued, err := s.jobs.RequeueJob(ctx, j.ID)
	if err != nil {
		return err
	}
	if !requeued {
		return errors.New("job is no longer running")
	}
	delay := retryDelay(j.Attempts)
	if err := s.publisher.PublishRetry(ctx, j.ID, delay); err != nil {
		return err
	}
	s.log.Warn("job requeued",
		zap.String("job_id", j.ID),
		zap.Int("attempt", j.Attempts),
		zap.Duration("delay", delay),
	)
	return nil
}

// GetJob returns the job if it belongs to id. Other users' jobs are reported as not found.
func (s *Service) GetJob(ctx context.Context, id auth.Identity, jobID string) (*Job, error) {
	if s.jobs == nil {
		return nil, ErrAsyncDisabled
	}
	if strings.TrimSpace(jobID) == "" {
		return nil, common.E(common.KindInvalidRequest, "job_id required")
	}
	j, err := s.jobs.GetJobByID(ctx, jobID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.E(common.KindNotFound, "job not found")
	}
	if err != nil {
		return nil, common.Wrap(common.KindInternal, "", err)
	}
	if j.UserID != id.ID {
		// hide existence
		return nil, common.E(common.KindNotFound, "job not found")
	}
	return j, nil
}
