// Package worker runs queued ask jobs on a bounded pool of goroutines.
package worker

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/logging"
	"github.com/suPer8Hu/book-chat/internal/store/rabbitmq"
)

// Message is one queued job delivery.
type Message struct {
	Body []byte
	Ack  func() error
	// Nack rejects the message; without requeue it goes to the dead-letter queue.
	Nack func(requeue bool) error
}

// FromAMQP adapts RabbitMQ deliveries. The returned channel closes when deliveries
// closes or ctx is done; a delivery nobody took by then is requeued.
func FromAMQP(ctx context.Context, deliveries <-chan amqp.Delivery) <-chan Message {
	out := make(chan Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			m := Message{
				Body: d.Body,
				Ack:  func() error { return d.Ack(false) },
				Nack: func(requeue bool) error { return d.Nack(false, requeue) },
			}
			select {
			case out <- m:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out
}

// Handler processes one job. A returned error rejects the message.
type Handler func(ctx context.Context, jobID string) error

type Pool struct {
	concurrency int
	handle      Handler
	slowAfter   time.Duration
	log         *zap.Logger
}

func NewPool(concurrency int, handle Handler, log *zap.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}
	return &Pool{
		concurrency: concurrency,
		handle:      handle,
		slowAfter:   2 * time.Second,
		log:         logging.OrNop(log),
	}
}

// Run dispatches msgs to the pool until ctx is done or msgs is closed, then waits
// for in-flight jobs. Jobs already started are not cancelled by ctx.
func (p *Pool) Run(ctx context.Context, msgs <-chan Message) {
	p.log.Info("worker started", zap.Int("concurrency", p.concurrency))

	jobs := make(chan Message, p.concurrency*2)
	var wg sync.WaitGroup
	wg.Add(p.concurrency)
	for i := 0; i < p.concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for m := range jobs {
				p.process(context.WithoutCancel(ctx), workerID, m)
			}
		}(i)
	}

	defer func() {
		close(jobs)
		wg.Wait()
		p.log.Info("worker stopped")
	}()

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				p.log.Warn("delivery channel closed")
				return
			}
			select {
			case jobs <- m:
			case <-ctx.Done():
				// not started; let the broker redeliver it
				_ = m.Nack(true)
				return
			}
		}
	}
}

func (p *Pool) process(ctx context.Context, workerID int, m Message) {
	jobID, err := rabbitmq.DecodeJob(m.Body)
	if err != nil {
		p.log.Warn("bad message", zap.Int("worker", workerID), zap.Error(err))
		_ = m.Nack(false)
		return
	}

	start := time.Now()
	if err := p.handle(ctx, jobID); err != nil {
		p.log.Warn("job failed",
			zap.Int("worker", workerID),
			zap.String("job_id", jobID),
			zap.Duration("cost", time.Since(start)),
			zap.Error(err),
		)
		_ = m.Nack(false)
		return
	}

	if cost := time.Since(start); cost > p.slowAfter {
		p.log.Info("slow job", zap.String("job_id", jobID), zap.Duration("cost", cost))
	}
	if err := m.Ack(); err != nil {
		p.log.Warn("ack failed", zap.Int("worker", workerID), zap.String("job_id", jobID), zap.Error(err))
	}
}
