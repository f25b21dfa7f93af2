package chat

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/suPer8Hu/book-chat/internal/ai"
	"github.com/suPer8Hu/book-chat/internal/common"
)

// Stream delivers an answer in pieces. Done yields exactly one value once Chunks is
// closed: nil when the exchange was committed, the failure otherwise.
type Stream struct {
	Chunks <-chan string
	Done   <-chan error
}

// AskStream is Ask with incremental delivery. Admission, validation and retrieval
// errors are returned directly; generation errors arrive on Done. The exchange is
// committed only after the provider stream ends without error, whether or not the
// caller is still reading.
func (s *Service) AskStream(ctx context.Context, req AskRequest) (*Stream, error) {
	id, err := s.Admit(ctx, req.Token, req.ClientAddr)
	if err != nil {
		return nil, err
	}
	t, err := s.prepare(ctx, id, req.BookID, req.ConversationID, req.Message)
	if err != nil {
		s.metrics.RecordAsk(outcomeOf(err))
		return nil, err
	}

	out := make(chan string, 16)
	done := make(chan error, 1)

	go func() {
		defer close(done)
		err := s.streamTurn(ctx, t, out)
		close(out)
		s.metrics.RecordAsk(outcomeOf(err))
		done <- err
	}()

	return &Stream{Chunks: out, Done: done}, nil
}

func (s *Service) streamTurn(ctx context.Context, t turn, out chan<- string) error {
	gctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.genTimeout)
	defer cancel()

	pChunks, pErrs := ai.Stream(gctx, s.provider, t.prompt)

	start := time.Now()
	clientGone := false
	var b strings.Builder
	for c := range pChunks {
		b.WriteString(c)
		if clientGone {
			continue
		}
		select {
		case out <- c:
		case <-ctx.Done():
			// keep draining so the answer is still recorded
			clientGone = true
		}
	}
	s.metrics.RecordGenerationLatency(time.Since(start))

	if err, ok := <-pErrs; ok && err != nil {
		s.log.Warn("stream generation failed",
			zap.String("user_id", t.identity.ID),
			zap.String("conversation_id", t.convID),
			zap.Error(err),
		)
		return common.Wrap(common.KindGenerationFailed, err.Error(), err)
	}

	reply := b.String()
	if strings.TrimSpace(reply) == "" {
		reply = fallbackReply
		if !clientGone {
			select {
			case out <- reply:
			case <-ctx.Done():
			}
		}
	}
	return s.commit(t, reply)
}
