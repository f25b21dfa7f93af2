package ai

import "context"

// StreamProvider is an optional interface. Providers may implement streaming chat.
// Both channels are closed when the stream ends; at most one error is sent.
type StreamProvider interface {
	StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error)
}

// Collect drains a stream into a single string. Used when a caller needs
// the whole reply from a provider that only streams.
func Collect(chunks <-chan string, errs <-chan error) (string, error) {
	var out []byte
	for c := range chunks {
		out = append(out, c...)
	}
	if err, ok := <-errs; ok && err != nil {
		return "", err
	}
	return string(out), nil
}

// Stream streams from p natively when it is a StreamProvider. Otherwise the
// whole Chat reply is emitted as a single chunk.
func Stream(ctx context.Context, p Provider, messages []Message) (<-chan string, <-chan error) {
	if sp, ok := p.(StreamProvider); ok {
		return sp.StreamChat(ctx, messages)
	}
	chunks := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		reply, err := p.Chat(ctx, messages)
		if err != nil {
			errs <- err
			return
		}
		chunks <- reply
	}()
	return chunks, errs
}

// failedStream is a stream that ends immediately with err.
func failedStream(err error) (<-chan string, <-chan error) {
	chunks := make(chan string)
	errs := make(chan error, 1)
	close(chunks)
	errs <- err
	close(errs)
	return chunks, errs
}
