package progress

import (
	"context"
	"fmt"
	"sync"
)

const defaultStreamBuffer = 256

// stream is the Sink behind Hub.Subscribe.
type stream struct {
	events chan Event
	once   sync.Once
	mu     sync.RWMutex
	done   bool
}

func newStream(buffer int) *stream {
	if buffer <= 0 {
		buffer = defaultStreamBuffer
	}
	return &stream{events: make(chan Event, buffer)}
}

func (s *stream) Consume(ctx context.Context, batch []Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.done {
		return nil
	}
	for i, evt := range batch {
		select {
		case s.events <- evt:
		case <-ctx.Done():
			return fmt.Errorf("subscriber dropped %d events: %w", len(batch)-i, ctx.Err())
		}
	}
	return nil
}

func (s *stream) Close(context.Context) error {
	s.close()
	return nil
}

func (s *stream) close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		close(s.events)
		s.mu.Unlock()
	})
}
