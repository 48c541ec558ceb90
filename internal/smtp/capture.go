package smtp

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foxzi/gratulo/internal/queue"
)

// CaptureSender records messages instead of delivering them. It backs
// the queue dry run mode and tests.
type CaptureSender struct {
	mu     sync.Mutex
	logger *slog.Logger
	msgs   []*queue.Message
	limit  int
}

// NewCaptureSender creates a capturing sender retaining the most recent
// messages.
func NewCaptureSender(logger *slog.Logger) *CaptureSender {
	return &CaptureSender{logger: logger, limit: 1000}
}

// Send records the message and reports success.
func (s *CaptureSender) Send(ctx context.Context, msg *queue.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	if len(s.msgs) > s.limit {
		s.msgs = s.msgs[len(s.msgs)-s.limit:]
	}
	s.mu.Unlock()

	s.logger.Info("dry run: mail captured instead of sent",
		"to", queue.AnonymizeRecipient(msg.To),
		"subject", msg.Subject,
	)
	return nil
}

// Messages returns the captured messages, oldest first.
func (s *CaptureSender) Messages() []*queue.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*queue.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}
