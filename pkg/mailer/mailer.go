package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Message is an outbound notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers a message to its recipient. Implementations wrap whatever
// transport the deployment uses; delivery failures are retried by the queue,
// never surfaced to request handlers.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. Default
// sink for development and tests.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender builds a log-backed sender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mail delivered",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
