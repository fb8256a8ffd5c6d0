package email

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/verdict/pkg/logger"
)

// LogSender writes messages to the log instead of sending them. Used when no
// delivery provider is configured.
type LogSender struct {
	log *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = logger.Discard()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email not sent, delivery disabled",
		logger.Component("email"),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
		slog.String("tag", msg.Tag),
		slog.Int("html_bytes", len(msg.HTML)),
	)
	return nil
}
