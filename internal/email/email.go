// Package email renders and delivers the transactional mails of the auth
// flows, branded per site.
package email

import (
	"context"
	"log/slog"
)

// Message is one rendered transactional email.
type Message struct {
	FromEmail string
	FromName  string
	To        string
	Subject   string
	HTML      string
	Text      string
}

// Sender delivers rendered messages through a specific provider.
type Sender interface {
	Name() string
	Send(ctx context.Context, msg *Message) error
}

// LogSender logs messages instead of delivering them. It backs local
// development and environments without an email provider.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a sender that logs instead of sending.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return "log" }

// Send logs the message envelope. Bodies are omitted: they embed tokens.
func (s *LogSender) Send(ctx context.Context, msg *Message) error {
	s.logger.InfoContext(ctx, "email delivery skipped, logging only",
		slog.String("to", msg.To),
		slog.String("from", msg.FromEmail),
		slog.String("subject", msg.Subject),
	)
	return nil
}
