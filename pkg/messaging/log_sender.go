package messaging

import (
	"context"

	"github.com/rs/zerolog"
)

// LogMessageSender writes notifications to the log. It is used when no
// notification transport is configured.
type LogMessageSender struct {
	logger zerolog.Logger
}

// NewLogMessageSender creates a sender logging through logger
func NewLogMessageSender(logger zerolog.Logger) *LogMessageSender {
	return &LogMessageSender{logger: logger}
}

// SendNotification logs n at info level
func (l *LogMessageSender) SendNotification(_ context.Context, n *Notification) error {
	l.logger.Info().
		Str("user_id", n.UserID).
		Str("summary", n.Summary).
		Str("reference", n.Reference).
		Str("source", n.SourceType+"/"+n.SourceSubID).
		Msg(n.Message)
	return nil
}

var _ MessageSender = (*LogMessageSender)(nil)
