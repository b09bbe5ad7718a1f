package messaging

import "context"

// MessageSender delivers user notifications.
// This keeps the engine independent of the transport (Kafka, logs, tests).
type MessageSender interface {
	SendNotification(ctx context.Context, n *Notification) error
}

// Notification sources
const (
	SourceTypeBazaar    = "bazaar"
	SourceSubIDOutbid   = "outbid"
	SourceSubIDUndercut = "undercut"
)

// Notification is the payload delivered to a user whose order stopped being best
type Notification struct {
	UserID      string `json:"userId"`
	Summary     string `json:"summary"`
	Message     string `json:"message"`
	Reference   string `json:"reference"`
	SourceType  string `json:"sourceType"`
	SourceSubID string `json:"sourceSubId"`
}
