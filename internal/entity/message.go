package entity

import "time"

// MessageType classifies why an audit was paused.
type MessageType string

const (
	// MessageRateLimit: a provider signaled over-quota; retried automatically.
	MessageRateLimit MessageType = "rate_limit"
	// MessageDisconnected: a provider account needs reconnection.
	MessageDisconnected MessageType = "disconnected"
	// MessageEnvironment: a collaborator (storage, network) is unreachable.
	MessageEnvironment MessageType = "environment"
)

// Message is a structured, human-readable pause reason persisted in the
// state store so any later invocation can explain the halt to the user.
type Message struct {
	Type      MessageType `json:"type"`
	Provider  Provider    `json:"provider,omitempty"`
	Text      string      `json:"text"`
	CreatedAt time.Time   `json:"created_at"`
}
