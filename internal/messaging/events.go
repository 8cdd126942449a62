package messaging

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/logging"
)

// MatchedEvent is published on debate.matched when a debate is created.
type MatchedEvent struct {
	DebateID     string `json:"debate_id"`
	Topic        string `json:"topic"`
	Category     string `json:"category,omitempty"`
	Participant1 string `json:"participant1"`
	Participant2 string `json:"participant2"`
	WaitMillis   int64  `json:"wait_ms"`
	Ts           int64  `json:"ts"`
}

// EndedEvent is published on debate.ended when a debate is torn down.
type EndedEvent struct {
	DebateID        string `json:"debate_id"`
	Reason          string `json:"reason"`
	Rounds          int    `json:"rounds"`
	DurationSeconds int    `json:"duration_seconds"`
	Ts              int64  `json:"ts"`
}

// Publisher sends an event to a subject. Implementations must not block on
// slow consumers.
type Publisher interface {
	Publish(subject string, event interface{})
}

// EventPublisher JSON-encodes events and publishes them over NATS. Failures
// are logged and dropped: the audit trail is best effort.
type EventPublisher struct {
	client *NATSClient
	log    zerolog.Logger
}

// NewEventPublisher creates an EventPublisher on a connected client.
func NewEventPublisher(client *NATSClient) *EventPublisher {
	return &EventPublisher{client: client, log: logging.Component("events")}
}

// Publish implements Publisher.
func (p *EventPublisher) Publish(subject string, event interface{}) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error().Str("subject", subject).Err(err).Msg("encode event")
		return
	}
	if err := p.client.Publish(subject, data); err != nil {
		p.log.Warn().Str("subject", subject).Err(err).Msg("publish event")
	}
}

// NopPublisher discards events. It is used when no NATS URL is configured.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(string, interface{}) {}
