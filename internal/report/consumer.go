package report

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/moderation"
)

// Sink persists moderation events. *Store satisfies it.
type Sink interface {
	SaveReport(ctx context.Context, ev moderation.ReportEvent) error
	SaveBan(ctx context.Context, ev moderation.BanEvent) error
}

// Consumer writes the moderation events published by the debate server into
// a Sink.
type Consumer struct {
	sink    Sink
	timeout time.Duration
	log     zerolog.Logger
}

// NewConsumer creates a Consumer over sink.
func NewConsumer(sink Sink) *Consumer {
	return &Consumer{
		sink:    sink,
		timeout: 5 * time.Second,
		log:     logging.Component("moderator"),
	}
}

// Subscribe registers the consumer for report and ban events.
func (c *Consumer) Subscribe(nc *messaging.NATSClient) error {
	for _, subject := range []string{messaging.SubjectModerationReport, messaging.SubjectModerationBan} {
		err := nc.Subscribe(subject, func(msg *nats.Msg) {
			if err := c.Handle(msg.Subject, msg.Data); err != nil {
				c.log.Error().Str("subject", msg.Subject).Err(err).Msg("event not stored")
			}
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Handle decodes one event published on subject and stores it.
func (c *Consumer) Handle(subject string, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	switch subject {
	case messaging.SubjectModerationReport:
		var ev moderation.ReportEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("report: decode report event: %w", err)
		}
		if err := c.sink.SaveReport(ctx, ev); err != nil {
			return err
		}
		c.log.Info().Str("target", ev.Target).Str("debate", ev.DebateID).Int("count", ev.Count).Msg("report stored")
	case messaging.SubjectModerationBan:
		var ev moderation.BanEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("report: decode ban event: %w", err)
		}
		if err := c.sink.SaveBan(ctx, ev); err != nil {
			return err
		}
		c.log.Warn().Str("identity", ev.Identity).Int("count", ev.Count).
			Time("until", time.UnixMilli(ev.Until)).Msg("ban stored")
	default:
		return fmt.Errorf("report: unexpected subject %q", subject)
	}
	return nil
}
