// Package ban stores temporary ban records keyed by moderation identity (a
// client fingerprint, or the connection ID when no fingerprint was sent).
//
// Two implementations exist. MemoryStore keeps records in a map and expires
// them lazily on read. RedisStore keeps one JSON value per identity:
//
//	Key:   ban:<identity>
//	Value: {"until":<unix ms>,"count":n,"reasons":[...],"reason":"..."}
//	TTL:   time left until the ban lifts
package ban

import (
	"context"
	"time"
)

// BanPrefix is the Redis key prefix for ban records.
const BanPrefix = "ban:"

// Record describes an active ban.
type Record struct {
	Until   time.Time `json:"until"`
	Count   int       `json:"count"`   // reports inside the window when the ban was issued
	Reasons []string  `json:"reasons"` // reasons of those reports
	Reason  string    `json:"reason"`  // human-readable ban notice
}

// Remaining returns the time left on the ban relative to now, never negative.
func (r *Record) Remaining(now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	d := r.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Store persists ban records. Get returns (nil, nil) when the identity is not
// banned or its ban has lapsed.
type Store interface {
	Get(ctx context.Context, identity string) (*Record, error)
	Put(ctx context.Context, identity string, rec Record) error
	Delete(ctx context.Context, identity string) error
}
