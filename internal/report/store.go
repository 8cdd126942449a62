// Package report provides PostgreSQL-backed storage for the moderation audit
// trail. Every accepted report and every automatic ban published by the
// debate server is kept for moderator review.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hottake/debate-app/internal/moderation"
)

// MaxReasonLength matches the reason column width.
const MaxReasonLength = 200

// Store manages audit records in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to databaseURL with the lib/pq driver and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("report: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("report: ping: %w", err)
	}
	return db, nil
}

// SaveReport inserts one report event.
func (s *Store) SaveReport(ctx context.Context, ev moderation.ReportEvent) error {
	if ev.Target == "" || ev.Reporter == "" {
		return fmt.Errorf("report: report without target or reporter")
	}
	reason := ev.Reason
	if len(reason) > MaxReasonLength {
		reason = reason[:MaxReasonLength]
	}

	const query = `
		INSERT INTO debate_reports (target, reporter, reason, debate_id, window_count, reported_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		ev.Target,
		ev.Reporter,
		reason,
		ev.DebateID,
		ev.Count,
		time.UnixMilli(ev.Ts).UTC(),
	)
	if err != nil {
		return fmt.Errorf("report: insert report: %w", err)
	}
	return nil
}

// SaveBan inserts one ban event.
func (s *Store) SaveBan(ctx context.Context, ev moderation.BanEvent) error {
	if ev.Identity == "" {
		return fmt.Errorf("report: ban without identity")
	}

	const query = `
		INSERT INTO debate_bans (identity, banned_until, report_count, reasons, notice, banned_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		ev.Identity,
		time.UnixMilli(ev.Until).UTC(),
		ev.Count,
		pq.Array(ev.Reasons),
		ev.Reason,
		time.UnixMilli(ev.Ts).UTC(),
	)
	if err != nil {
		return fmt.Errorf("report: insert ban: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against target within the
// given window.
func (s *Store) CountRecent(ctx context.Context, target string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM debate_reports
		WHERE target = $1
		  AND reported_at >= $2`

	var count int
	since := time.Now().Add(-window).UTC()
	if err := s.db.QueryRowContext(ctx, query, target, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}

// Ban is one stored ban.
type Ban struct {
	Identity    string
	BannedUntil time.Time
	ReportCount int
	Reasons     []string
	BannedAt    time.Time
}

// ActiveBans returns the bans still running at now, latest first.
func (s *Store) ActiveBans(ctx context.Context, now time.Time) ([]Ban, error) {
	const query = `
		SELECT identity, banned_until, report_count, reasons, banned_at
		FROM debate_bans
		WHERE banned_until > $1
		ORDER BY banned_at DESC`

	rows, err := s.db.QueryContext(ctx, query, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("report: active bans: %w", err)
	}
	defer rows.Close()

	var out []Ban
	for rows.Next() {
		var b Ban
		if err := rows.Scan(&b.Identity, &b.BannedUntil, &b.ReportCount, pq.Array(&b.Reasons), &b.BannedAt); err != nil {
			return nil, fmt.Errorf("report: scan ban: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: active bans: %w", err)
	}
	return out, nil
}
