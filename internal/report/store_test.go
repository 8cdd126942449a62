package report

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hottake/debate-app/internal/moderation"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}
	if err := Migrate(url); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	db, err := Open(context.Background(), url)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestSaveReportAndCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	target := "test:" + uuid.NewString()
	t.Cleanup(func() {
		s.db.Exec(`DELETE FROM debate_reports WHERE target = $1`, target)
	})

	now := time.Now()
	for i := 0; i < 2; i++ {
		err := s.SaveReport(ctx, moderation.ReportEvent{
			Target:   target,
			Reporter: "reporter",
			Reason:   "rude",
			Count:    i + 1,
			Ts:       now.UnixMilli(),
		})
		if err != nil {
			t.Fatalf("SaveReport() error: %v", err)
		}
	}
	old := moderation.ReportEvent{Target: target, Reporter: "r", Reason: "old", Count: 1, Ts: now.Add(-48 * time.Hour).UnixMilli()}
	if err := s.SaveReport(ctx, old); err != nil {
		t.Fatalf("SaveReport(old) error: %v", err)
	}

	count, err := s.CountRecent(ctx, target, 24*time.Hour)
	if err != nil {
		t.Fatalf("CountRecent() error: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 recent reports, got %d", count)
	}
}

func TestSaveReport_Validation(t *testing.T) {
	s := &Store{}
	if err := s.SaveReport(context.Background(), moderation.ReportEvent{Reporter: "r"}); err == nil {
		t.Error("expected error for missing target")
	}
	if err := s.SaveBan(context.Background(), moderation.BanEvent{}); err == nil {
		t.Error("expected error for missing identity")
	}
}

func TestSaveBanAndActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	identity := "test:" + uuid.NewString()
	t.Cleanup(func() {
		s.db.Exec(`DELETE FROM debate_bans WHERE identity = $1`, identity)
	})

	now := time.Now()
	err := s.SaveBan(ctx, moderation.BanEvent{
		Identity: identity,
		Until:    now.Add(24 * time.Hour).UnixMilli(),
		Count:    3,
		Reasons:  []string{"rude", "spam", "trolling"},
		Reason:   moderation.BanNotice,
		Ts:       now.UnixMilli(),
	})
	if err != nil {
		t.Fatalf("SaveBan() error: %v", err)
	}

	bans, err := s.ActiveBans(ctx, now)
	if err != nil {
		t.Fatalf("ActiveBans() error: %v", err)
	}
	var found *Ban
	for i := range bans {
		if bans[i].Identity == identity {
			found = &bans[i]
		}
	}
	if found == nil {
		t.Fatal("expected the new ban among active bans")
	}
	if found.ReportCount != 3 || len(found.Reasons) != 3 {
		t.Errorf("unexpected ban: %+v", found)
	}

	later, err := s.ActiveBans(ctx, now.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("ActiveBans() error: %v", err)
	}
	for _, b := range later {
		if b.Identity == identity {
			t.Error("ban should have lapsed")
		}
	}
}
