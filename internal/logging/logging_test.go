package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := setup(&buf, "info", "json"); err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	lg := Component("test")
	lg.Info().Str("conn", "c1").Msg("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if line["component"] != "test" {
		t.Errorf("expected component=test, got %v", line["component"])
	}
	if line["conn"] != "c1" {
		t.Errorf("expected conn=c1, got %v", line["conn"])
	}
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	if err := setup(&buf, "warn", "json"); err != nil {
		t.Fatalf("setup() error: %v", err)
	}
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	log.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Errorf("expected info to be filtered at warn level, got %q", buf.String())
	}
}

func TestSetup_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		level  string
		format string
	}{
		{"bad level", "loud", "json"},
		{"empty level", "", "json"},
		{"bad format", "info", "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := setup(&bytes.Buffer{}, tt.level, tt.format); err == nil {
				t.Errorf("expected error for level=%q format=%q", tt.level, tt.format)
			}
		})
	}
}
