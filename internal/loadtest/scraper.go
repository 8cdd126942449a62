package loadtest

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"github.com/prometheus/common/model"
)

// snapshot holds the server metrics the report cares about at one instant.
type snapshot struct {
	at          time.Time
	connections float64
	debates     float64
	queue       float64
	spectators  float64
	relayed     float64
	waitSum     float64
	waitCount   float64
}

// Scraper polls the server's /metrics endpoint during a run.
type Scraper struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu    sync.Mutex
	snaps []snapshot

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScraper creates a scraper for metricsURL.
func NewScraper(metricsURL string, interval time.Duration) *Scraper {
	return &Scraper{
		url:      metricsURL,
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		done:     make(chan struct{}),
	}
}

// Start scrapes once now and then every interval until Stop or ctx ends.
func (s *Scraper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.scrapeOnce(ctx)
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.scrapeOnce(context.Background())
				return
			case <-ticker.C:
				s.scrapeOnce(ctx)
			}
		}
	}()
}

// Stop ends scraping and waits for the final snapshot.
func (s *Scraper) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

// scrapeOnce records a snapshot; failed scrapes are skipped since the server
// may not be up yet.
func (s *Scraper) scrapeOnce(ctx context.Context) {
	snap, err := s.fetch(ctx)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
}

func (s *Scraper) fetch(ctx context.Context) (snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return snapshot{}, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return snapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return snapshot{}, fmt.Errorf("metrics: status %d", resp.StatusCode)
	}
	return parseSnapshot(resp.Body)
}

func parseSnapshot(r io.Reader) (snapshot, error) {
	parser := expfmt.NewTextParser(model.UTF8Validation)
	families, err := parser.TextToMetricFamilies(r)
	if err != nil {
		return snapshot{}, err
	}
	snap := snapshot{at: time.Now()}
	snap.connections = sumValues(families["debate_connections_total"])
	snap.debates = sumValues(families["debate_active_debates"])
	snap.queue = sumValues(families["debate_match_queue_size"])
	snap.spectators = sumValues(families["debate_spectators"])
	snap.relayed = sumValues(families["debate_relayed_total"])
	if mf := families["debate_match_wait_seconds"]; mf != nil {
		for _, m := range mf.GetMetric() {
			snap.waitSum += m.GetHistogram().GetSampleSum()
			snap.waitCount += float64(m.GetHistogram().GetSampleCount())
		}
	}
	return snap, nil
}

// sumValues adds up every labelled series of a gauge or counter family.
func sumValues(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.GetGauge() != nil:
			total += m.GetGauge().GetValue()
		case m.GetCounter() != nil:
			total += m.GetCounter().GetValue()
		case m.GetUntyped() != nil:
			total += m.GetUntyped().GetValue()
		}
	}
	return total
}

// Report writes initial, final and peak values of the scraped metrics.
func (s *Scraper) Report(w io.Writer) {
	s.mu.Lock()
	snaps := append([]snapshot(nil), s.snaps...)
	s.mu.Unlock()

	if len(snaps) == 0 {
		fmt.Fprintln(w, "\n--- Server Metrics (no data collected) ---")
		return
	}
	first, last := snaps[0], snaps[len(snaps)-1]
	fmt.Fprintf(w, "\n--- Server Metrics: %d snapshots over %s ---\n",
		len(snaps), last.at.Sub(first.at).Round(time.Second))

	rows := []struct {
		label string
		get   func(snapshot) float64
	}{
		{"Connections", func(s snapshot) float64 { return s.connections }},
		{"Active debates", func(s snapshot) float64 { return s.debates }},
		{"Queue size", func(s snapshot) float64 { return s.queue }},
		{"Spectators", func(s snapshot) float64 { return s.spectators }},
		{"Relayed frames", func(s snapshot) float64 { return s.relayed }},
	}
	fmt.Fprintf(w, "  %-16s %10s %10s %10s\n", "Metric", "Initial", "Final", "Peak")
	for _, r := range rows {
		peak := math.Inf(-1)
		for _, s := range snaps {
			peak = math.Max(peak, r.get(s))
		}
		fmt.Fprintf(w, "  %-16s %10.0f %10.0f %10.0f\n", r.label, r.get(first), r.get(last), peak)
	}

	if n := last.waitCount - first.waitCount; n > 0 {
		fmt.Fprintf(w, "  %-16s avg: %.3fs (%.0f matches)\n", "Match wait", (last.waitSum-first.waitSum)/n, n)
	}
}
