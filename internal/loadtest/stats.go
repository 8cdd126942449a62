package loadtest

import (
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"time"
)

// Collector aggregates samples from many clients.
type Collector struct {
	mu        sync.Mutex
	series    map[string][]time.Duration
	counters  map[string]int
	errors    int
	startTime time.Time
	scraper   *Scraper
}

// NewCollector creates a Collector whose clock starts now.
func NewCollector() *Collector {
	return &Collector{
		series:    make(map[string][]time.Duration),
		counters:  make(map[string]int),
		startTime: time.Now(),
	}
}

// SetScraper attaches server side metrics to the report.
func (c *Collector) SetScraper(s *Scraper) {
	c.mu.Lock()
	c.scraper = s
	c.mu.Unlock()
}

// Observe records one latency sample of the named series.
func (c *Collector) Observe(series string, d time.Duration) {
	c.mu.Lock()
	c.series[series] = append(c.series[series], d)
	c.mu.Unlock()
}

// Inc bumps a named counter.
func (c *Collector) Inc(counter string) {
	c.mu.Lock()
	c.counters[counter]++
	c.mu.Unlock()
}

// Count returns a named counter.
func (c *Collector) Count(counter string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[counter]
}

// AddError counts a failed step.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Errors returns the number of failed steps.
func (c *Collector) Errors() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Report writes the summary to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:  %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Errors:    %d\n", c.errors)

	for _, name := range sortedKeys(c.counters) {
		fmt.Fprintf(w, "%-24s %d\n", name+":", c.counters[name])
	}
	for _, name := range sortedKeys(c.series) {
		p := Percentiles(c.series[name])
		fmt.Fprintf(w, "\n--- %s ---\n", name)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			p.Avg.Round(time.Microsecond), p.P50.Round(time.Microsecond), p.P95.Round(time.Microsecond),
			p.P99.Round(time.Microsecond), p.Max.Round(time.Microsecond), p.N)
	}
	if c.scraper != nil {
		c.scraper.Report(w)
	}
	fmt.Fprintln(w)
}

// Summary is the distribution of one latency series.
type Summary struct {
	N                       int
	Avg, P50, P95, P99, Max time.Duration
}

// Percentiles summarizes samples. It sorts samples in place.
func Percentiles(samples []time.Duration) Summary {
	n := len(samples)
	if n == 0 {
		return Summary{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	var sum time.Duration
	for _, d := range samples {
		sum += d
	}
	rank := func(q float64) time.Duration {
		return samples[int(math.Ceil(float64(n)*q))-1]
	}
	return Summary{
		N:   n,
		Avg: sum / time.Duration(n),
		P50: samples[n/2],
		P95: rank(0.95),
		P99: rank(0.99),
		Max: samples[n-1],
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
