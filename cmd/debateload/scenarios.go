package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hottake/debate-app/internal/loadtest"
	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/protocol"
)

// debateRef is a debate created during a run and the client that speaks
// first in it.
type debateRef struct {
	id    string
	first *loadtest.Client
}

// connectAll opens n clients spread over the ramp duration.
func connectAll(ctx context.Context, opts *options, n int, prefix string, col *loadtest.Collector) []*loadtest.Client {
	logger := logging.Component("load")
	interval := opts.ramp / time.Duration(max(n, 1))
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		mu      sync.Mutex
		clients = make([]*loadtest.Client, 0, n)
		wg      sync.WaitGroup
		sem     = make(chan struct{}, max(opts.concurrency, 1))
	)
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			wg.Wait()
			return clients
		case <-ticker.C:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()

			c, err := loadtest.Dial(dialCtx, opts.url, fmt.Sprintf("%s-%d", prefix, i))
			if err != nil {
				col.AddError()
				return
			}
			if err := c.WaitConnected(dialCtx); err != nil {
				col.AddError()
				c.Close()
				return
			}
			col.Observe("connect latency", c.Metrics().ConnectLatency)
			col.Inc(prefix + " connected")
			mu.Lock()
			clients = append(clients, c)
			mu.Unlock()
		}()
	}
	wg.Wait()
	logger.Info().Int("connected", len(clients)).Int("wanted", n).Str("role", prefix).Msg("connect phase done")
	return clients
}

// pairUp sends find_opponent from every client and waits for the matches.
// The first speaker of each debate completes one turn after opts.hold.
func pairUp(ctx context.Context, opts *options, clients []*loadtest.Client, col *loadtest.Collector) []debateRef {
	var (
		mu      sync.Mutex
		debates []debateRef
		wg      sync.WaitGroup
	)
	start := time.Now()
	for _, c := range clients {
		matched := make(chan struct{})
		var once sync.Once
		c.On(protocol.TypeDebateMatched, func(raw json.RawMessage) {
			var m protocol.DebateMatchedMsg
			if err := json.Unmarshal(raw, &m); err != nil {
				col.AddError()
				return
			}
			once.Do(func() { close(matched) })
			col.Observe("match latency", time.Since(start))
			col.Inc("clients matched")
			if !m.YouGoFirst {
				return
			}
			mu.Lock()
			debates = append(debates, debateRef{id: m.DebateID, first: c})
			mu.Unlock()
			time.AfterFunc(opts.hold, func() {
				_ = c.Send(protocol.DebateMsg{Type: protocol.TypeTurnCompleted, DebateID: m.DebateID})
			})
		})
		c.On(protocol.TypeTurnChange, func(json.RawMessage) { col.Inc("turn changes") })
		c.On(protocol.TypeError, func(json.RawMessage) { col.Inc("error frames") })
		c.On(protocol.TypeRateLimited, func(json.RawMessage) { col.Inc("rate limited") })

		wg.Add(1)
		go func() {
			defer wg.Done()
			t := time.NewTimer(opts.matchTimeout)
			defer t.Stop()
			select {
			case <-matched:
			case <-t.C:
				col.AddError()
			case <-ctx.Done():
			}
		}()
		if err := c.Send(protocol.FindOpponentMsg{Type: protocol.TypeFindOpponent}); err != nil {
			col.AddError()
		}
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	return append([]debateRef(nil), debates...)
}

func withScraper(ctx context.Context, opts *options) (*loadtest.Collector, *loadtest.Scraper) {
	col := loadtest.NewCollector()
	scraper := loadtest.NewScraper(opts.metricsURL, opts.scrapeInterval)
	col.SetScraper(scraper)
	scraper.Start(ctx)
	return col, scraper
}

func runMatch(parent context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	col, scraper := withScraper(ctx, opts)

	clients := connectAll(ctx, opts, opts.pairs*2, "debater", col)
	debates := pairUp(ctx, opts, clients, col)

	select {
	case <-time.After(opts.hold + time.Second):
	case <-ctx.Done():
	}
	endDebates(debates, col)
	logger := logging.Component("load")
	logger.Info().Int("debates", len(debates)).Msg("match scenario done")

	closeAll(clients)
	scraper.Stop()
	col.Report(os.Stdout)
	return nil
}

func runSpectate(parent context.Context, opts *options) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	col, scraper := withScraper(ctx, opts)

	debaters := connectAll(ctx, opts, opts.pairs*2, "debater", col)
	debates := pairUp(ctx, opts, debaters, col)
	if len(debates) == 0 {
		closeAll(debaters)
		scraper.Stop()
		col.Report(os.Stdout)
		return fmt.Errorf("no debates were created")
	}

	watchers := connectAll(ctx, opts, len(debates)*opts.spectators, "spectator", col)
	var wg sync.WaitGroup
	for i, c := range watchers {
		debateID := debates[i%len(debates)].id
		joined := make(chan struct{})
		var once sync.Once
		sent := time.Now()
		c.On(protocol.TypeSpectatorJoined, func(json.RawMessage) {
			col.Observe("join latency", time.Since(sent))
			once.Do(func() { close(joined) })
		})
		c.On(protocol.TypeVoteRecorded, func(json.RawMessage) { col.Inc("votes recorded") })
		c.On(protocol.TypeSpectatorChatMessage, func(json.RawMessage) { col.Inc("chat frames seen") })

		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case <-joined:
			case <-time.After(opts.matchTimeout):
				col.AddError()
				return
			case <-ctx.Done():
				return
			}
			choice := "participant1"
			if i%2 == 1 {
				choice = "participant2"
			}
			_ = c.Send(protocol.CastVoteMsg{Type: protocol.TypeCastVote, DebateID: debateID, Choice: choice})
			_ = c.Send(protocol.SpectatorChatMsg{Type: protocol.TypeSpectatorChat, DebateID: debateID, Text: "good point"})
		}()
		if err := c.Send(protocol.DebateMsg{Type: protocol.TypeJoinSpectator, DebateID: debateID}); err != nil {
			col.AddError()
		}
	}
	wg.Wait()

	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
	}
	endDebates(debates, col)
	closeAll(watchers)
	closeAll(debaters)
	scraper.Stop()
	col.Report(os.Stdout)
	return nil
}

// endDebates has the first speaker of each debate end it.
func endDebates(debates []debateRef, col *loadtest.Collector) {
	for _, d := range debates {
		if err := d.first.Send(protocol.DebateMsg{Type: protocol.TypeEndDebate, DebateID: d.id}); err != nil {
			col.AddError()
			continue
		}
		col.Inc("debates ended")
	}
	// give the server a moment to fan out debate_ended before sockets close
	time.Sleep(500 * time.Millisecond)
}

func closeAll(clients []*loadtest.Client) {
	for _, c := range clients {
		c.Close()
	}
}
