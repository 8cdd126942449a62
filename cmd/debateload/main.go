// Command debateload runs load scenarios against a debate server.
package main

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hottake/debate-app/internal/logging"
)

type options struct {
	url            string
	metricsURL     string
	pairs          int
	ramp           time.Duration
	concurrency    int
	matchTimeout   time.Duration
	hold           time.Duration
	scrapeInterval time.Duration
	spectators     int
}

func main() {
	if err := newCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("debateload failed")
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "debateload",
		Short:         "Load scenarios for the debate server.",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logging.Setup("info", "console")
		},
	}

	fs := root.PersistentFlags()
	fs.StringVar(&opts.url, "url", "ws://localhost:8080/ws", "WebSocket endpoint")
	fs.StringVar(&opts.metricsURL, "metrics-url", "http://localhost:8080/metrics", "Prometheus endpoint of the server")
	fs.IntVar(&opts.pairs, "pairs", 200, "number of debating pairs")
	fs.DurationVar(&opts.ramp, "ramp", 10*time.Second, "time over which connections are opened")
	fs.IntVar(&opts.concurrency, "concurrency", 50, "simultaneous dial attempts")
	fs.DurationVar(&opts.matchTimeout, "match-timeout", 30*time.Second, "how long a client waits for debate_matched")
	fs.DurationVar(&opts.hold, "hold", 2*time.Second, "how long the first speaker talks before completing the turn")
	fs.DurationVar(&opts.scrapeInterval, "scrape-interval", 2*time.Second, "interval between metrics scrapes")

	match := &cobra.Command{
		Use:   "match",
		Short: "Pair debaters, complete one turn each and end the debates.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMatch(cmd.Context(), opts)
		},
	}

	spectate := &cobra.Command{
		Use:   "spectate",
		Short: "Pair debaters, then flood each debate with voting, chatting spectators.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSpectate(cmd.Context(), opts)
		},
	}
	spectate.Flags().IntVar(&opts.spectators, "spectators", 5, "spectators per debate")

	root.AddCommand(match, spectate)
	root.CompletionOptions.HiddenDefaultCmd = true
	return root
}
