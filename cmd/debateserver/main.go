package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hottake/debate-app/internal/config"
	"github.com/hottake/debate-app/internal/logging"
)

const releaseVersion = "0.4.0"

func main() {
	if err := newCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("debateserver failed")
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "debateserver",
		Short:         "Matchmaking and live debate server for Debate Roulette.",
		Args:          cobra.NoArgs,
		Version:       releaseVersion,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(".env"); err != nil {
				return err
			}
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	config.Register(cmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("debateserver v{{.Version}}\n")
	return cmd
}
