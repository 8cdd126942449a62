package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hottake/debate-app/internal/config"
	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/report"
)

func main() {
	if err := newCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("moderator failed")
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "moderator",
		Short:         "Stores the moderation reports and bans published by the debate server.",
		Args:          cobra.NoArgs,
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
			return run(cfg)
		},
	}
	config.Register(cmd.Flags())
	cmd.CompletionOptions.HiddenDefaultCmd = true
	return cmd
}

func run(cfg config.Config) error {
	logger := logging.Component("moderator")
	if cfg.DatabaseURL == "" {
		return errors.New("--database-url is required")
	}
	if cfg.NATSURL == "" {
		return errors.New("--nats-url is required")
	}

	if err := report.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	db, err := report.Open(ctx, cfg.DatabaseURL)
	cancel()
	if err != nil {
		return err
	}
	defer db.Close()
	store := report.NewStore(db)

	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	active, err := store.ActiveBans(ctx, time.Now())
	cancel()
	if err != nil {
		logger.Warn().Err(err).Msg("listing active bans failed")
	}

	natsCfg := messaging.DefaultNATSConfig()
	natsCfg.URL = cfg.NATSURL
	natsCfg.Name = "debate-moderator"
	nc, err := messaging.NewNATSClient(natsCfg)
	if err != nil {
		return fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
	}
	defer nc.Close()

	if err := report.NewConsumer(store).Subscribe(nc); err != nil {
		return err
	}

	logger.Info().Str("nats", cfg.NATSURL).Int("active_bans", len(active)).Msg("moderator running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down")
	return nil
}
