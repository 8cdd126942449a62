package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hottake/debate-app/internal/api"
	"github.com/hottake/debate-app/internal/ban"
	"github.com/hottake/debate-app/internal/config"
	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/logging"
	"github.com/hottake/debate-app/internal/matching"
	"github.com/hottake/debate-app/internal/messaging"
	"github.com/hottake/debate-app/internal/moderation"
	"github.com/hottake/debate-app/internal/ratelimit"
	"github.com/hottake/debate-app/internal/relay"
	"github.com/hottake/debate-app/internal/session"
	"github.com/hottake/debate-app/internal/topic"
	"github.com/hottake/debate-app/internal/ws"
)

func run(parent context.Context, cfg config.Config) error {
	logger := logging.Component("main")
	logger.Info().
		Str("listen", cfg.ListenAddr).
		Str("redis", cfg.RedisAddr).
		Str("nats", cfg.NATSURL).
		Dur("match_timeout", cfg.MatchTimeout).
		Dur("disconnect_grace", cfg.DisconnectGrace).
		Int("report_threshold", cfg.ReportThreshold).
		Msg("starting debate server")

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		bans     ban.Store
		limiter  ratelimit.Limiter
		sweepers []debate.Sweeper
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		defer rdb.Close()
		bans = ban.NewRedisStore(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb)
		logger.Info().Str("addr", cfg.RedisAddr).Msg("bans and rate limits in redis")
	} else {
		mem := ban.NewMemoryStore()
		memLimiter := ratelimit.NewMemoryLimiter()
		bans, limiter = mem, memLimiter
		sweepers = append(sweepers, mem, memLimiter)
		logger.Warn().Msg("no redis configured, bans and rate limits are process local")
	}

	var events messaging.Publisher = messaging.NopPublisher{}
	if cfg.NATSURL != "" {
		natsCfg := messaging.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.Name = "debateserver"
		nc, err := messaging.NewNATSClient(natsCfg)
		if err != nil {
			return fmt.Errorf("connect to nats at %s: %w", cfg.NATSURL, err)
		}
		defer nc.Close()
		events = messaging.NewEventPublisher(nc)
	} else {
		logger.Warn().Msg("no nats configured, lifecycle events are dropped")
	}

	registry := session.NewRegistry()
	router := relay.NewRouter(registry)
	catalog := topic.DefaultCatalog()
	guard := moderation.NewGuard(bans, cfg.GuardConfig())
	sweepers = append(sweepers, guard)

	svc := debate.NewService(cfg.DebateConfig(), debate.Deps{
		Registry: registry,
		Queue:    matching.NewQueue(),
		Catalog:  catalog,
		Guard:    guard,
		Notifier: router,
		Filter:   cfg.Filter(),
		Limiter:  limiter,
		Events:   events,
		Sweepers: sweepers,
	})

	wsCfg := ws.DefaultServerConfig()
	wsCfg.WorkerPoolSize = cfg.WorkerPoolSize
	wsCfg.MaxConnections = cfg.MaxConnections
	wsCfg.ReadTimeout = cfg.ReadTimeout
	wsCfg.WriteTimeout = cfg.WriteTimeout

	dispatcher := ws.NewMessageDispatcher(nil)
	wsServer := ws.NewServer(wsCfg, dispatcher.Dispatch)
	ws.Bind(wsServer, dispatcher, svc)
	if err := wsServer.Start(); err != nil {
		return err
	}

	mode := gin.ReleaseMode
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		mode = gin.DebugMode
	}
	engine := api.NewEngine(api.Options{
		Service:    svc,
		Router:     router,
		Catalog:    catalog,
		ICEServers: cfg.ICEServers(),
		PublicURL:  cfg.PublicURL,
		Upgrade:    wsServer.HandleUpgrade,
		Mode:       mode,
	})

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           engine,
		ReadHeaderTimeout: cfg.ReadTimeout,
	}

	go svc.RunSweeper(ctx, cfg.SweepInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Int("topics", catalog.Len()).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			wsServer.Shutdown()
			return fmt.Errorf("http server: %w", err)
		}
	}

	// Debates end before sockets close so participants get debate_ended.
	svc.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
	wsServer.Shutdown()

	st := svc.Stats(false)
	logger.Info().Int("connected", st.Connected).Msg("debate server stopped")
	return nil
}
