// Package config holds the knobs of both binaries. Values come from flags,
// DEBATE_* environment variables, an optional config file and an optional
// .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hottake/debate-app/internal/debate"
	"github.com/hottake/debate-app/internal/moderation"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "DEBATE"

// Config is the full configuration.
type Config struct {
	ConfigFile string `mapstructure:"config"`

	ListenAddr     string        `mapstructure:"listen-addr"`
	WorkerPoolSize int           `mapstructure:"worker-pool-size"`
	MaxConnections int           `mapstructure:"max-connections"`
	ReadTimeout    time.Duration `mapstructure:"read-timeout"`
	WriteTimeout   time.Duration `mapstructure:"write-timeout"`

	RedisAddr   string `mapstructure:"redis-addr"`
	NATSURL     string `mapstructure:"nats-url"`
	DatabaseURL string `mapstructure:"database-url"`

	MatchTimeout  time.Duration `mapstructure:"match-timeout"`
	SweepInterval time.Duration `mapstructure:"sweep-interval"`

	OpeningDuration    time.Duration `mapstructure:"opening-duration"`
	ResponseDuration   time.Duration `mapstructure:"response-duration"`
	OpenDebateDuration time.Duration `mapstructure:"open-debate-duration"`
	VotingDuration     time.Duration `mapstructure:"voting-duration"`
	TurnDebounce       time.Duration `mapstructure:"turn-debounce"`
	TopicDebounce      time.Duration `mapstructure:"topic-debounce"`

	ReportThreshold int           `mapstructure:"report-threshold"`
	ReportWindow    time.Duration `mapstructure:"report-window"`
	BanDuration     time.Duration `mapstructure:"ban-duration"`
	BlockedTerms    []string      `mapstructure:"blocked-terms"`

	DisconnectGrace   time.Duration `mapstructure:"disconnect-grace"`
	DebateIdleTimeout time.Duration `mapstructure:"debate-idle-timeout"`
	PollIdleTimeout   time.Duration `mapstructure:"poll-idle-timeout"`

	PremiumKeys    []string `mapstructure:"premium-keys"`
	STUNURLs       []string `mapstructure:"stun-urls"`
	TURNURL        string   `mapstructure:"turn-url"`
	TURNUsername   string   `mapstructure:"turn-username"`
	TURNCredential string   `mapstructure:"turn-credential"`

	PublicURL string `mapstructure:"public-url"`
	LogLevel  string `mapstructure:"log-level"`
	LogFormat string `mapstructure:"log-format"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		ListenAddr:         ":8080",
		WorkerPoolSize:     256,
		MaxConnections:     100000,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MatchTimeout:       30 * time.Second,
		SweepInterval:      5 * time.Second,
		OpeningDuration:    90 * time.Second,
		ResponseDuration:   90 * time.Second,
		OpenDebateDuration: 60 * time.Second,
		VotingDuration:     30 * time.Second,
		TurnDebounce:       time.Second,
		TopicDebounce:      2 * time.Second,
		ReportThreshold:    3,
		ReportWindow:       24 * time.Hour,
		BanDuration:        24 * time.Hour,
		DebateIdleTimeout:  30 * time.Minute,
		PollIdleTimeout:    2 * time.Minute,
		STUNURLs:           []string{"stun:stun.l.google.com:19302"},
		PublicURL:          "http://localhost:8080",
		LogLevel:           "info",
		LogFormat:          "console",
	}
}

// Register declares every flag on fs with its default.
func Register(fs *pflag.FlagSet) {
	d := Default()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.String("config", "", "path to a yaml, toml or json config file (env: DEBATE_CONFIG)")

	fs.String("listen-addr", d.ListenAddr, "address the HTTP and WebSocket server listens on")
	fs.Int("worker-pool-size", d.WorkerPoolSize, "goroutines reading WebSocket frames")
	fs.Int("max-connections", d.MaxConnections, "maximum concurrent WebSocket connections")
	fs.Duration("read-timeout", d.ReadTimeout, "HTTP read timeout")
	fs.Duration("write-timeout", d.WriteTimeout, "HTTP and WebSocket write timeout")

	fs.String("redis-addr", d.RedisAddr, "Redis address for bans and rate limits (empty keeps them in memory)")
	fs.String("nats-url", d.NATSURL, "NATS URL for lifecycle and moderation events (empty disables them)")
	fs.String("database-url", d.DatabaseURL, "PostgreSQL URL of the moderation audit trail")

	fs.Duration("match-timeout", d.MatchTimeout, "how long a search waits for an opponent")
	fs.Duration("sweep-interval", d.SweepInterval, "interval of the housekeeping sweep")

	fs.Duration("opening-duration", d.OpeningDuration, "length of the opening phase")
	fs.Duration("response-duration", d.ResponseDuration, "length of the response phase")
	fs.Duration("open-debate-duration", d.OpenDebateDuration, "length of the open-debate phase")
	fs.Duration("voting-duration", d.VotingDuration, "voting window announced to spectators")
	fs.Duration("turn-debounce", d.TurnDebounce, "window absorbing repeated turn completions")
	fs.Duration("topic-debounce", d.TopicDebounce, "window absorbing repeated topic changes")

	fs.Int("report-threshold", d.ReportThreshold, "reports inside the window that trigger a ban")
	fs.Duration("report-window", d.ReportWindow, "trailing window for report counting")
	fs.Duration("ban-duration", d.BanDuration, "length of an automatic ban")
	fs.StringSlice("blocked-terms", nil, "extra terms for the spectator chat filter")

	fs.Duration("disconnect-grace", d.DisconnectGrace, "how long a debate waits for a dropped participant (0 ends it at once)")
	fs.Duration("debate-idle-timeout", d.DebateIdleTimeout, "debates without activity for this long are ended")
	fs.Duration("poll-idle-timeout", d.PollIdleTimeout, "polling connections not seen for this long are dropped")

	fs.StringSlice("premium-keys", nil, "keys unlocking category pools")
	fs.StringSlice("stun-urls", d.STUNURLs, "STUN server URLs handed to clients")
	fs.String("turn-url", "", "TURN server URL")
	fs.String("turn-username", "", "TURN username")
	fs.String("turn-credential", "", "TURN credential")

	fs.String("public-url", d.PublicURL, "public base URL used in spectate links")
	fs.String("log-level", d.LogLevel, "log level: debug, info, warn or error")
	fs.String("log-format", d.LogFormat, "log format: console or json")
}

// Load resolves the configuration from the flags declared by Register,
// the environment and the optional config file.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return Config{}, fmt.Errorf("config: bind flags: %w", err)
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Validate rejects inconsistent settings.
func (c *Config) Validate() error {
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker-pool-size must be positive, got %d", c.WorkerPoolSize)
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("max-connections must be positive, got %d", c.MaxConnections)
	}
	if c.ReportThreshold < 1 {
		return fmt.Errorf("report-threshold must be at least 1, got %d", c.ReportThreshold)
	}

	durations := []struct {
		name string
		d    time.Duration
	}{
		{"read-timeout", c.ReadTimeout},
		{"write-timeout", c.WriteTimeout},
		{"match-timeout", c.MatchTimeout},
		{"opening-duration", c.OpeningDuration},
		{"response-duration", c.ResponseDuration},
		{"open-debate-duration", c.OpenDebateDuration},
		{"voting-duration", c.VotingDuration},
		{"turn-debounce", c.TurnDebounce},
		{"topic-debounce", c.TopicDebounce},
		{"report-window", c.ReportWindow},
		{"ban-duration", c.BanDuration},
		{"disconnect-grace", c.DisconnectGrace},
		{"debate-idle-timeout", c.DebateIdleTimeout},
		{"poll-idle-timeout", c.PollIdleTimeout},
	}
	for _, d := range durations {
		if d.d < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, d.d)
		}
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep-interval must be positive, got %s", c.SweepInterval)
	}

	if c.TURNURL == "" && (c.TURNUsername != "" || c.TURNCredential != "") {
		return errors.New("turn-username and turn-credential require turn-url")
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("log-format must be console or json, got %q", c.LogFormat)
	}
	return nil
}

// ICEServers returns the STUN and TURN servers handed to clients.
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	var stun []string
	for _, u := range c.STUNURLs {
		if u = strings.TrimSpace(u); u != "" {
			stun = append(stun, u)
		}
	}
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if c.TURNURL != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs:       []string{c.TURNURL},
			Username:   c.TURNUsername,
			Credential: c.TURNCredential,
		})
	}
	return servers
}

// DebateConfig maps the settings onto the debate service.
func (c *Config) DebateConfig() debate.Config {
	return debate.Config{
		MatchTimeout:       c.MatchTimeout,
		OpeningDuration:    c.OpeningDuration,
		ResponseDuration:   c.ResponseDuration,
		OpenDebateDuration: c.OpenDebateDuration,
		VotingDuration:     c.VotingDuration,
		TurnDebounce:       c.TurnDebounce,
		TopicDebounce:      c.TopicDebounce,
		DisconnectGrace:    c.DisconnectGrace,
		IdleTimeout:        c.DebateIdleTimeout,
		PollIdleTimeout:    c.PollIdleTimeout,
		PremiumKeys:        c.PremiumKeys,
		ICEServers:         c.ICEServers(),
	}
}

// GuardConfig maps the settings onto the moderation guard.
func (c *Config) GuardConfig() moderation.GuardConfig {
	return moderation.GuardConfig{
		Threshold:   c.ReportThreshold,
		Window:      c.ReportWindow,
		BanDuration: c.BanDuration,
	}
}

// Filter builds the chat filter with the built-in and the configured terms.
func (c *Config) Filter() *moderation.Filter {
	if len(c.BlockedTerms) == 0 {
		return moderation.NewFilter()
	}
	return moderation.NewFilterWithTerms(append(moderation.DefaultTerms(), c.BlockedTerms...))
}
