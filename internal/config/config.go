package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vango-dev/wspush/internal/errors"
	"github.com/vango-dev/wspush/pkg/session"
	"github.com/vango-dev/wspush/pkg/transport"
)

// FileName is the name of the configuration file.
const FileName = "wspush.json"

// Environment variables that override the file.
const (
	EnvAddr     = "WSPUSH_ADDR"
	EnvRedisURL = "WSPUSH_REDIS_URL"
	EnvLogLevel = "LOG_LEVEL"
)

// Config is the complete wspush.json configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Transport TransportConfig `json:"transport"`
	Push      PushConfig      `json:"push"`
	Session   SessionConfig   `json:"session"`
	Relay     RelayConfig     `json:"relay"`
	Log       LogConfig       `json:"log"`
	Metrics   MetricsConfig   `json:"metrics"`

	path string
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string `json:"addr,omitempty"`
	ShutdownTimeout string `json:"shutdownTimeout,omitempty"`
}

// TransportConfig configures websocket connections.
type TransportConfig struct {
	ReadTimeout    string   `json:"readTimeout,omitempty"`
	WriteTimeout   string   `json:"writeTimeout,omitempty"`
	PingInterval   string   `json:"pingInterval,omitempty"`
	MaxMessageSize int64    `json:"maxMessageSize,omitempty"`
	SessionCookie  string   `json:"sessionCookie,omitempty"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// PushConfig configures dispatching.
type PushConfig struct {
	// ResolveTimeout bounds session and view resolution.
	ResolveTimeout string `json:"resolveTimeout,omitempty"`

	// Workers bounds concurrent broadcast tasks.
	Workers int `json:"workers,omitempty"`
}

// SessionConfig configures the in-memory session manager.
type SessionConfig struct {
	IdleTimeout     string `json:"idleTimeout,omitempty"`
	CleanupInterval string `json:"cleanupInterval,omitempty"`
	MaxSessions     int    `json:"maxSessions,omitempty"`
}

// RelayConfig configures the Redis relay. An empty RedisURL disables it.
type RelayConfig struct {
	RedisURL string `json:"redisUrl,omitempty"`
	Channel  string `json:"channel,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is "text" or "json".
	Format string `json:"format,omitempty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace,omitempty"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{Metrics: MetricsConfig{Enabled: true}}
	c.applyDefaults()
	return c
}

// Load reads wspush.json from dir. A missing file yields the defaults.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the configuration at path. The file must exist.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		e := errors.New("W101").WithField(path).Wrap(err)
		if os.IsNotExist(err) {
			e.WithSuggestion("Create " + FileName + " or omit --config to run with defaults")
		}
		return nil, e
	}

	c := &Config{Metrics: MetricsConfig{Enabled: true}}
	if err := json.Unmarshal(data, c); err != nil {
		return nil, errors.New("W102").
			WithField(path).
			Wrap(err).
			WithSuggestion("Check that " + filepath.Base(path) + " is valid JSON")
	}

	c.path = path
	c.applyDefaults()
	return c, nil
}

// Path returns the file the configuration was loaded from, or "".
func (c *Config) Path() string { return c.path }

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "15s"
	}

	if c.Transport.ReadTimeout == "" {
		c.Transport.ReadTimeout = "60s"
	}
	if c.Transport.WriteTimeout == "" {
		c.Transport.WriteTimeout = "10s"
	}
	if c.Transport.PingInterval == "" {
		c.Transport.PingInterval = "25s"
	}
	if c.Transport.MaxMessageSize == 0 {
		c.Transport.MaxMessageSize = 64 * 1024
	}
	if c.Transport.SessionCookie == "" {
		c.Transport.SessionCookie = "wspush_session"
	}

	if c.Push.ResolveTimeout == "" {
		c.Push.ResolveTimeout = "5s"
	}
	if c.Push.Workers == 0 {
		c.Push.Workers = 16
	}

	if c.Session.IdleTimeout == "" {
		c.Session.IdleTimeout = "30m"
	}
	if c.Session.CleanupInterval == "" {
		c.Session.CleanupInterval = "1m"
	}

	if c.Relay.Channel == "" {
		c.Relay.Channel = "wspush:push"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "wspush"
	}
}

// ApplyEnv overrides fields from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAddr); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.Relay.RedisURL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = strings.ToLower(v)
	}
}

// Validate checks every field and reports all problems at once.
func (c *Config) Validate() error {
	var errs []error

	durations := []struct {
		field string
		value string
	}{
		{"server.shutdownTimeout", c.Server.ShutdownTimeout},
		{"transport.readTimeout", c.Transport.ReadTimeout},
		{"transport.writeTimeout", c.Transport.WriteTimeout},
		{"transport.pingInterval", c.Transport.PingInterval},
		{"push.resolveTimeout", c.Push.ResolveTimeout},
		{"session.idleTimeout", c.Session.IdleTimeout},
		{"session.cleanupInterval", c.Session.CleanupInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.value)
		if err != nil {
			errs = append(errs, errors.New("W103").WithField(d.field).Wrap(err))
			continue
		}
		if v <= 0 {
			errs = append(errs, errors.New("W103").WithField(d.field).
				WithSuggestion("Use a positive duration"))
		}
	}

	read, rerr := time.ParseDuration(c.Transport.ReadTimeout)
	ping, perr := time.ParseDuration(c.Transport.PingInterval)
	if rerr == nil && perr == nil && ping >= read {
		errs = append(errs, errors.New("W104").WithField("transport.pingInterval").
			WithSuggestion("Use a ping interval shorter than transport.readTimeout"))
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("W105").WithField("server.addr"))
	}
	if c.Transport.MaxMessageSize < 0 {
		errs = append(errs, errors.New("W104").WithField("transport.maxMessageSize"))
	}
	if c.Push.Workers < 0 {
		errs = append(errs, errors.New("W104").WithField("push.workers"))
	}
	if c.Session.MaxSessions < 0 {
		errs = append(errs, errors.New("W104").WithField("session.maxSessions"))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, errors.New("W104").WithField("log.level").Wrap(err).
			WithSuggestion("Use one of debug, info, warn, error"))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, errors.New("W104").WithField("log.format").
			WithSuggestion(`Use "text" or "json"`))
	}
	if c.Relay.RedisURL != "" && !strings.HasPrefix(c.Relay.RedisURL, "redis://") && !strings.HasPrefix(c.Relay.RedisURL, "rediss://") {
		errs = append(errs, errors.New("W251").WithField("relay.redisUrl"))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// ShutdownTimeout returns the parsed server shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return parseOr(c.Server.ShutdownTimeout, 15*time.Second)
}

// ResolveTimeout returns the parsed push resolve timeout.
func (c *Config) ResolveTimeout() time.Duration {
	return parseOr(c.Push.ResolveTimeout, 5*time.Second)
}

// TransportConfig converts the transport section for transport.NewEndpoint.
func (c *Config) TransportConfig() transport.Config {
	tc := transport.DefaultConfig()
	tc.ReadTimeout = parseOr(c.Transport.ReadTimeout, tc.ReadTimeout)
	tc.WriteTimeout = parseOr(c.Transport.WriteTimeout, tc.WriteTimeout)
	tc.PingInterval = parseOr(c.Transport.PingInterval, tc.PingInterval)
	tc.MaxMessageSize = c.Transport.MaxMessageSize
	tc.SessionCookie = c.Transport.SessionCookie
	tc.AllowedOrigins = append([]string(nil), c.Transport.AllowedOrigins...)
	return tc
}

// SessionManagerConfig converts the session section for session.NewManager.
func (c *Config) SessionManagerConfig() session.ManagerConfig {
	mc := session.DefaultManagerConfig()
	mc.IdleTimeout = parseOr(c.Session.IdleTimeout, mc.IdleTimeout)
	mc.CleanupInterval = parseOr(c.Session.CleanupInterval, mc.CleanupInterval)
	mc.MaxSessions = c.Session.MaxSessions
	return mc
}

// Exists reports whether dir holds a configuration file.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, FileName))
	return err == nil
}

func parseOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
