package transport

import (
	"net/http"
	"net/url"
	"slices"
	"time"
)

// Config configures an Endpoint.
type Config struct {
	// App is the application every connection of this endpoint belongs to.
	// Ignored when AppFunc is set.
	App string

	// AppFunc extracts the application ID from the upgrade request, e.g.
	// from a route parameter.
	AppFunc func(r *http.Request) string

	// SessionCookie is the cookie carrying the session ID. The "session"
	// query parameter takes precedence over it.
	// Default: "wspush_session".
	SessionCookie string

	// ReadBufferSize and WriteBufferSize size the websocket I/O buffers.
	// Default: 4096 each.
	ReadBufferSize  int
	WriteBufferSize int

	// MaxMessageSize limits inbound frames. Larger frames close the
	// connection.
	// Default: 64KB.
	MaxMessageSize int64

	// ReadTimeout is how long the connection may stay silent. Pongs count
	// as traffic.
	// Default: 60 seconds.
	ReadTimeout time.Duration

	// WriteTimeout bounds every frame written to the connection.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// PingInterval is the heartbeat period. Must be shorter than
	// ReadTimeout.
	// Default: 25 seconds.
	PingInterval time.Duration

	// AllowedOrigins lists the origins allowed to connect. Empty means
	// same-origin only. "*" allows every origin.
	AllowedOrigins []string

	// CheckOrigin overrides AllowedOrigins when set.
	CheckOrigin func(r *http.Request) bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SessionCookie:   "wspush_session",
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		MaxMessageSize:  64 * 1024,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		PingInterval:    25 * time.Second,
	}
}

// withDefaults fills unset fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SessionCookie == "" {
		c.SessionCookie = d.SessionCookie
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = d.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval == 0 || c.PingInterval >= c.ReadTimeout {
		c.PingInterval = c.ReadTimeout * 9 / 10
	}
	if c.CheckOrigin == nil {
		c.CheckOrigin = OriginCheck(c.AllowedOrigins)
	}
	return c
}

// OriginCheck returns a CheckOrigin function accepting the listed origins.
// With no origins it falls back to SameOriginCheck.
func OriginCheck(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return SameOriginCheck
	}
	if slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return slices.Contains(allowed, origin)
	}
}

// SameOriginCheck accepts requests without an Origin header and requests
// whose Origin host matches the Host header.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if r.Host == "" {
		return false
	}
	return originURL.Host == r.Host
}
