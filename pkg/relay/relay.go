// Package relay fans pushes out across nodes over Redis pub/sub.
//
// A producer on any node publishes an Envelope. Every node running Relay.Run,
// the publishing node included, receives it and re-broadcasts it to its own
// connections through its local Broadcaster. Delivery follows Redis pub/sub
// semantics: at most once, and only to nodes subscribed at publish time.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/registry"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "wspush:push"

// ErrInvalidEnvelope is returned for envelopes without an application or
// with a view but no session.
var ErrInvalidEnvelope = errors.New("relay: invalid envelope")

// Envelope is one relayed push. Session and View narrow the audience:
// neither targets the whole application, Session alone one session, both
// one connection.
type Envelope struct {
	Origin  string          `json:"origin,omitempty"`
	App     string          `json:"app"`
	Session string          `json:"session,omitempty"`
	View    string          `json:"view,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Validate checks the addressing fields.
func (e Envelope) Validate() error {
	if e.App == "" {
		return fmt.Errorf("%w: missing app", ErrInvalidEnvelope)
	}
	if e.View != "" && e.Session == "" {
		return fmt.Errorf("%w: view without session", ErrInvalidEnvelope)
	}
	return nil
}

// Broadcaster is the local fan-out. *push.Broadcaster implements it.
type Broadcaster interface {
	BroadcastOne(ctx context.Context, key registry.Key, msg message.Message) bool
	BroadcastSession(ctx context.Context, app, session string, msg message.Message) int
	BroadcastAll(ctx context.Context, app string, msg message.Message) int
}

// Option configures a Relay.
type Option func(*Relay)

// WithChannel sets the pub/sub channel.
func WithChannel(channel string) Option {
	return func(r *Relay) {
		if channel != "" {
			r.channel = channel
		}
	}
}

// WithNodeID sets the origin stamped on published envelopes.
// Default: a random UUID.
func WithNodeID(id string) Option {
	return func(r *Relay) {
		if id != "" {
			r.nodeID = id
		}
	}
}

// WithLogger sets the relay logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Relay publishes envelopes to Redis and re-broadcasts received ones.
type Relay struct {
	client      redis.UniversalClient
	broadcaster Broadcaster
	channel     string
	nodeID      string
	logger      *slog.Logger
}

// New creates a relay. b may be nil for publish-only use.
func New(client redis.UniversalClient, b Broadcaster, opts ...Option) *Relay {
	r := &Relay{
		client:      client,
		broadcaster: b,
		channel:     DefaultChannel,
		nodeID:      uuid.NewString(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "relay", "node", r.nodeID)
	return r
}

// NodeID returns the origin stamped on envelopes published by r.
func (r *Relay) NodeID() string { return r.nodeID }

// Channel returns the pub/sub channel.
func (r *Relay) Channel() string { return r.channel }

// Publish sends env to every subscribed node.
func (r *Relay) Publish(ctx context.Context, env Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.Origin == "" {
		env.Origin = r.nodeID
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("relay: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish: %w", err)
	}
	return nil
}

// PublishAll relays payload to every connection of app.
func (r *Relay) PublishAll(ctx context.Context, app string, payload any) error {
	return r.publishPayload(ctx, Envelope{App: app}, payload)
}

// PublishSession relays payload to every connection of one session.
func (r *Relay) PublishSession(ctx context.Context, app, session string, payload any) error {
	return r.publishPayload(ctx, Envelope{App: app, Session: session}, payload)
}

// PublishOne relays payload to the connection registered under key.
func (r *Relay) PublishOne(ctx context.Context, key registry.Key, payload any) error {
	return r.publishPayload(ctx, Envelope{App: key.App, Session: key.Session, View: key.View}, payload)
}

func (r *Relay) publishPayload(ctx context.Context, env Envelope, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("relay: encode payload: %w", err)
	}
	env.Payload = raw
	return r.Publish(ctx, env)
}

// Run subscribes to the channel and re-broadcasts every envelope until
// ctx is done. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	if r.broadcaster == nil {
		return errors.New("relay: no broadcaster")
	}

	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("relay: subscribe %s: %w", r.channel, err)
	}
	r.logger.Info("relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if _, err := r.Handle(ctx, []byte(msg.Payload)); err != nil {
				r.logger.Warn("envelope dropped", "error", err)
			}
		}
	}
}

// Handle decodes one envelope and broadcasts it locally. It returns the
// number of local tasks submitted.
func (r *Relay) Handle(ctx context.Context, data []byte) (int, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := env.Validate(); err != nil {
		return 0, err
	}

	var payload any
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return 0, fmt.Errorf("%w: payload: %v", ErrInvalidEnvelope, err)
		}
	}
	msg := message.Push{Payload: payload}

	var n int
	switch {
	case env.View != "":
		if r.broadcaster.BroadcastOne(ctx, registry.Key{App: env.App, Session: env.Session, View: env.View}, msg) {
			n = 1
		}
	case env.Session != "":
		n = r.broadcaster.BroadcastSession(ctx, env.App, env.Session, msg)
	default:
		n = r.broadcaster.BroadcastAll(ctx, env.App, msg)
	}

	r.logger.Debug("envelope relayed",
		"origin", env.Origin, "app", env.App, "session", env.Session, "view", env.View, "tasks", n)
	return n, nil
}
