package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/vango-dev/wspush/internal/config"
	"github.com/vango-dev/wspush/internal/errors"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/push"
	"github.com/vango-dev/wspush/pkg/registry"
	"github.com/vango-dev/wspush/pkg/relay"
	"github.com/vango-dev/wspush/pkg/session"
	"github.com/vango-dev/wspush/pkg/transport"
)

// maxPushBody limits POST /push bodies.
const maxPushBody = 1 << 20

// node is one running wspush server: the push core, the demo application
// and the HTTP surface.
type node struct {
	cfg    *config.Config
	logger *slog.Logger

	registry    *registry.Registry
	sessions    *session.Manager
	processor   *push.Processor
	pool        *push.Pool
	broadcaster *push.Broadcaster
	metrics     *push.Metrics
	redis       *redis.Client
	relay       *relay.Relay

	handler http.Handler
}

// newNode wires a node. promReg receives the metrics and backs /metrics.
func newNode(ctx context.Context, cfg *config.Config, logger *slog.Logger, promReg *prometheus.Registry) (*node, error) {
	n := &node{
		cfg:      cfg,
		logger:   logger,
		registry: registry.New(),
	}

	if cfg.Metrics.Enabled {
		n.metrics = push.NewMetrics(push.WithRegistry(promReg), push.WithNamespace(cfg.Metrics.Namespace))
	}

	sessionConfig := cfg.SessionManagerConfig()
	sessionConfig.ViewFactory = echoViews(logger)
	n.sessions = session.NewManager(sessionConfig, logger)

	pconfig := push.DefaultProcessorConfig()
	pconfig.ResolveTimeout = cfg.ResolveTimeout()
	pconfig.Logger = logger
	pconfig.Metrics = n.metrics
	n.processor = push.NewProcessor(push.NewDirectory(&push.Application{ID: demoApp, Sessions: n.sessions}), pconfig)

	n.pool = push.NewPool(cfg.Push.Workers, logger)
	n.broadcaster = push.NewBroadcaster(n.registry, n.processor,
		push.WithExecutor(n.pool),
		push.WithLogger(logger),
		push.WithMetrics(n.metrics),
	)

	if cfg.Relay.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.Relay.RedisURL)
		if err != nil {
			_ = n.sessions.Shutdown(ctx)
			return nil, err
		}
		n.redis = client
		n.relay = relay.New(client, n.broadcaster, relay.WithChannel(cfg.Relay.Channel), relay.WithLogger(logger))
	}

	n.handler = n.routes(promReg)
	return n, nil
}

func (n *node) routes(promReg *prometheus.Registry) http.Handler {
	tc := n.cfg.TransportConfig()
	tc.AppFunc = func(r *http.Request) string { return chi.URLParam(r, "app") }
	endpoint := transport.NewEndpoint(n.registry, n.processor, tc,
		transport.WithLogger(n.logger),
		transport.WithMetrics(n.metrics),
	)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	})
	if n.cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	}
	r.Post("/session", n.handleCreateSession)
	r.Get("/ws/{app}", endpoint.ServeHTTP)
	r.Post("/push/{app}", n.handlePush)
	return r
}

// handleCreateSession starts a demo session and hands its ID to the
// client in a cookie and in the body.
func (n *node) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	s, err := n.sessions.Create("")
	if err != nil {
		status := http.StatusInternalServerError
		if stderrors.Is(err, session.ErrMaxSessionsReached) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, err.Error(), status)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     n.cfg.Transport.SessionCookie,
		Value:    s.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusCreated, map[string]string{"session": s.ID()})
}

// handlePush broadcasts the JSON body as a push. The optional "session"
// and "view" query parameters narrow the audience. With a relay the push
// goes through Redis to every node.
func (n *node) handlePush(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	sess := r.URL.Query().Get("session")
	viewID := r.URL.Query().Get("view")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "body must be JSON", http.StatusBadRequest)
		return
	}
	if viewID != "" && sess == "" {
		http.Error(w, "view requires session", http.StatusBadRequest)
		return
	}

	if n.relay != nil {
		env := relay.Envelope{App: app, Session: sess, View: viewID, Payload: json.RawMessage(body)}
		if err := n.relay.Publish(r.Context(), env); err != nil {
			n.logger.Error("relay publish failed", "app", app, "error", err)
			http.Error(w, "publish failed", http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"relayed": true})
		return
	}

	var payload any
	_ = json.Unmarshal(body, &payload)
	msg := message.Push{Payload: payload}

	var tasks int
	switch {
	case viewID != "":
		if n.broadcaster.BroadcastOne(r.Context(), registry.Key{App: app, Session: sess, View: viewID}, msg) {
			tasks = 1
		}
	case sess != "":
		tasks = n.broadcaster.BroadcastSession(r.Context(), app, sess, msg)
	default:
		tasks = n.broadcaster.BroadcastAll(r.Context(), app, msg)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"tasks": tasks})
}

// run blocks running the relay subscription, if any, until ctx is done.
func (n *node) run(ctx context.Context) error {
	if n.relay == nil {
		<-ctx.Done()
		return nil
	}
	return n.relay.Run(ctx)
}

// close drains broadcast tasks and releases sessions and Redis.
func (n *node) close(ctx context.Context) error {
	var errs []error
	if err := n.pool.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := n.sessions.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if n.redis != nil {
		if err := n.redis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// newRedisClient connects to url and checks the server answers.
func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.New("W251").WithField(url).Wrap(err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.New("W252").WithField(opts.Addr).Wrap(err)
	}
	return client, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
