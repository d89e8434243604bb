package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/vango-dev/wspush/internal/config"
	"github.com/vango-dev/wspush/internal/errors"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a wspush node",
		Long: `Run a wspush node serving the echo demo application.

Routes:
  POST /session        create a session (cookie + JSON body)
  GET  /ws/{app}       websocket; ?session=...&view=... or &resource=...
  POST /push/{app}     push the JSON body; ?session= and &view= narrow it
  GET  /metrics        Prometheus metrics
  GET  /healthz        liveness

Examples:
  wspush serve
  wspush serve --addr :9000
  WSPUSH_REDIS_URL=redis://localhost:6379 wspush serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath, addr)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to "+config.FileName+" (default: ./"+config.FileName+" if present)")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")

	return cmd
}

// loadConfig reads the configuration, applies the environment and flag
// overrides, and validates the result.
func loadConfig(path, addr string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnv(os.LookupEnv)
	if addr != "" {
		cfg.Server.Addr = addr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(os.Stderr, cfg.Log)

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	n, err := newNode(ctx, cfg, logger, promReg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		_ = n.close(context.Background())
		return errors.New("W201").WithField(cfg.Server.Addr).Wrap(err)
	}

	srv := &http.Server{
		Handler:           n.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	relayErr := make(chan error, 1)
	go func() { relayErr <- n.run(ctx) }()

	success("wspush listening on %s", ln.Addr())
	if n.relay != nil {
		info("relay: %s on %s (node %s)", cfg.Relay.RedisURL, n.relay.Channel(), n.relay.NodeID())
	}
	if cfg.Metrics.Enabled {
		info("metrics: http://%s/metrics", ln.Addr())
	}

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !stderrors.Is(err, http.ErrServerClosed) {
			runErr = errors.New("W201").WithField(cfg.Server.Addr).Wrap(err)
		}
	case err := <-relayErr:
		if err != nil {
			runErr = err
		}
	}
	stop()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = stderrors.Join(runErr, errors.New("W202").Wrap(err))
	}
	if err := n.close(shutdownCtx); err != nil {
		runErr = stderrors.Join(runErr, errors.New("W202").Wrap(err))
	}
	return runErr
}
