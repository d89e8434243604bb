package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/vango-dev/wspush/internal/config"
	"github.com/vango-dev/wspush/internal/errors"
	"github.com/vango-dev/wspush/pkg/relay"
)

func pushCmd() *cobra.Command {
	var (
		redisURL string
		channel  string
		app      string
		sess     string
		viewID   string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "push [flags] <json>",
		Short: "Publish a push through the Redis relay",
		Long: `Publish a JSON payload to every wspush node subscribed to the relay
channel. Each node delivers it to its own connections of the application,
narrowed to one session or one view when --session and --view are given.

Examples:
  wspush push --redis redis://localhost:6379 --app demo '{"count": 1}'
  wspush push --app demo --session 3f2a... --view main '"hello"'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if redisURL == "" {
				redisURL = os.Getenv(config.EnvRedisURL)
			}
			if redisURL == "" {
				return errors.New("W301").WithField("--redis").
					WithSuggestion("Pass --redis or set " + config.EnvRedisURL)
			}
			if app == "" {
				return errors.New("W301").WithField("--app")
			}
			if !json.Valid([]byte(args[0])) {
				return errors.New("W302").WithSuggestion(`Quote the payload, e.g. '{"n": 1}' or '"text"'`)
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			client, err := newRedisClient(ctx, redisURL)
			if err != nil {
				return err
			}
			defer client.Close()

			r := relay.New(client, nil, relay.WithChannel(channel))
			env := relay.Envelope{App: app, Session: sess, View: viewID, Payload: json.RawMessage(args[0])}
			if err := r.Publish(ctx, env); err != nil {
				return errors.New("W253").Wrap(err)
			}

			success("published to %s (app %s)", channel, app)
			return nil
		},
	}

	cmd.Flags().StringVar(&redisURL, "redis", "", "Redis URL (default $"+config.EnvRedisURL+")")
	cmd.Flags().StringVar(&channel, "channel", relay.DefaultChannel, "Relay channel")
	cmd.Flags().StringVar(&app, "app", "", "Target application")
	cmd.Flags().StringVar(&sess, "session", "", "Target session")
	cmd.Flags().StringVar(&viewID, "view", "", "Target view (requires --session)")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connect and publish timeout")

	return cmd
}
