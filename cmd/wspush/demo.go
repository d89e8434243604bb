package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/vango-dev/wspush/pkg/event"
	"github.com/vango-dev/wspush/pkg/message"
	"github.com/vango-dev/wspush/pkg/session"
	"github.com/vango-dev/wspush/pkg/view"
)

// demoApp is the application served by "wspush serve".
const demoApp = "demo"

// echoViews returns a view factory whose views echo text and binary
// frames and render pushes as JSON text.
func echoViews(logger *slog.Logger) session.ViewFactory {
	return func(sessionID, viewID string) session.View {
		root := view.NewNode("root", view.ListenerFunc(func(ctx context.Context, p *event.Payload) error {
			switch m := p.Message().(type) {
			case message.Text:
				return p.Responder().WriteText(m.Text)
			case message.Binary:
				return p.Responder().WriteBinary(m.Bytes())
			case message.Push:
				data, err := json.Marshal(m.Payload)
				if err != nil {
					return err
				}
				return p.Responder().WriteText(string(data))
			case message.Connected, message.Closed:
				logger.Debug("view lifecycle", "session", sessionID, "view", viewID, "message", message.Describe(m))
			}
			return nil
		}))
		return view.New(viewID, root)
	}
}
