// Package message defines the closed set of messages that flow through the
// push core.
//
// A Message is one of five variants:
//
//   - Text: a text frame received from the client
//   - Binary: a binary frame received from the client (data, offset, length)
//   - Connected: the connection for an (app, session, view) was opened
//   - Closed: the connection for an (app, session, view) was closed
//   - Push: an application-level payload produced on the server
//
// The set is sealed: only this package can add variants, so a switch on
// Kind is exhaustive. Connected and Closed are notifications. Whatever a
// listener writes while handling them is discarded, because the client does
// not expect a reply to a connection lifecycle event.
package message
