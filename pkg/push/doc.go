// Package push is the dispatch core of wspush.
//
// It turns one message for one (app, session, view) target into one
// dispatch: establish the execution context, resolve the view, deliver the
// payload to the view's listeners, flush the buffered reply, then restore
// the previous context and commit the session. Broadcaster fans a message
// out to many targets through a pluggable Executor.
//
// # Architecture
//
//   - Directory: applications by ID, each with its session.Lookup
//   - Processor: runs dispatches (Processor.Dispatch)
//   - ResponseBuffer: per-dispatch reply, text or binary, flushed once
//   - Scope: where the active ExecutionContext lives between Enter and
//     Restore (GoroutineScope by default)
//   - Broadcaster: BroadcastOne, BroadcastSession, BroadcastAll
//   - Executor: CallerRuns (default), GoExecutor, Pool
//   - Metrics: Prometheus collectors; dispatches are also traced with
//     OpenTelemetry
//
// # Dispatch
//
// A dispatch moves through ContextEstablished, ViewResolved, Delivered and
// Flushed. Any failure aborts that one dispatch: it is logged, counted and
// returned to the direct caller, and never reaches other dispatches. The
// execution context is restored and the response buffer released on every
// exit path, and the session is committed whenever it was resolved.
//
// Connected and Closed messages are notifications. Their replies are
// discarded instead of flushed.
//
// # Context reuse
//
// When the calling goroutine already has an active context for the same
// application and session, and the message is not a Push, the session is
// reused instead of looked up again. Push messages and goroutines without an
// active context always resolve the session freshly, so background workers
// never inherit another dispatch's session.
//
// # Thread Safety
//
// Processor and Broadcaster are safe for concurrent use. A ResponseBuffer
// belongs to a single dispatch.
package push
