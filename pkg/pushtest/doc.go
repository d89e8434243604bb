// Package pushtest provides fakes for testing code built on the push core.
//
// Handle records every frame sent through it and can be flipped closed.
// View records delivered payloads and can run a custom listener. Sessions
// is a session.Lookup that counts lookups, FindView and Commit calls.
// Executor counts submitted tasks and can run them inline or hold them.
//
//	h := pushtest.NewHandle("conn-1")
//	v := pushtest.NewView("view1")
//	sessions := pushtest.NewSessions()
//	sessions.Add("sess1", v)
//
//	// ... dispatch through a push.Processor ...
//
//	if got := h.Texts(); len(got) != 1 || got[0] != "ping" {
//	    t.Fatalf("texts = %v", got)
//	}
package pushtest
