// Package errors provides coded, actionable errors for the wspush command
// and its configuration.
//
// Every error carries a code (e.g. "W101") that maps to a registered
// template with a category, a short message and a longer explanation.
// Callers add the specifics: which field, which file, how to fix it.
//
//	err := errors.New("W103").
//	    WithField("server.ping_interval").
//	    WithSuggestion("Use a ping interval shorter than the read timeout")
//
//	fmt.Fprint(os.Stderr, err.Format())
//	// ERROR W103: Invalid duration
//	//
//	//   field: server.ping_interval
//	//
//	//   Hint: Use a ping interval shorter than the read timeout
//
// Library packages under pkg/ use plain sentinel errors; this package is
// for the operator-facing surface only.
package errors
