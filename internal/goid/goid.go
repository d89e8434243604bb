// Package goid identifies the calling goroutine.
package goid

import "runtime"

// ID returns the ID of the calling goroutine, parsed from the header of its
// stack trace ("goroutine 42 [running]:").
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + uint64(c-'0')
	}
	return id
}
