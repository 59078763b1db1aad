package main

import (
	"fmt"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// stumpyLogger adapts a *logiface.Logger[*stumpy.Event] to the minimal
// Printf-shaped Logger interface that pool, conn, server, and middleware
// each declare independently. Grounded on the logiface-stumpy package's
// example usage (stumpy.L.New(stumpy.L.WithStumpy(...)) -> a
// *logiface.Logger[*stumpy.Event], driven via .Info()/.Err().Log(msg)),
// generalized here into a single adapter shared by every package that would
// otherwise need its own copy.
type stumpyLogger struct {
	l *logiface.Logger[*stumpy.Event]
}

// newStumpyLogger builds a JSON structured logger writing to stderr, using
// the same default field names (lvl/msg/err) the teacher package's
// logiface-stumpy example leaves in place.
func newStumpyLogger() stumpyLogger {
	return stumpyLogger{l: stumpy.L.New(stumpy.L.WithStumpy())}
}

// Printf formats the message and logs it at Info level. Most call sites in
// this module log operational detail, not severity-classified events, so a
// single level keeps the adapter simple; a dedicated error path would need
// access to the underlying error value, which the Printf-shaped interface
// does not carry.
func (s stumpyLogger) Printf(format string, args ...any) {
	s.l.Info().Log(fmt.Sprintf(format, args...))
}
