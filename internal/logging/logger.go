// Package logging is the structured logger every officesync component
// receives by injection. The server logs JSON lines to stdout; the client
// logs to a rotating file so its terminal stays free for the REPL.
package logging

import "context"

// Logger takes key/value pairs after the message:
//
//	log.Info(ctx, "entity synced", "entity", entity, "pulled", n)
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that adds args to every record, usually
	// "component".
	With(args ...any) Logger
}
