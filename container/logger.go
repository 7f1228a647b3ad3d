package container

import (
	"context"

	"github.com/justapithecus/flume/types"
)

// Logger is the façade applications log through. Each logger is bound
// to its container: events below the configured minimum level are
// discarded before the chain, everything else runs the chain
// synchronously and is then either enqueued (async) or written
// straight to the sinks (sync mode).
type Logger struct {
	c *Container
}

// Debug emits a DEBUG event.
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.c.emit(context.Background(), types.LevelDebug, msg, fields)
}

// Info emits an INFO event.
func (l *Logger) Info(msg string, fields map[string]any) {
	l.c.emit(context.Background(), types.LevelInfo, msg, fields)
}

// Warn emits a WARN event.
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.c.emit(context.Background(), types.LevelWarn, msg, fields)
}

// Error emits an ERROR event.
func (l *Logger) Error(msg string, fields map[string]any) {
	l.c.emit(context.Background(), types.LevelError, msg, fields)
}

// Critical emits a CRITICAL event.
func (l *Logger) Critical(msg string, fields map[string]any) {
	l.c.emit(context.Background(), types.LevelCritical, msg, fields)
}

// DebugCtx emits a DEBUG event carrying the request context, so
// context enrichers see the current frame.
func (l *Logger) DebugCtx(ctx context.Context, msg string, fields map[string]any) {
	l.c.emit(ctx, types.LevelDebug, msg, fields)
}

// InfoCtx emits an INFO event carrying the request context.
func (l *Logger) InfoCtx(ctx context.Context, msg string, fields map[string]any) {
	l.c.emit(ctx, types.LevelInfo, msg, fields)
}

// WarnCtx emits a WARN event carrying the request context.
func (l *Logger) WarnCtx(ctx context.Context, msg string, fields map[string]any) {
	l.c.emit(ctx, types.LevelWarn, msg, fields)
}

// ErrorCtx emits an ERROR event carrying the request context.
func (l *Logger) ErrorCtx(ctx context.Context, msg string, fields map[string]any) {
	l.c.emit(ctx, types.LevelError, msg, fields)
}

// CriticalCtx emits a CRITICAL event carrying the request context.
func (l *Logger) CriticalCtx(ctx context.Context, msg string, fields map[string]any) {
	l.c.emit(ctx, types.LevelCritical, msg, fields)
}

// Log emits an event at an arbitrary level.
func (l *Logger) Log(ctx context.Context, level types.Level, msg string, fields map[string]any) {
	l.c.emit(ctx, level, msg, fields)
}
