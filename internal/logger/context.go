package logger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

type contextKey struct{}

// LogContext holds the operation-scoped fields added by the *Ctx functions.
type LogContext struct {
	MountID   string
	Operation string // resolve, process, walk, control...
	Handle    string // hex
	Path      string // local, root-relative
	StartTime time.Time
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// FromContext returns the LogContext carried by ctx, or nil.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(contextKey{}).(*LogContext)
	return lc
}

func NewLogContext(mountID string) *LogContext {
	return &LogContext{MountID: mountID, StartTime: time.Now()}
}

// WithOperation returns a copy of lc naming op.
func (lc *LogContext) WithOperation(op string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Operation = op
	return &c
}

// WithObject returns a copy of lc naming the object being worked on.
func (lc *LogContext) WithObject(handle, path string) *LogContext {
	if lc == nil {
		return nil
	}
	c := *lc
	c.Handle, c.Path = handle, path
	return &c
}

// Elapsed returns the time since the context was created.
func (lc *LogContext) Elapsed() time.Duration {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return time.Since(lc.StartTime)
}

// appendContextFields prefixes args with the active span and the
// LogContext of ctx.
func appendContextFields(ctx context.Context, args []any) []any {
	sc := trace.SpanContextFromContext(ctx)
	lc := FromContext(ctx)
	if !sc.IsValid() && lc == nil {
		return args
	}

	out := make([]any, 0, 12+len(args))
	if sc.IsValid() {
		out = append(out, KeyTraceID, sc.TraceID().String(), KeySpanID, sc.SpanID().String())
	}
	if lc != nil {
		for _, f := range [...]struct{ key, val string }{
			{KeyMountID, lc.MountID},
			{KeyOperation, lc.Operation},
			{KeyHandle, lc.Handle},
			{KeyPath, lc.Path},
		} {
			if f.val != "" {
				out = append(out, f.key, f.val)
			}
		}
	}
	return append(out, args...)
}
