package telemetry

import (
	"context"
	"encoding/hex"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for shadow migration spans.
const (
	AttrMount      = "shadow.mount"
	AttrHandle     = "shadow.handle"
	AttrRemotePath = "shadow.remote_path"
	AttrBlocking   = "shadow.blocking"

	AttrOffset    = "shadow.offset"
	AttrLength    = "shadow.length"
	AttrSize      = "shadow.size"
	AttrRemaining = "shadow.remaining"

	AttrRequest = "control.request"
)

// Span names used by the migration engine.
const (
	SpanResolve        = "shadow.resolve"
	SpanMigrateDir     = "shadow.migrate_dir"
	SpanMigrateFile    = "shadow.migrate_file"
	SpanProcessPending = "shadow.process_pending"
	SpanWalk           = "shadow.walk"
)

func Mount(id string) attribute.KeyValue { return attribute.String(AttrMount, id) }

// Handle formats a binary object handle as hex.
func Handle(h []byte) attribute.KeyValue { return attribute.String(AttrHandle, hex.EncodeToString(h)) }

func RemotePath(p string) attribute.KeyValue { return attribute.String(AttrRemotePath, p) }
func Blocking(b bool) attribute.KeyValue     { return attribute.Bool(AttrBlocking, b) }

func Offset(off int64) attribute.KeyValue  { return attribute.Int64(AttrOffset, off) }
func Length(n int64) attribute.KeyValue    { return attribute.Int64(AttrLength, n) }
func Size(n int64) attribute.KeyValue      { return attribute.Int64(AttrSize, n) }
func Remaining(n int64) attribute.KeyValue { return attribute.Int64(AttrRemaining, n) }

// StartMigrationSpan starts a span for a migration step on one object. The
// handle attribute is omitted when handle is empty.
func StartMigrationSpan(ctx context.Context, name string, handle []byte, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if len(handle) > 0 {
		attrs = append([]attribute.KeyValue{Handle(handle)}, attrs...)
	}
	return StartSpan(ctx, name, trace.WithAttributes(attrs...))
}

// StartControlSpan starts a span named control.<request>.
func StartControlSpan(ctx context.Context, request string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append([]attribute.KeyValue{attribute.String(AttrRequest, request)}, attrs...)
	return StartSpan(ctx, "control."+request, trace.WithAttributes(attrs...))
}
