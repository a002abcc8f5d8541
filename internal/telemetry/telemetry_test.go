package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// record swaps in a tracer that keeps finished spans in memory.
func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	mu.Lock()
	prev, prevEnabled := tracer, enabled
	tracer, enabled = tp.Tracer("test"), true
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		tracer, enabled = prev, prevEnabled
		mu.Unlock()
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]attribute.Value {
	m := make(map[attribute.Key]attribute.Value, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value
	}
	return m
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "shadowfs", cfg.ServiceName)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "shadowfs"})
	require.NoError(t, err)
	assert.False(t, IsEnabled())
	assert.NoError(t, shutdown(context.Background()))

	_, span := StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}

func TestStartMigrationSpan(t *testing.T) {
	rec := record(t)

	ctx, span := StartMigrationSpan(context.Background(), SpanMigrateFile, []byte{0xab, 0x01}, Size(10), Offset(0))
	SetAttributes(ctx, Remaining(4))
	RecordError(ctx, errors.New("short read"))
	RecordError(ctx, nil)
	span.End()

	_, walk := StartMigrationSpan(context.Background(), SpanWalk, nil)
	walk.End()

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, SpanMigrateFile, spans[0].Name())
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "ab01", got[AttrHandle].AsString())
	assert.Equal(t, int64(10), got[AttrSize].AsInt64())
	assert.Equal(t, int64(4), got[AttrRemaining].AsInt64())
	assert.Equal(t, "short read", spans[0].Status().Description)
	assert.Len(t, spans[0].Events(), 1)

	_, ok := attrs(spans[1].Attributes())[AttrHandle]
	assert.False(t, ok)
}

func TestStartControlSpan(t *testing.T) {
	rec := record(t)

	_, span := StartControlSpan(context.Background(), "force-migrate", Mount("m1"), Blocking(true))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "control.force-migrate", spans[0].Name())
	got := attrs(spans[0].Attributes())
	assert.Equal(t, "force-migrate", got[AttrRequest].AsString())
	assert.Equal(t, "m1", got[AttrMount].AsString())
	assert.True(t, got[AttrBlocking].AsBool())
}

func TestInitProfilingDisabled(t *testing.T) {
	stop, err := InitProfiling(ProfilingConfig{})
	require.NoError(t, err)
	assert.False(t, IsProfilingEnabled())
	assert.NoError(t, stop())
}

func TestInitProfilingRejectsUnknownType(t *testing.T) {
	_, err := InitProfiling(ProfilingConfig{Enabled: true, ProfileTypes: []string{"cpu", "heat"}})
	assert.ErrorContains(t, err, `unknown profile type "heat"`)
	assert.False(t, IsProfilingEnabled())
}

func TestProfileTypeNames(t *testing.T) {
	names := ProfileTypeNames()
	assert.Len(t, names, 10)
	assert.Equal(t, "alloc_objects", names[0])
	assert.Contains(t, names, "mutex_duration")
}
