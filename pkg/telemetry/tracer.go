package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Tracer is a thin span facade so corpus components can emit spans without
// caring whether telemetry is wired in.
type Tracer interface {
	Start()
	WithAttributes(attrs ...attribute.KeyValue) Tracer
	AddEvent(name string, attrs ...attribute.KeyValue)
	SetStatus(code codes.Code, message string)
	Spawn(spanName string) Tracer
	End()
}

type TracerKey struct{} // TracerKey is used to store and retrieve the tracer from the context

type TracerFactory struct {
	telemetry Telemetry
}

type TracerFactoryParams struct {
	fx.In
	Telemetry Telemetry `optional:"true"`
}

func NewTracerFactory(p TracerFactoryParams) *TracerFactory {
	return &TracerFactory{telemetry: p.Telemetry}
}

func (t *TracerFactory) NewTracer(ctx context.Context, spanName string) Tracer {
	if t.telemetry == nil || t.telemetry.GetTracer() == nil {
		return &DummyTracer{}
	}
	return &spanTracer{tracer: t.telemetry.GetTracer(), tracerCtx: ctx, spanName: spanName}
}

type spanTracer struct {
	tracer    trace.Tracer
	tracerCtx context.Context
	span      trace.Span
	spanName  string
	attrs     []attribute.KeyValue

	started bool // to track if the span has been started
}

func (t *spanTracer) Start() {
	t.tracerCtx, t.span = t.tracer.Start(t.tracerCtx, t.spanName,
		trace.WithAttributes(t.attrs...))
	t.started = true
}

func (t *spanTracer) WithAttributes(attrs ...attribute.KeyValue) Tracer {
	t.attrs = append(t.attrs, attrs...)
	if t.started {
		t.span.SetAttributes(attrs...)
	}
	return t
}

func (t *spanTracer) AddEvent(name string, attrs ...attribute.KeyValue) {
	t.span.AddEvent(name, trace.WithAttributes(attrs...))
}

func (t *spanTracer) SetStatus(code codes.Code, message string) {
	t.span.SetStatus(code, message)
}

func (t *spanTracer) Spawn(spanName string) Tracer {
	child := &spanTracer{tracer: t.tracer, tracerCtx: t.tracerCtx, spanName: spanName}
	return child.WithAttributes(t.attrs...)
}

func (t *spanTracer) End() {
	if !t.started {
		return // do not end if the span was never started
	}
	t.span.End()
}

// A dummy tracer that does nothing when telemetry is not enabled
type DummyTracer struct{}

func (t *DummyTracer) Start()                                            {}
func (t *DummyTracer) WithAttributes(attrs ...attribute.KeyValue) Tracer { return t }
func (t *DummyTracer) AddEvent(name string, attrs ...attribute.KeyValue) {}
func (t *DummyTracer) SetStatus(code codes.Code, message string)         {}
func (t *DummyTracer) Spawn(spanName string) Tracer                      { return t }
func (t *DummyTracer) End()                                              {}
