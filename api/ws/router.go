package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/bridge"
)

const tracerName = "github.com/kasuganosora/corrosion/api/ws"

// HandlerFunc processes a decoded bridge message payload.
type HandlerFunc func(ctx context.Context, conn *bridge.Conn, payload json.RawMessage) error

// Router dispatches packets from a host runtime to registered handlers.
// Handlers are registered before the first Dispatch and never after.
type Router struct {
	handlers map[string]HandlerFunc
	tracer   trace.Tracer
	logger   *zap.Logger

	rejected atomic.Int64
}

// NewRouter creates a Router that traces through the global provider.
func NewRouter(logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		handlers: make(map[string]HandlerFunc),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// On registers fn for msgType, replacing any earlier handler.
func (r *Router) On(msgType string, fn HandlerFunc) {
	r.handlers[msgType] = fn
}

// Rejected counts packets dropped as malformed, replayed or unknown.
func (r *Router) Rejected() int64 { return r.rejected.Load() }

// Dispatch decodes one packet, enforces the per-connection sequence and runs
// its handler inside a span. A panicking handler is logged, not propagated.
func (r *Router) Dispatch(ctx context.Context, c *bridge.Conn, raw []byte) {
	var pkt bridge.Packet
	if err := json.Unmarshal(raw, &pkt); err != nil {
		r.rejected.Add(1)
		r.logger.Warn("malformed packet", zap.String("runtime", c.NodeID), zap.Error(err))
		return
	}

	// Seq 0 means the runtime does not number its packets.
	if pkt.Seq != 0 {
		if pkt.Seq <= c.LastSeq {
			r.rejected.Add(1)
			r.logger.Warn("replayed or out-of-order packet",
				zap.String("runtime", c.NodeID),
				zap.Uint64("seq", pkt.Seq),
				zap.Uint64("last_seq", c.LastSeq))
			return
		}
		c.LastSeq = pkt.Seq
	}

	fn, ok := r.handlers[pkt.Type]
	if !ok {
		r.rejected.Add(1)
		r.logger.Debug("unhandled message type",
			zap.String("type", pkt.Type),
			zap.String("runtime", c.NodeID))
		return
	}

	ctx, span := r.tracer.Start(ctx, "bridge "+pkt.Type,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("corrosion.session", c.SessionID),
			attribute.String("corrosion.runtime", c.NodeID),
			attribute.Int64("corrosion.seq", int64(pkt.Seq)),
		))
	defer span.End()

	c.TraceID = uuid.NewString()
	if sc := span.SpanContext(); sc.HasTraceID() {
		c.TraceID = sc.TraceID().String()
	}
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, c.TraceID)

	if err := r.call(ctx, fn, c, pkt.Payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("handler error",
			zap.String("type", pkt.Type),
			zap.String("runtime", c.NodeID),
			zap.String("trace_id", c.TraceID),
			zap.Error(err))
	}
}

func (r *Router) call(ctx context.Context, fn HandlerFunc, c *bridge.Conn, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return fn(ctx, c, payload)
}

type ctxKeyTraceID struct{}

// TraceIDFromCtx extracts the trace ID from a handler context.
func TraceIDFromCtx(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return v
	}
	return ""
}
