package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	applogger "FinLearn/pkg/logger"
)

// ConsumerHook wraps every handler attempt. BeforeHandle may enrich the
// context; an error from it fails the attempt without calling the handler.
type ConsumerHook interface {
	BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error)
	AfterHandle(ctx context.Context, km kafka.Message, err error)
}

type NoopHook struct{}

func (NoopHook) BeforeHandle(ctx context.Context, _ kafka.Message) (context.Context, error) {
	return ctx, nil
}

func (NoopHook) AfterHandle(context.Context, kafka.Message, error) {}

// HookChain runs Before hooks in order and After hooks in reverse. A panicking
// hook is converted into an error (Before) or ignored (After).
type HookChain struct {
	hooks []ConsumerHook
}

func NewHookChain(hooks ...ConsumerHook) *HookChain {
	c := &HookChain{}
	for _, h := range hooks {
		if h != nil {
			c.hooks = append(c.hooks, h)
		}
	}
	return c
}

func (c *HookChain) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	for _, h := range c.hooks {
		next, err := safeBefore(h, ctx, km)
		if err != nil {
			return ctx, err
		}
		ctx = next
	}
	return ctx, nil
}

func (c *HookChain) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		safeAfter(c.hooks[i], ctx, km, err)
	}
}

func safeBefore(h ConsumerHook, ctx context.Context, km kafka.Message) (out context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = ctx, fmt.Errorf("hook panic: %v", r)
		}
	}()
	return h.BeforeHandle(ctx, km)
}

func safeAfter(h ConsumerHook, ctx context.Context, km kafka.Message, err error) {
	defer func() { _ = recover() }()
	h.AfterHandle(ctx, km, err)
}

type ctxKey int

const (
	CtxStartTime ctxKey = iota
	CtxTraceID
)

const traceHeader = "trace_id"

// WithTraceID tags ctx so records published under it carry the same trace id.
func WithTraceID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, CtxTraceID, id)
}

func TraceID(km kafka.Message) string {
	for _, h := range km.Headers {
		if h.Key == traceHeader {
			return string(h.Value)
		}
	}
	return ""
}

// LoggingHook propagates the trace id and logs failed attempts with their latency.
type LoggingHook struct {
	Log *applogger.Logger
}

func (LoggingHook) BeforeHandle(ctx context.Context, km kafka.Message) (context.Context, error) {
	ctx = context.WithValue(ctx, CtxStartTime, time.Now())
	return WithTraceID(ctx, TraceID(km)), nil
}

func (h LoggingHook) AfterHandle(ctx context.Context, km kafka.Message, err error) {
	if err == nil || h.Log == nil {
		return
	}
	fields := []applogger.Field{
		applogger.String("topic", km.Topic),
		applogger.Int("partition", km.Partition),
		applogger.Int64("offset", km.Offset),
		applogger.Error(err),
	}
	if t, ok := ctx.Value(CtxStartTime).(time.Time); ok {
		fields = append(fields, applogger.Duration("took", time.Since(t)))
	}
	if id, ok := ctx.Value(CtxTraceID).(string); ok {
		fields = append(fields, applogger.String("trace_id", id))
	}
	h.Log.Warn("kafka handler attempt failed", fields...)
}
