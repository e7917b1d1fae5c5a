package rfc

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCallTimeout bounds a single remote execution.
const DefaultCallTimeout = 60 * time.Second

// executeFunc is the remote step: stateless on a destination or bound to a session.
type executeFunc func(ctx context.Context, inv *Invocation) (*CallResult, error)

// invoker runs remote steps under a bounded timeout.
type invoker struct {
	timeout time.Duration
}

type outcome struct {
	result *CallResult
	err    error
}

// execute runs exec and returns when it completes or the deadline expires,
// whichever comes first. Expiry is reported as a transport failure and a
// panic in exec as an internal one.
func (iv invoker) execute(
	ctx context.Context,
	destination string,
	exec executeFunc,
	inv *Invocation,
) (*CallResult, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rfc.Execute",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rfc.destination", destination),
			attribute.String("rfc.function", inv.Function),
		),
	)
	defer span.End()

	if iv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.timeout)
		defer cancel()
	}

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("remote call panicked: %v", r)}
			}
		}()
		r, err := exec(ctx, inv)
		done <- outcome{result: r, err: err}
	}()

	var o outcome
	select {
	case o = <-done:
	case <-ctx.Done():
		o = outcome{err: fmt.Errorf("remote call did not complete within %s: %w", iv.timeout, ctx.Err())}
	}

	if o.err != nil {
		span.RecordError(o.err)
		span.SetStatus(codes.Error, "remote call failed")
		return nil, classify(o.err, inv.Function, destination)
	}
	if o.result == nil {
		o.result = &CallResult{}
	}
	return o.result, nil
}
