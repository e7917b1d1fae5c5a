package destination

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

// BreakerStateFunc is called when a circuit breaker changes state
// (0=closed, 1=half-open, 2=open).
type BreakerStateFunc func(name string, state int)

// breakerTransport runs every exchange through a circuit breaker. Only
// exchange failures count; adapter-reported errors are successful
// exchanges.
type breakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

func newBreakerTransport(
	name string,
	cfg config.BreakerConfig,
	next Transport,
	logger observability.Logger,
	onState BreakerStateFunc,
) *breakerTransport {
	minRequests := safeUint32(cfg.MinRequests)

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: safeUint32(cfg.MaxRequests),
		Interval:    cfg.Interval.Duration(),
		Timeout:     cfg.Timeout.Duration(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				observability.String("destination", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)

			_, span := otel.Tracer(destinationTracerName).Start(context.Background(),
				"circuitbreaker.state_change",
				trace.WithSpanKind(trace.SpanKindInternal),
			)
			span.AddEvent("state_change", trace.WithAttributes(
				attribute.String("circuitbreaker.name", name),
				attribute.String("circuitbreaker.from", from.String()),
				attribute.String("circuitbreaker.to", to.String()),
			))
			span.End()

			if onState != nil {
				onState(name, int(to))
			}
		},
	}

	return &breakerTransport{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

func (t *breakerTransport) RoundTrip(ctx context.Context, req *Request) (*Response, error) {
	out, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.RoundTrip(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

func (t *breakerTransport) Close() error {
	return t.next.Close()
}

// State returns the breaker state.
func (t *breakerTransport) State() gobreaker.State {
	return t.cb.State()
}

func safeUint32(n int) uint32 {
	if n < 0 {
		return 0
	}
	if n > int(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(n) //nolint:gosec // bounds checked above
}

// destinationTracerName is the OpenTelemetry tracer name for destination events.
const destinationTracerName = "avarfc/destination"

