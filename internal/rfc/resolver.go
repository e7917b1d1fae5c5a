package rfc

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the OpenTelemetry tracer name for bridge operations.
const tracerName = "avarfc/rfc"

// Resolve looks the function up in the destination's repository. A missing
// schema is a hard FunctionNotFound failure; repository errors are transport
// failures.
func Resolve(ctx context.Context, dest Destination, function string) (*FunctionSchema, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "rfc.Resolve",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("rfc.destination", dest.Name()),
			attribute.String("rfc.function", function),
		),
	)
	defer span.End()

	schema, err := dest.FunctionSchema(ctx, function)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "metadata lookup failed")
		return nil, classify(err, function, dest.Name())
	}
	if schema == nil {
		span.SetAttributes(attribute.Bool("rfc.found", false))
		return nil, &Error{
			Kind:        KindFunctionNotFound,
			Function:    function,
			Destination: dest.Name(),
			Detail:      "function " + function + " is not known to destination " + dest.Name(),
		}
	}

	span.SetAttributes(
		attribute.Bool("rfc.found", true),
		attribute.Int("rfc.parameters", len(schema.Parameters)),
	)
	return schema, nil
}
