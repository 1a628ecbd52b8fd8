package otelhelper

import (
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// coded is implemented by errors that carry a stable API error code.
type coded interface {
	ErrorCode() string
}

// SetError marks the span failed. The error code of the first coded error in the chain is recorded under
// ErrorCodeKey so failed progressions can be grouped by cause.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	var c coded
	if errors.As(err, &c) && c.ErrorCode() != "" {
		attrs = append(attrs, attribute.String(ErrorCodeKey, c.ErrorCode()))
	}

	span.RecordError(err, trace.WithAttributes(attrs...))
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attrs...)
}
