package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span as failed.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("error_occurred", trace.WithAttributes(
		attrs...,
	))
}

// TaskAttr tags a span with the task number it operates on. Zero means the whole workflow.
func TaskAttr(number int) attribute.KeyValue {
	return attribute.Int(TaskNumberKey, number)
}

// UserAttr tags a span with the acting user.
func UserAttr(userID int64) attribute.KeyValue {
	return attribute.Int64(UserIDKey, userID)
}
