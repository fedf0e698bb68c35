// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the application.
const (
	// Pipeline step attributes (spec §4.C).
	PipelineStepKindKey = "pipeline.step_kind"
	PipelineStepErrKey  = "pipeline.step_error"

	// Subscription fetch attributes (spec §4.B).
	SubscriptionURLKey      = "subscription.url"
	SubscriptionAttemptKey  = "subscription.attempt"
	SubscriptionOutcomeKey  = "subscription.outcome"

	// Supervisor lifecycle attributes (spec §4.D).
	SupervisorFromStateKey = "supervisor.from_state"
	SupervisorToStateKey   = "supervisor.to_state"
	SupervisorModeKey      = "supervisor.mode"

	// Error attributes.
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// PipelineStepAttributes creates span attributes for one enhancement
// pipeline step.
func PipelineStepAttributes(kind string, stepErr error) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(PipelineStepKindKey, kind)}
	if stepErr != nil {
		attrs = append(attrs, attribute.String(PipelineStepErrKey, stepErr.Error()))
	}
	return attrs
}

// SubscriptionFetchAttributes creates span attributes for one subscription
// fetch attempt.
func SubscriptionFetchAttributes(url string, attempt int, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SubscriptionURLKey, url),
		attribute.Int(SubscriptionAttemptKey, attempt),
		attribute.String(SubscriptionOutcomeKey, outcome),
	}
}

// SupervisorTransitionAttributes creates span attributes for one
// supervisor lifecycle transition.
func SupervisorTransitionAttributes(from, to, mode string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(SupervisorFromStateKey, from),
		attribute.String(SupervisorToStateKey, to),
		attribute.String(SupervisorModeKey, mode),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
