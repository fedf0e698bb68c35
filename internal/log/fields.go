// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldProfileID     = "profile_id"
	FieldTaskName      = "task_name"
	FieldEventID       = "event_id"

	// Process / pipeline fields
	FieldEvent        = "event"
	FieldComponent    = "component"
	FieldPipelineStep = "pipeline_step"

	// Supervisor / core lifecycle fields
	FieldSupervisorState = "state"
	FieldCoreExitCode    = "exit_code"
	FieldCoreType        = "core_type"

	// Proxy intent fields
	FieldProxyEnabled = "proxy_enabled"
	FieldProxyHost    = "proxy_host"
	FieldProxyPort    = "proxy_port"
	FieldPACURL       = "pac_url"

	// Path / URL fields
	FieldPath = "path"
)
