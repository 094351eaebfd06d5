package instrumentation

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Common span attribute keys.
//
// SECURITY: never set actual credential values (token strings, client
// secrets, authorization codes) as attribute values. Traces are persisted,
// replicated and readable by wider audiences than production systems. Only
// record metadata: types, outcomes, expiry durations.
const (
	AttrClientID      = "oauth.client_id"      // Client identifier (non-secret)
	AttrUserID        = "oauth.user_id"        // User identifier (non-secret)
	AttrGrantType     = "oauth.grant_type"     // OAuth grant type
	AttrClientType    = "oauth.client_type"    // Client type (public/confidential)
	AttrScope         = "oauth.scope"          // Granted scopes
	AttrTokenType     = "oauth.token_type"     //nolint:gosec // Token type tag, never the token itself
	AttrRefreshIssued = "oauth.refresh_issued" // Whether a refresh token was issued (boolean)
	AttrErrorCode     = "oauth.error"          // OAuth error code
	AttrExpiresIn     = "oauth.expires_in"     // Token expiry duration in seconds

	AttrStorageOperation = "storage.operation"
	AttrStorageResult    = "storage.result"
	AttrStorageType      = "storage.type"
)

// RecordError records an error on a span with proper status codes (nil-safe)
func RecordError(span trace.Span, err error) {
	if span != nil && err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess marks a span as successful (nil-safe)
func SetSpanSuccess(span trace.Span) {
	if span != nil {
		span.SetStatus(codes.Ok, "")
	}
}

// SetSpanError marks a span as failed with a message (nil-safe)
func SetSpanError(span trace.Span, message string) {
	if span != nil {
		span.SetStatus(codes.Error, message)
	}
}

// SetSpanAttributes sets attributes on a span (nil-safe)
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	if span != nil {
		span.SetAttributes(attrs...)
	}
}

// AddGrantAttributes adds the standard token-endpoint attributes to a span
func AddGrantAttributes(span trace.Span, clientID, clientType string, grantType string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(AttrClientID, clientID),
		attribute.String(AttrClientType, clientType),
		attribute.String(AttrGrantType, grantType),
	)
}
