// Package instrumentation provides OpenTelemetry metrics and tracing for the
// oauth-engine. It is optional: when disabled (or not wired at all) the
// no-op providers are used and instrumentation has zero overhead.
package instrumentation
