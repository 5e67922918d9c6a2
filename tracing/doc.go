// Package tracing provides a thin wrapper around OpenTelemetry so that the
// processing core can record spans for artifact builds, uploads and
// supervised runs without components importing the upstream API directly.
// Instrumentation lives in its own package so applications that do not need
// tracing can leave it uninitialised; spans are then no-ops.
package tracing
