// Package progress keeps aggregated branch counters for one pipeline run.
// The tracker lives in the execution context, so every component that
// receives the context can update the counters without a global registry.
package progress
