// Package executor holds the side-effect handlers that run once an
// approved sensitive-action request is executed. Executors must be
// idempotent: the state layer guarantees at most one invocation per
// request, executors tolerate re-runs as defense in depth.
package executor
