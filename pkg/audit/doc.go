// Package audit provides the append-only audit trail for authorization
// decisions and sensitive-action lifecycle transitions.
//
// Entries are never updated or deleted by this subsystem. Lifecycle
// transitions append their entry inside the same database transaction as
// the status write, so every successful transition has exactly one audit
// entry. Standalone appends (denial records, role administration) may fail
// transiently; callers log and continue, since a lost audit write is a
// degraded-observability incident, not an authorization failure.
package audit
