// Package capability defines the capability catalog: the single source of
// truth for every permission code in the platform.
//
// A capability is an atomic, named permission such as "auth.2fa_reset.execute"
// or "tickets.read". Codes are globally unique and dot-namespaced. Code is a
// validated value type: a Code only exists after ParseCode accepted the
// string, so a misspelled capability fails at role or grant write time
// instead of silently always-denying at check time.
//
// The catalog is immutable after construction. It is populated from compiled
// defaults (DefaultCatalog) or a YAML file (LoadCatalog) and injected into
// the stores and the request lifecycle manager as a read-only dependency.
package capability
