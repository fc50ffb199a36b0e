// Package grants resolves a user's effective capabilities within a space.
//
// A UserSpaceGrant layers per-user overrides on top of role membership: the
// effective set is (role capabilities ∪ custom permissions) minus revoked
// permissions. The "*" wildcard in custom permissions denotes unconditional
// authorization and is reserved for the platform super-admin persona; it is
// the only admin bypass in the system; there are no boolean admin flags.
//
// Resolution is a pure function of current role and grant state, recomputed
// on every call. An optional LRU cache can be enabled; every role or grant
// write touching a space invalidates that space's entries through the
// space.Invalidator hook, because serving stale authorization is a security
// defect, not a performance one.
package grants
