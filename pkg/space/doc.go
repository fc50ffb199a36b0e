// Package space provides space-scoped role management.
//
// A space is a tenant-scoped functional area (Support, Finance, DevOps) that
// roles and grants attach to. A SpaceRole bundles a capability set with an
// approval-authority level; hierarchy totally orders roles within a space.
//
// Every capability code written through the Store is validated against the
// capability catalog, so an unknown code fails at write time rather than
// silently denying at check time.
package space
