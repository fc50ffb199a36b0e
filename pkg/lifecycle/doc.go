// Package lifecycle implements the approval workflow for sensitive
// operations: a request is created, reviewed by someone with sufficient
// approval authority, and only then executed.
//
// Status moves PENDING -> APPROVED -> EXECUTED, with REJECTED and EXPIRED
// as the other terminal outcomes. Transitions are compare-and-swap updates
// on the stored status, so two concurrent reviewers or executors cannot
// both win; the loser observes a conflict. Every transition commits its
// audit entry in the same database transaction as the status write.
//
// The per-type policy table decides which capability codes gate each step
// and which approval level a reviewer must hold. Side effects live behind
// the executor registry (pkg/lifecycle/executor) and run only after the
// EXECUTED status write has won.
package lifecycle
