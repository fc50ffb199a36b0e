package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names what happened, dot-namespaced by subsystem.
type Action string

const (
	// Sensitive-action request lifecycle
	ActionRequestCreated   Action = "request.created"
	ActionRequestExpired   Action = "request.expired"
	ActionReviewApproved   Action = "review.approved"
	ActionReviewRejected   Action = "review.rejected"
	ActionExecuteSucceeded Action = "execute.succeeded"
	ActionExecuteFailed    Action = "execute.failed"

	// Authorization decisions
	ActionAuthzDenied Action = "authz.denied"

	// Role and grant administration
	ActionRoleCreated  Action = "role.created"
	ActionRoleUpdated  Action = "role.updated"
	ActionRoleDeleted  Action = "role.deleted"
	ActionGrantUpdated Action = "grant.updated"
	ActionGrantDeleted Action = "grant.deleted"
)

// Outcome classifies how the recorded action ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// TargetType names the kind of entity an entry refers to.
type TargetType string

const (
	TargetRequest TargetType = "request"
	TargetRole    TargetType = "role"
	TargetGrant   TargetType = "grant"
	TargetUser    TargetType = "user"
)

// Entry is a single audit record.
type Entry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	ActorID    string            `json:"actor_id"`
	Action     Action            `json:"action"`
	TargetType TargetType        `json:"target_type"`
	TargetID   string            `json:"target_id"`
	Outcome    Outcome           `json:"outcome"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewEntry builds an entry with a fresh ID and timestamp. The system actor
// (expiry sweep) uses actorID "system".
func NewEntry(actorID string, action Action, targetType TargetType, targetID string, outcome Outcome) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Outcome:    outcome,
	}
}

// WithMetadata attaches a metadata pair and returns the entry.
func (e Entry) WithMetadata(key, value string) Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// Filter selects entries for Search.
type Filter struct {
	ActorID    string
	Action     Action
	TargetType TargetType
	TargetID   string
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}
