package lifecycle

import (
	"time"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/space"
)

// Status is the lifecycle state of a sensitive-action request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
	StatusExecuted Status = "EXECUTED"
	StatusExpired  Status = "EXPIRED"
)

// transitions is the single encoding of the legal state machine. The
// EXECUTED -> APPROVED edge exists only for reverting a failed executor.
var transitions = map[Status][]Status{
	StatusPending:  {StatusApproved, StatusRejected, StatusExpired},
	StatusApproved: {StatusExecuted, StatusExpired},
	StatusExecuted: {StatusApproved},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
// EXECUTED is terminal from the caller's point of view; the revert edge
// is internal to executor failure handling.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusExecuted:
		return true
	}
	return false
}

// ReviewAction is a reviewer's verdict.
type ReviewAction string

const (
	ReviewApprove ReviewAction = "APPROVE"
	ReviewReject  ReviewAction = "REJECT"
)

// Request is a sensitive operation awaiting approval and execution.
type Request struct {
	ID                    string              `json:"id"`
	Type                  string              `json:"type"`
	SpaceID               string              `json:"space_id"`
	TargetUserID          string              `json:"target_user_id"`
	RequesterID           string              `json:"requester_id"`
	Justification         string              `json:"justification"`
	Status                Status              `json:"status"`
	RequiredApprovalLevel space.ApprovalLevel `json:"required_approval_level"`
	CreatedAt             time.Time           `json:"created_at"`
	ReviewedBy            *string             `json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time          `json:"reviewed_at,omitempty"`
	ReviewReason          *string             `json:"review_reason,omitempty"`
	ExecutedBy            *string             `json:"executed_by,omitempty"`
	ExecutedAt            *time.Time          `json:"executed_at,omitempty"`
}
