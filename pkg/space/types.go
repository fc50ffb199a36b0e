package space

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
)

// ApprovalLevel is the ordinal authority a role carries when reviewing or
// executing gated sensitive-action requests. NONE < NORMAL < SENSITIVE <
// CRITICAL.
type ApprovalLevel int

const (
	ApprovalNone ApprovalLevel = iota
	ApprovalNormal
	ApprovalSensitive
	ApprovalCritical
)

var approvalLevelNames = map[ApprovalLevel]string{
	ApprovalNone:      "NONE",
	ApprovalNormal:    "NORMAL",
	ApprovalSensitive: "SENSITIVE",
	ApprovalCritical:  "CRITICAL",
}

func (l ApprovalLevel) String() string {
	if name, ok := approvalLevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("ApprovalLevel(%d)", int(l))
}

// AtLeast reports whether l carries at least the authority of required.
func (l ApprovalLevel) AtLeast(required ApprovalLevel) bool {
	return l >= required
}

// ParseApprovalLevel parses the canonical level names.
func ParseApprovalLevel(s string) (ApprovalLevel, error) {
	for level, name := range approvalLevelNames {
		if name == s {
			return level, nil
		}
	}
	return ApprovalNone, fmt.Errorf("unknown approval level %q", s)
}

// MarshalJSON encodes the level as its canonical name.
func (l ApprovalLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a canonical level name.
func (l *ApprovalLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseApprovalLevel(s)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// Value implements driver.Valuer; levels are stored by name.
func (l ApprovalLevel) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner.
func (l *ApprovalLevel) Scan(src interface{}) error {
	switch v := src.(type) {
	case string:
		parsed, err := ParseApprovalLevel(v)
		if err != nil {
			return err
		}
		*l = parsed
		return nil
	case []byte:
		return l.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan approval level from %T", src)
	}
}

// SpaceRole is a named bundle of capabilities scoped to a space. Hierarchy
// orders roles within a space for display and escalation; (SpaceID, Code)
// is unique.
type SpaceRole struct {
	ID               int64             `json:"id"`
	SpaceID          string            `json:"space_id"`
	Code             string            `json:"code"`
	Name             string            `json:"name"`
	Hierarchy        int               `json:"hierarchy"`
	Capabilities     []capability.Code `json:"capabilities"`
	CanApproveGrants bool              `json:"can_approve_grants"`
	ApprovalLevel    ApprovalLevel     `json:"approval_level"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// HasCapability reports whether the role's capability set contains code.
func (r *SpaceRole) HasCapability(code capability.Code) bool {
	for _, c := range r.Capabilities {
		if c == code {
			return true
		}
	}
	return false
}

// RolePatch describes a partial role update; nil fields are left unchanged.
type RolePatch struct {
	Name             *string        `json:"name,omitempty"`
	Hierarchy        *int           `json:"hierarchy,omitempty"`
	Capabilities     *[]string      `json:"capabilities,omitempty"`
	CanApproveGrants *bool          `json:"can_approve_grants,omitempty"`
	ApprovalLevel    *ApprovalLevel `json:"approval_level,omitempty"`
}

// Invalidator receives notice that authorization state touching a space has
// changed. The resolver cache implements it; stores call it on every role
// or grant write so stale authorization is never served.
type Invalidator interface {
	InvalidateSpace(spaceID string)
}
