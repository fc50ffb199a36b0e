package grants

import (
	"sort"
	"time"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/capability"
)

// Wildcard is the unconditional-authorization marker allowed in a grant's
// custom permissions. It is not a capability code and never appears in the
// catalog.
const Wildcard = "*"

// UserSpaceGrant is the per-user, per-space authorization record. One grant
// exists per (UserID, SpaceID).
type UserSpaceGrant struct {
	ID                 int64     `json:"id"`
	UserID             string    `json:"user_id"`
	SpaceID            string    `json:"space_id"`
	RoleID             *int64    `json:"role_id,omitempty"`
	CustomPermissions  []string  `json:"custom_permissions"`
	RevokedPermissions []string  `json:"revoked_permissions"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasWildcard reports whether the grant carries the super-admin wildcard.
func (g *UserSpaceGrant) HasWildcard() bool {
	for _, p := range g.CustomPermissions {
		if p == Wildcard {
			return true
		}
	}
	return false
}

// Set is an effective capability set. A universal set (wildcard grant)
// contains every code, including codes not in the catalog.
type Set struct {
	universal bool
	codes     map[capability.Code]struct{}
}

// NewSet builds a set from explicit codes.
func NewSet(codes ...capability.Code) Set {
	m := make(map[capability.Code]struct{}, len(codes))
	for _, c := range codes {
		m[c] = struct{}{}
	}
	return Set{codes: m}
}

// UniversalSet returns the set that contains everything.
func UniversalSet() Set {
	return Set{universal: true}
}

// Universal reports whether the set absorbs every code.
func (s Set) Universal() bool {
	return s.universal
}

// Contains reports whether code is in the set.
func (s Set) Contains(code capability.Code) bool {
	if s.universal {
		return true
	}
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of explicit codes; zero for a universal set.
func (s Set) Len() int {
	return len(s.codes)
}

// Codes returns the explicit codes sorted; nil for a universal set.
func (s Set) Codes() []capability.Code {
	if s.universal {
		return nil
	}
	out := make([]capability.Code, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Decision is the outcome of a capability check, with enough structure for
// the audit trail to explain a denial.
type Decision struct {
	Allowed bool            `json:"allowed"`
	Reason  string          `json:"reason"`
	Code    capability.Code `json:"code"`
}
