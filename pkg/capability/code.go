package capability

import (
	"strings"

	"github.com/bychrisr/kaven-boilerplate-sub002/pkg/apperrors"
)

// Code is a validated capability code. Codes are dot-namespaced with at
// least two segments of lowercase letters, digits, and underscores, e.g.
// "tickets.read" or "auth.2fa_reset.request".
type Code string

func (c Code) String() string {
	return string(c)
}

// Namespace returns the first segment of the code.
func (c Code) Namespace() string {
	s := string(c)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// ParseCode validates a raw string as a capability code.
func ParseCode(raw string) (Code, error) {
	if raw == "" {
		return "", apperrors.New(apperrors.KindValidation, "capability code is empty")
	}
	segments := strings.Split(raw, ".")
	if len(segments) < 2 {
		return "", apperrors.Newf(apperrors.KindValidation,
			"capability code %q must have at least two dot-separated segments", raw).
			WithDetail("code", raw)
	}
	for _, seg := range segments {
		if !validSegment(seg) {
			return "", apperrors.Newf(apperrors.KindValidation,
				"capability code %q has invalid segment %q", raw, seg).
				WithDetail("code", raw)
		}
	}
	return Code(raw), nil
}

// MustCode parses a code and panics on failure. For compiled defaults and
// tests only.
func MustCode(raw string) Code {
	c, err := ParseCode(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func validSegment(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}
