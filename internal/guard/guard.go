// Package guard decides whether an identity may reach a role-restricted
// endpoint or view. The same decision function backs the server middleware
// and the client route gate.
package guard

import (
	"fmt"
	"net/http"
	"strings"
)

// Role is an account kind
type Role string

// Supported roles
const (
	RoleJobseeker Role = "jobseeker"
	RoleEmployer  Role = "employer"
)

// Roles lists every supported role
var Roles = []Role{RoleJobseeker, RoleEmployer}

// ParseRole validates a role string
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Roles {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Identity is the minimal view of a caller the guard needs
type Identity struct {
	Subject string
	Role    Role
}

// Reason explains a denial
type Reason int

const (
	// NotAuthenticated means there is no verified identity
	NotAuthenticated Reason = iota + 1
	// RoleMismatch means the identity's role is not in the required set
	RoleMismatch
)

func (r Reason) String() string {
	switch r {
	case NotAuthenticated:
		return "not_authenticated"
	case RoleMismatch:
		return "role_mismatch"
	default:
		return "unknown"
	}
}

// Decision is the outcome of Authorize. The zero value is Allow.
type Decision struct {
	Reason Reason
}

// Allowed reports whether access is granted
func (d Decision) Allowed() bool {
	return d.Reason == 0
}

// Status maps the decision to an HTTP status code
func (d Decision) Status() int {
	switch d.Reason {
	case 0:
		return http.StatusOK
	case RoleMismatch:
		return http.StatusForbidden
	default:
		return http.StatusUnauthorized
	}
}

func (d Decision) String() string {
	if d.Allowed() {
		return "allow"
	}
	return "deny(" + d.Reason.String() + ")"
}

// Allow grants access
func Allow() Decision { return Decision{} }

// Deny refuses access for the given reason
func Deny(reason Reason) Decision { return Decision{Reason: reason} }

// Authorize decides whether id may proceed. An empty required set admits any
// authenticated identity.
func Authorize(id *Identity, required ...Role) Decision {
	if id == nil || id.Subject == "" {
		return Deny(NotAuthenticated)
	}
	if len(required) == 0 {
		return Allow()
	}
	for _, r := range required {
		if id.Role == r {
			return Allow()
		}
	}
	return Deny(RoleMismatch)
}
