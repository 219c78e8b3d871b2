// Package admin is the operator-facing HTTP surface: land inventory, queue
// and server views, land retirement and replay verification, guarded by
// API-key roles.
package admin

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/landrun/landrun/internal/httpapi"
)

// Role is the admin permission level. Roles form a hierarchy: admin may do
// everything an operator may, an operator everything a viewer may.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleOperator
	RoleAdmin
)

// ParseRole maps a config string to a role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer, nil
	case "operator":
		return RoleOperator, nil
	case "admin":
		return RoleAdmin, nil
	}
	return RoleNone, fmt.Errorf("unknown admin role %q", s)
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleOperator:
		return "operator"
	case RoleAdmin:
		return "admin"
	}
	return "none"
}

// Allows reports whether the role meets an endpoint's minimum.
func (r Role) Allows(min Role) bool { return r >= min }

// Auth maps API keys to roles.
type Auth struct {
	keys map[string]Role
}

// NewAuth builds the key table.
func NewAuth(keys map[string]Role) *Auth {
	if keys == nil {
		keys = make(map[string]Role)
	}
	return &Auth{keys: keys}
}

// roleOf resolves the caller's role from the X-API-Key header or the
// apiKey query parameter.
func (a *Auth) roleOf(r *http.Request) Role {
	key := r.Header.Get("X-API-Key")
	if key == "" {
		key = r.URL.Query().Get("apiKey")
	}
	if key == "" {
		return RoleNone
	}
	return a.keys[key]
}

// require wraps a handler with the role check: 401 without a valid key,
// 403 with a key below the minimum.
func (a *Auth) require(min Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		role := a.roleOf(r)
		if role == RoleNone {
			httpapi.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "missing or unknown API key")
			return
		}
		if !role.Allows(min) {
			httpapi.WriteError(w, r, http.StatusForbidden, "forbidden",
				fmt.Sprintf("requires role %s", min))
			return
		}
		next(w, r)
	}
}
