// Package api implements HTTP handlers and helpers for the redistricting
// service.
package api

import (
    "net/http"
    "strings"

    "distmap/internal/auth"
)

// getPrincipal extracts user and role from JWT or headers.
// - If Authorization: Bearer is present, uses the configured verifier
//   (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) auth.Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return pr
        }
    }
    user := r.Header.Get("X-User")
    role := r.Header.Get("X-Role")
    if user == "" {
        user = "anonymous"
    }
    if role == "" {
        role = "editor"
    }
    return auth.Principal{User: user, Role: strings.ToLower(role)}
}

// canEditPlan reports whether pr may mutate the given plan: its owner, or
// any admin, or any editor when the plan has no owner.
func canEditPlan(pr auth.Principal, owner string) bool {
    if pr.IsAdmin() {
        return true
    }
    if !pr.CanEdit() {
        return false
    }
    return owner == "" || owner == pr.User
}
