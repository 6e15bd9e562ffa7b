package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"testing"
)

func TestDevModeToken(t *testing.T) {
	v := &Verifier{Mode: "dev"}
	pr, err := v.Verify("alice:Editor")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if pr.User != "alice" || pr.Role != "editor" {
		t.Fatalf("principal: %+v", pr)
	}
	if _, err := v.Verify("no-role"); err == nil {
		t.Fatal("expected error for token without role")
	}
}

func TestRolePermissions(t *testing.T) {
	cases := []struct {
		role    string
		canEdit bool
		isAdmin bool
	}{
		{"viewer", false, false},
		{"editor", true, false},
		{"admin", true, true},
	}
	for _, c := range cases {
		p := Principal{User: "u", Role: c.role}
		if p.CanEdit() != c.canEdit || p.IsAdmin() != c.isAdmin {
			t.Fatalf("%s: canEdit=%v isAdmin=%v", c.role, p.CanEdit(), p.IsAdmin())
		}
	}
}

func hs256Token(t *testing.T, secret []byte, claims map[string]any) string {
	t.Helper()
	enc := func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return base64.RawURLEncoding.EncodeToString(b)
	}
	header := enc(map[string]string{"alg": "HS256", "typ": "JWT"})
	payload := enc(claims)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(header + "." + payload))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return header + "." + payload + "." + sig
}

func TestHMACMode(t *testing.T) {
	secret := []byte("topsecret")
	v := &Verifier{Mode: "hmac", HMACSecret: secret, UserClaim: "sub", RoleClaim: "role"}

	tok := hs256Token(t, secret, map[string]any{"sub": "bob", "role": "Admin"})
	pr, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if pr.User != "bob" || pr.Role != "admin" {
		t.Fatalf("principal: %+v", pr)
	}

	// Role defaults to viewer when the claim is absent.
	tok = hs256Token(t, secret, map[string]any{"sub": "carol"})
	pr, err = v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if pr.Role != "viewer" {
		t.Fatalf("role: %s", pr.Role)
	}

	// Wrong secret is rejected.
	tok = hs256Token(t, []byte("other"), map[string]any{"sub": "bob"})
	if _, err := v.Verify(tok); err == nil {
		t.Fatal("expected bad signature error")
	}

	// Missing user claim is rejected.
	tok = hs256Token(t, secret, map[string]any{"role": "admin"})
	if _, err := v.Verify(tok); err == nil {
		t.Fatal("expected missing user claim error")
	}
}
