// Package session acquires and models the authenticated session used
// by all timetable API calls: bearer JWT, cookie set, and the tenant /
// person ids decoded from the token claims.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ErrAuth marks a login or token-acquisition failure. All acquisition
// errors wrap it.
var ErrAuth = errors.New("authentication failed")

// Session is the bundle required to authorize API calls. It is created
// once per run, passed by value, read-only afterwards and never
// persisted.
type Session struct {
	BearerToken string
	Cookies     []*http.Cookie

	// TenantID and PersonID come from the bearer token claims.
	TenantID string
	PersonID string
	Username string

	// SchoolYearID is resolved against the API before the first
	// timetable request (see untis.Client.ResolveSchoolYear).
	SchoolYearID string

	AcquiredAt time.Time
}

// claims is the subset of the bearer JWT payload this system needs.
type claims struct {
	TenantID json.Number `json:"tenant_id"`
	PersonID json.Number `json:"person_id"`
	Username string      `json:"username"`
}

// FromToken builds a Session from a pre-captured bearer token and an
// optional browser cookie string ("name1=value1; name2=value2"). The
// token is validated structurally: it must be a three-part JWT whose
// payload carries a tenant_id claim.
func FromToken(token, cookieHeader string) (Session, error) {
	token = strings.TrimSpace(strings.Trim(token, `"`))
	token = strings.TrimPrefix(token, "Bearer ")
	if token == "" {
		return Session{}, fmt.Errorf("%w: empty bearer token", ErrAuth)
	}

	cl, err := decodeClaims(token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if cl.TenantID == "" {
		return Session{}, fmt.Errorf("%w: token lacks tenant_id claim", ErrAuth)
	}

	return Session{
		BearerToken: token,
		Cookies:     ParseCookieHeader(cookieHeader),
		TenantID:    cl.TenantID.String(),
		PersonID:    cl.PersonID.String(),
		Username:    cl.Username,
		AcquiredAt:  time.Now(),
	}, nil
}

// decodeClaims extracts the payload claims from a JWT without verifying
// the signature. Verification belongs to the server; this side only
// needs the tenant and person ids.
func decodeClaims(token string) (claims, error) {
	var cl claims

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return cl, errors.New("token is not a JWT")
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return cl, fmt.Errorf("decode token payload: %v", err)
	}
	if err := json.Unmarshal(payload, &cl); err != nil {
		return cl, fmt.Errorf("parse token claims: %v", err)
	}
	return cl, nil
}

// ParseCookieHeader parses a browser-style cookie string into cookies.
// Malformed fragments are skipped.
func ParseCookieHeader(s string) []*http.Cookie {
	var out []*http.Cookie
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, ok := strings.Cut(part, "=")
		if !ok || name == "" {
			continue
		}
		out = append(out, &http.Cookie{Name: name, Value: value})
	}
	return out
}
