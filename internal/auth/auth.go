// Package auth defines the credential contract: a bearer token plus the
// user profile resolved from it. Absence of either means zero active
// connections.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the consumer role carried in the user profile. It is resolved
// once at login and never re-evaluated per message.
type Role string

const (
	// RoleTherapist receives submission, roster, observation and
	// evaluation events for the courses it owns.
	RoleTherapist Role = "THERAPIST"

	// RoleStudent receives exercise events for the courses it joined.
	RoleStudent Role = "STUDENT"
)

// ReceivesSubmissions reports whether this role runs the submission feed.
func (r Role) ReceivesSubmissions() bool { return r == RoleTherapist }

// ReceivesExercises reports whether this role runs the exercise feed.
func (r Role) ReceivesExercises() bool { return r == RoleStudent }

// Subscribes reports whether this role runs any feed at all.
func (r Role) Subscribes() bool {
	return r.ReceivesSubmissions() || r.ReceivesExercises()
}

// Profile identifies the authenticated user.
type Profile struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

// Credentials bind a bearer token to the profile it authenticates.
type Credentials struct {
	Token   string
	Profile Profile
}

var (
	ErrEmptyToken = errors.New("empty token")
	ErrNoSubject  = errors.New("token has no subject claim")
)

// tokenClaims are the claims the backend puts in its access tokens.
type tokenClaims struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken recovers credentials from a bare access token by reading its
// claims. The signature is NOT verified here: the backend rejects forged
// tokens at the websocket handshake, and this client never grants anything
// on its own authority.
func FromToken(token string) (*Credentials, error) {
	if token == "" {
		return nil, ErrEmptyToken
	}

	var claims tokenClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	id := claims.UserID
	if id == 0 {
		// Older tokens carry the user id only in the subject.
		sub, err := claims.GetSubject()
		if err != nil || sub == "" {
			return nil, ErrNoSubject
		}
		if _, err := fmt.Sscan(sub, &id); err != nil {
			return nil, fmt.Errorf("parse subject %q: %w", sub, err)
		}
	}

	return &Credentials{
		Token: token,
		Profile: Profile{
			ID:   id,
			Role: Role(claims.Role),
		},
	}, nil
}
