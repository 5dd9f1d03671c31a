package domain

import (
	"encoding/hex"
	"regexp"
	"time"
)

// SaltBytes is the number of random bytes in a user salt. Salts travel as lower-case hex.
const SaltBytes = 16

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{3,64}$`)

// UserCredential is the persisted identity record. The plaintext secret never reaches the server;
// PublicKey is the engine-specific commitment derived from it on the client.
type UserCredential struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Salt        string     `json:"salt"`
	PublicKey   string     `json:"public_key"`
	Locked      bool       `json:"locked"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ResetToken is a pending password reset. Only the token hash is stored.
type ResetToken struct {
	TokenHash string    `json:"token_hash"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the reset token is no longer usable at the supplied moment.
func (t ResetToken) Expired(at time.Time) bool {
	return !t.ExpiresAt.After(at)
}

// Principal is the authenticated caller resolved from a session token.
type Principal struct {
	UserID    string
	Username  string
	TenantID  string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RateLimitCounter is the observable state of a throttled key.
type RateLimitCounter struct {
	Key             string
	Count           int64
	WindowExpiresAt time.Time
}

// ValidateUsername enforces the accepted username alphabet and length.
func ValidateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ValidateSalt checks the salt is SaltBytes of lower-case hex.
func ValidateSalt(salt string) error {
	if len(salt) != SaltBytes*2 {
		return ErrInvalidSalt
	}
	for _, r := range salt {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return ErrInvalidSalt
		}
	}
	if _, err := hex.DecodeString(salt); err != nil {
		return ErrInvalidSalt
	}
	return nil
}
