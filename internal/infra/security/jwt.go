package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
)

// ErrKeyIDMissing indicates no kid is associated with the supplied token.
var ErrKeyIDMissing = errors.New("jwt: missing key identifier")

const defaultSessionTTL = time.Hour

// SessionClaims are the claims carried by a login session token.
type SessionClaims struct {
	UserID      string   `json:"uid"`
	TenantID    string   `json:"tid,omitempty"`
	Username    string   `json:"usr,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Principal converts the claims into the domain view of the caller.
func (c *SessionClaims) Principal() *domain.Principal {
	p := &domain.Principal{
		UserID:   c.UserID,
		Username: c.Username,
		TenantID: c.TenantID,
		TokenID:  c.ID,
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p
}

// SessionOptions configures creation of session claims.
type SessionOptions struct {
	UserID      string
	Username    string
	TenantID    string
	Permissions []string
	IssuedAt    time.Time
	TTL         time.Duration
	JTI         string
}

// SessionTokenManager signs and validates RS256 session tokens.
type SessionTokenManager struct {
	keys     KeyProvider
	issuer   string
	audience []string
	ttl      time.Duration
	clock    func() time.Time
}

// NewSessionTokenManager constructs a manager. A non-positive ttl falls back to one hour.
func NewSessionTokenManager(keys KeyProvider, issuer string, audience []string, ttl time.Duration) *SessionTokenManager {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionTokenManager{
		keys:     keys,
		issuer:   strings.TrimSpace(issuer),
		audience: audience,
		ttl:      ttl,
		clock:    time.Now,
	}
}

// WithClock overrides the time source.
func (m *SessionTokenManager) WithClock(clock func() time.Time) *SessionTokenManager {
	if clock != nil {
		m.clock = clock
	}
	return m
}

// TTL returns the default session lifetime.
func (m *SessionTokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue builds and signs a session token.
func (m *SessionTokenManager) Issue(opts SessionOptions) (string, *SessionClaims, error) {
	userID := strings.TrimSpace(opts.UserID)
	if userID == "" {
		return "", nil, fmt.Errorf("jwt: user id is required")
	}

	now := opts.IssuedAt
	if now.IsZero() {
		now = m.clock()
	}
	now = now.UTC()

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = m.ttl
	}

	jti := strings.TrimSpace(opts.JTI)
	if jti == "" {
		jti = uuid.NewString()
	}

	claims := &SessionClaims{
		UserID:      userID,
		TenantID:    strings.TrimSpace(opts.TenantID),
		Username:    opts.Username,
		Permissions: opts.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  m.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        jti,
		},
	}

	signingKey, err := m.keys.GetSigningKey()
	if err != nil {
		return "", nil, fmt.Errorf("jwt: get signing key: %w", err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.keys.SigningKeyID()

	signed, err := token.SignedString(signingKey)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign token: %w", err)
	}
	return signed, claims, nil
}

// Parse validates signature, issuer and lifetime. Expired tokens yield domain.ErrTokenExpired,
// everything else that fails validation domain.ErrTokenInvalid.
func (m *SessionTokenManager) Parse(raw string) (*SessionClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.clock),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if len(m.audience) > 0 {
		opts = append(opts, jwt.WithAudience(m.audience[0]))
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrTokenInvalid, err)
	}
	if claims.UserID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing uid or jti", domain.ErrTokenInvalid)
	}
	return claims, nil
}

func (m *SessionTokenManager) keyFunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if strings.TrimSpace(kid) == "" {
		return nil, ErrKeyIDMissing
	}
	return m.keys.GetVerificationKey(kid)
}

// JWKS produces the JSON Web Key Set for the provider's public keys.
func (m *SessionTokenManager) JWKS() ([]byte, error) {
	keys := make([]map[string]string, 0)
	for kid, key := range m.keys.ListVerificationKeys() {
		if key == nil {
			continue
		}
		keys = append(keys, map[string]string{
			"kty": "RSA",
			"use": "sig",
			"alg": "RS256",
			"kid": kid,
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		})
	}
	return json.Marshal(map[string]any{"keys": keys})
}
