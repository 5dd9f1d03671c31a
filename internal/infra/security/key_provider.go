package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrKeyNotFound       = errors.New("key not found")
	ErrNoSigningKey      = errors.New("no private key found for signing")
	errEphemeralInProd   = errors.New("jwt key directory is required in production")
	ephemeralKeyIDPrefix = "ephemeral-"
)

// KeyProvider defines the interface for providing cryptographic keys.
type KeyProvider interface {
	GetSigningKey() (*rsa.PrivateKey, error)
	SigningKeyID() string
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
	ListVerificationKeys() map[string]*rsa.PublicKey
}

// FileKeyProvider reads PEM keys from a directory. The file name without extension is the kid.
type FileKeyProvider struct {
	keys       map[string]*rsa.PublicKey
	signingKey *rsa.PrivateKey
	signingKID string
}

// NewFileKeyProvider loads every key in keyDir. When preferredKID is empty the first private key
// in lexical order signs.
func NewFileKeyProvider(keyDir, preferredKID string) (*FileKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name() < files[j].Name() })

	provider := &FileKeyProvider{keys: make(map[string]*rsa.PublicKey)}
	private := make(map[string]*rsa.PrivateKey)

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		path := filepath.Join(keyDir, file.Name())
		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))

		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}
		block, _ := pem.Decode(keyData)
		if block == nil {
			return nil, fmt.Errorf("failed to decode PEM block from %s", path)
		}

		priv, pub := parseRSAKey(block.Bytes)
		switch {
		case priv != nil:
			private[kid] = priv
			provider.keys[kid] = &priv.PublicKey
		case pub != nil:
			provider.keys[kid] = pub
		default:
			return nil, fmt.Errorf("failed to parse key from file %s", path)
		}
	}

	if preferredKID != "" {
		key, ok := private[preferredKID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, preferredKID)
		}
		provider.signingKey, provider.signingKID = key, preferredKID
		return provider, nil
	}

	kids := make([]string, 0, len(private))
	for kid := range private {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	if len(kids) == 0 {
		return nil, ErrNoSigningKey
	}
	provider.signingKey, provider.signingKID = private[kids[0]], kids[0]
	return provider, nil
}

func parseRSAKey(der []byte) (*rsa.PrivateKey, *rsa.PublicKey) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
	}
	if key, err := x509.ParsePKCS1PublicKey(der); err == nil {
		return nil, key
	}
	if key, err := x509.ParsePKIXPublicKey(der); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return nil, rsaKey
		}
	}
	return nil, nil
}

// GetSigningKey returns the private key for signing tokens.
func (p *FileKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) {
	return p.signingKey, nil
}

// SigningKeyID returns the kid stamped into signed tokens.
func (p *FileKeyProvider) SigningKeyID() string {
	return p.signingKID
}

// GetVerificationKey returns the public key for verifying tokens.
func (p *FileKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	key, ok := p.keys[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// ListVerificationKeys returns a copy of the known public keys.
func (p *FileKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	out := make(map[string]*rsa.PublicKey, len(p.keys))
	for kid, key := range p.keys {
		out[kid] = key
	}
	return out
}

// EphemeralKeyProvider holds a key generated at startup. Tokens do not survive restarts.
type EphemeralKeyProvider struct {
	key *rsa.PrivateKey
	kid string
}

// NewEphemeralKeyProvider generates a fresh RSA key of the given size.
func NewEphemeralKeyProvider(bits int) (*EphemeralKeyProvider, error) {
	key, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("generate rsa key: %w", err)
	}
	token, err := GenerateSecureToken(6)
	if err != nil {
		return nil, err
	}
	return &EphemeralKeyProvider{key: key, kid: ephemeralKeyIDPrefix + token}, nil
}

func (p *EphemeralKeyProvider) GetSigningKey() (*rsa.PrivateKey, error) { return p.key, nil }

func (p *EphemeralKeyProvider) SigningKeyID() string { return p.kid }

func (p *EphemeralKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	if kid != p.kid {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return &p.key.PublicKey, nil
}

func (p *EphemeralKeyProvider) ListVerificationKeys() map[string]*rsa.PublicKey {
	return map[string]*rsa.PublicKey{p.kid: &p.key.PublicKey}
}

// NewKeyProvider loads keys from keyDir, or outside production generates an ephemeral key when
// no directory is configured.
func NewKeyProvider(env, keyDir, signingKID string) (KeyProvider, error) {
	if strings.TrimSpace(keyDir) != "" {
		return NewFileKeyProvider(keyDir, signingKID)
	}
	if env == "production" {
		return nil, errEphemeralInProd
	}
	return NewEphemeralKeyProvider(2048)
}
