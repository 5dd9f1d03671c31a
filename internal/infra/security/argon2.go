package security

import (
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var errInvalidConfig = errors.New("argon2: invalid configuration")

// Argon2Config defines tunable parameters for Argon2id key derivation.
type Argon2Config struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// DefaultArgon2Config returns the library default Argon2id configuration.
func DefaultArgon2Config() Argon2Config {
	return Argon2Config{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 4,
		KeyLength:   32,
	}
}

// Validate rejects parameters weaker than the accepted floor.
func (cfg Argon2Config) Validate() error {
	if cfg.Memory < 8*1024 {
		return fmt.Errorf("%w: memory must be at least 8192", errInvalidConfig)
	}
	if cfg.Iterations == 0 {
		return fmt.Errorf("%w: iterations must be greater than zero", errInvalidConfig)
	}
	if cfg.Parallelism == 0 {
		return fmt.Errorf("%w: parallelism must be greater than zero", errInvalidConfig)
	}
	if cfg.KeyLength < 16 {
		return fmt.Errorf("%w: key length must be at least 16 bytes", errInvalidConfig)
	}
	return nil
}

// DeriveKey stretches secret with the hex encoded salt into a key of cfg.KeyLength bytes.
func DeriveKey(secret, saltHex string, cfg Argon2Config) ([]byte, error) {
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("argon2: decode salt: %w", err)
	}
	if len(salt) == 0 {
		return nil, errors.New("argon2: salt is required")
	}
	return argon2.IDKey([]byte(secret), salt, cfg.Iterations, cfg.Memory, cfg.Parallelism, cfg.KeyLength), nil
}
