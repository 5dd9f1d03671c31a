// Package kv implements the domain repositories on top of any port.CredentialStore.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/repository"
)

func getJSON(ctx context.Context, store port.CredentialStore, key string, dst any) error {
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := decode(raw, dst); err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}

func decode(raw string, dst any) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(raw), nil
}

func orUnderscore(v string) string {
	if v == "" {
		return "_"
	}
	return v
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// literal escapes v for use as a fixed segment of a Keys pattern.
func literal(v string) string {
	return globEscaper.Replace(v)
}

func isNotFound(err error) bool {
	return errors.Is(err, repository.ErrNotFound)
}
