package kv

import (
	"context"
	"fmt"
	"strings"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
)

// UserRepository stores credentials under user:<username> with a user-id:<id> index.
type UserRepository struct {
	store port.CredentialStore
}

var _ port.UserRepository = (*UserRepository)(nil)

// NewUserRepository constructs the repository.
func NewUserRepository(store port.CredentialStore) *UserRepository {
	return &UserRepository{store: store}
}

func userKey(username string) string {
	return "user:" + strings.ToLower(username)
}

func userIDKey(id string) string {
	return "user-id:" + id
}

// Create inserts user; the SETNX on the username key arbitrates concurrent registrations.
func (r *UserRepository) Create(ctx context.Context, user domain.UserCredential) error {
	payload, err := encode(user)
	if err != nil {
		return err
	}
	ok, err := r.store.SetNX(ctx, userKey(user.Username), payload, 0)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if !ok {
		return domain.ErrDuplicateUser
	}
	if err := r.store.Set(ctx, userIDKey(user.ID), strings.ToLower(user.Username), 0); err != nil {
		_ = r.store.Del(ctx, userKey(user.Username))
		return fmt.Errorf("index user id: %w", err)
	}
	return nil
}

// GetByUsername returns repository.ErrNotFound for unknown users.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.UserCredential, error) {
	var user domain.UserCredential
	if err := getJSON(ctx, r.store, userKey(username), &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByID resolves the id index and loads the user.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.UserCredential, error) {
	username, err := r.store.Get(ctx, userIDKey(id))
	if err != nil {
		return nil, err
	}
	return r.GetByUsername(ctx, username)
}

const maxMutateAttempts = 8

// Mutate applies fn to the stored credential and writes the result back only if the record is
// unchanged since it was read; otherwise it reloads and runs fn again. An error from fn aborts
// without writing. The username and id cannot be changed.
func (r *UserRepository) Mutate(ctx context.Context, username string, fn func(*domain.UserCredential) error) (*domain.UserCredential, error) {
	key := userKey(username)
	for attempt := 0; attempt < maxMutateAttempts; attempt++ {
		raw, err := r.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		var user domain.UserCredential
		if err := decode(raw, &user); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		id, name := user.ID, user.Username
		if err := fn(&user); err != nil {
			return nil, err
		}
		user.ID, user.Username = id, name
		payload, err := encode(user)
		if err != nil {
			return nil, err
		}
		swapped, err := r.store.CompareAndSwap(ctx, key, raw, payload)
		if err != nil {
			return nil, fmt.Errorf("update user: %w", err)
		}
		if swapped {
			return &user, nil
		}
	}
	return nil, fmt.Errorf("update user %s: %w", username, domain.ErrConcurrentUpdate)
}
