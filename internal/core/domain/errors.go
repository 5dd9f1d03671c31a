package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies domain failures for transport mapping and audit records.
type ErrorKind string

const (
	KindInvalidCredentials       ErrorKind = "invalid_credentials"
	KindAccountLocked            ErrorKind = "account_locked"
	KindRateLimited              ErrorKind = "rate_limited"
	KindTokenExpired             ErrorKind = "token_expired"
	KindTokenRevoked             ErrorKind = "token_revoked"
	KindTokenInvalid             ErrorKind = "token_invalid"
	KindAuthenticationRequired   ErrorKind = "authentication_required"
	KindPermissionDenied         ErrorKind = "permission_denied"
	KindDuplicateRoleName        ErrorKind = "duplicate_role_name"
	KindSystemRoleImmutable      ErrorKind = "system_role_immutable"
	KindRoleInUse                ErrorKind = "role_in_use"
	KindRoleNotFound             ErrorKind = "role_not_found"
	KindProofEngineConfiguration ErrorKind = "proof_engine_configuration"
	KindTenantNotFound           ErrorKind = "tenant_not_found"
	KindDuplicateUser            ErrorKind = "duplicate_user"
	KindUserNotFound             ErrorKind = "user_not_found"
	KindResetTokenInvalid        ErrorKind = "reset_token_invalid"
	KindConflict                 ErrorKind = "conflict"
	KindValidation               ErrorKind = "validation"
	KindInternal                 ErrorKind = "internal"
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountLocked            = errors.New("account locked")
	ErrRateLimited              = errors.New("rate limit exceeded")
	ErrTokenExpired             = errors.New("token expired")
	ErrTokenRevoked             = errors.New("token revoked")
	ErrTokenInvalid             = errors.New("token invalid")
	ErrAuthenticationRequired   = errors.New("authentication required")
	ErrPermissionDenied         = errors.New("permission denied")
	ErrDuplicateRoleName        = errors.New("role name already exists in scope")
	ErrSystemRoleImmutable      = errors.New("system roles cannot be modified")
	ErrRoleInUse                = errors.New("role is assigned to users")
	ErrRoleNotFound             = errors.New("role not found")
	ErrRoleDeleting             = errors.New("role is being deleted")
	ErrRoleACLRequired          = errors.New("role requires at least one acl entry")
	ErrConcurrentUpdate         = errors.New("record changed concurrently")
	ErrProofEngineConfiguration = errors.New("proof engine misconfigured")
	ErrProverUnavailable        = errors.New("proof generation is not available on this engine")
	ErrTenantNotFound           = errors.New("tenant not found")
	ErrTenantMismatch           = errors.New("token tenant does not match request tenant")
	ErrDuplicateUser            = errors.New("username already registered")
	ErrUserNotFound             = errors.New("user not found")
	ErrResetTokenInvalid        = errors.New("reset token invalid or expired")
	ErrInvalidUsername          = errors.New("invalid username")
	ErrInvalidSalt              = errors.New("invalid salt")
	ErrInvalidPublicKey         = errors.New("invalid public key")
	ErrInvalidProof             = errors.New("malformed proof")
	ErrUnknownResourceType      = errors.New("unknown resource type")
	ErrUnknownAction            = errors.New("unknown action")
	ErrInvalidScope             = errors.New("invalid role scope")
	ErrInvalidRoleName          = errors.New("invalid role name")
	ErrInvalidTenantID          = errors.New("invalid tenant id")
	ErrInvalidSiteID            = errors.New("invalid site id")
	ErrInvalidUserID            = errors.New("invalid user id")
	ErrInvalidRequest           = errors.New("invalid request")
)

// RateLimitError reports a rejected attempt together with the time until the window resets.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) hold for RateLimitError values.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfter extracts the retry hint from err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

var kindTable = []struct {
	err  error
	kind ErrorKind
}{
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrAccountLocked, KindAccountLocked},
	{ErrRateLimited, KindRateLimited},
	{ErrTokenExpired, KindTokenExpired},
	{ErrTokenRevoked, KindTokenRevoked},
	{ErrTokenInvalid, KindTokenInvalid},
	{ErrAuthenticationRequired, KindAuthenticationRequired},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrDuplicateRoleName, KindDuplicateRoleName},
	{ErrSystemRoleImmutable, KindSystemRoleImmutable},
	{ErrRoleInUse, KindRoleInUse},
	{ErrRoleNotFound, KindRoleNotFound},
	{ErrRoleDeleting, KindConflict},
	{ErrConcurrentUpdate, KindConflict},
	{ErrProofEngineConfiguration, KindProofEngineConfiguration},
	{ErrTenantNotFound, KindTenantNotFound},
	{ErrTenantMismatch, KindTenantNotFound},
	{ErrDuplicateUser, KindDuplicateUser},
	{ErrUserNotFound, KindUserNotFound},
	{ErrResetTokenInvalid, KindResetTokenInvalid},
	{ErrRoleACLRequired, KindValidation},
	{ErrInvalidUsername, KindValidation},
	{ErrInvalidSalt, KindValidation},
	{ErrInvalidPublicKey, KindValidation},
	{ErrInvalidProof, KindValidation},
	{ErrUnknownResourceType, KindValidation},
	{ErrUnknownAction, KindValidation},
	{ErrInvalidScope, KindValidation},
	{ErrInvalidRoleName, KindValidation},
	{ErrInvalidTenantID, KindValidation},
	{ErrInvalidSiteID, KindValidation},
	{ErrInvalidUserID, KindValidation},
	{ErrInvalidRequest, KindValidation},
}

// KindOf classifies err. Unrecognised errors are KindInternal; nil yields "".
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, entry := range kindTable {
		if errors.Is(err, entry.err) {
			return entry.kind
		}
	}
	return KindInternal
}
