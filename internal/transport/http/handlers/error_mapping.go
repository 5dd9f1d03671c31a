package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
)

const authenticationRequiredMessage = "authentication required"

// ErrorCase maps an error kind to an HTTP status code and response message.
type ErrorCase struct {
	Kind    domain.ErrorKind
	Status  int
	Message string
	// Code is echoed to the client when set.
	Code string
}

// ErrorCases is the single table translating domain failures to HTTP. Validation messages come
// from the error itself; every other message is fixed so responses reveal nothing more.
var ErrorCases = []ErrorCase{
	{Kind: domain.KindInvalidCredentials, Status: http.StatusUnauthorized, Message: "invalid credentials"},
	{Kind: domain.KindAccountLocked, Status: http.StatusForbidden, Message: "account locked"},
	{Kind: domain.KindTokenExpired, Status: http.StatusUnauthorized, Message: authenticationRequiredMessage, Code: string(domain.KindTokenExpired)},
	{Kind: domain.KindTokenRevoked, Status: http.StatusUnauthorized, Message: authenticationRequiredMessage},
	{Kind: domain.KindTokenInvalid, Status: http.StatusUnauthorized, Message: authenticationRequiredMessage},
	{Kind: domain.KindAuthenticationRequired, Status: http.StatusUnauthorized, Message: authenticationRequiredMessage},
	{Kind: domain.KindPermissionDenied, Status: http.StatusForbidden, Message: "permission denied"},
	{Kind: domain.KindDuplicateRoleName, Status: http.StatusConflict, Message: "role name already exists"},
	{Kind: domain.KindSystemRoleImmutable, Status: http.StatusForbidden, Message: "system roles cannot be modified"},
	{Kind: domain.KindRoleInUse, Status: http.StatusConflict, Message: "role is assigned to users"},
	{Kind: domain.KindRoleNotFound, Status: http.StatusNotFound, Message: "role not found"},
	{Kind: domain.KindConflict, Status: http.StatusConflict, Message: "concurrent modification, retry"},
	{Kind: domain.KindUserNotFound, Status: http.StatusNotFound, Message: "user not found"},
	{Kind: domain.KindDuplicateUser, Status: http.StatusConflict, Message: "username already registered"},
	{Kind: domain.KindTenantNotFound, Status: http.StatusBadRequest, Message: "tenant not found"},
	{Kind: domain.KindResetTokenInvalid, Status: http.StatusBadRequest, Message: "reset token invalid or expired"},
	{Kind: domain.KindValidation, Status: http.StatusBadRequest},
	{Kind: domain.KindProofEngineConfiguration, Status: http.StatusInternalServerError, Message: "proof verification unavailable"},
}

// RespondError records err on the context and writes the mapped response. It satisfies
// middleware.ErrorResponder.
func RespondError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	if retryAfter, ok := domain.RetryAfter(err); ok {
		middleware.RespondRateLimited(c, retryAfter)
		return
	}

	kind := domain.KindOf(err)
	for _, cs := range ErrorCases {
		if cs.Kind != kind {
			continue
		}
		message := cs.Message
		if message == "" {
			message = validationMessage(err)
		}
		c.AbortWithStatusJSON(cs.Status, ErrorResponse{
			Error:   message,
			Code:    cs.Code,
			TraceID: middleware.GetTraceID(c),
		})
		return
	}

	c.AbortWithStatusJSON(http.StatusInternalServerError, NewErrorResponse(c, "internal error"))
}

// respondBadRequest reports a payload that could not be decoded.
func respondBadRequest(c *gin.Context, err error, message string) {
	_ = c.Error(fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err))
	c.AbortWithStatusJSON(http.StatusBadRequest, NewErrorResponse(c, message))
}

// validationMessage exposes only the sentinel text, never the wrapping context.
func validationMessage(err error) string {
	for _, sentinel := range validationErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "invalid request"
}

var validationErrors = []error{
	domain.ErrRoleACLRequired,
	domain.ErrInvalidUsername,
	domain.ErrInvalidSalt,
	domain.ErrInvalidPublicKey,
	domain.ErrInvalidProof,
	domain.ErrUnknownResourceType,
	domain.ErrUnknownAction,
	domain.ErrInvalidScope,
	domain.ErrInvalidRoleName,
	domain.ErrInvalidTenantID,
}
