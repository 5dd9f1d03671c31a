package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/infra/zkp"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

const artifactCacheControl = "public, max-age=86400"

// AuthHandler exposes the zero-knowledge authentication endpoints.
type AuthHandler struct {
	identity  *usecase.IdentityService
	resets    *usecase.PasswordResetService
	csrf      *middleware.CSRF
	artifacts *zkp.Artifacts
	isDev     bool
	now       func() time.Time
}

// AuthHandlerOption configures optional AuthHandler dependencies.
type AuthHandlerOption func(*AuthHandler)

// WithCSRF enables the CSRF token endpoint.
func WithCSRF(csrf *middleware.CSRF) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.csrf = csrf
	}
}

// WithArtifacts serves the circuit artifacts to clients.
func WithArtifacts(artifacts *zkp.Artifacts) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.artifacts = artifacts
	}
}

// WithDevMode toggles development-only behaviour (returning reset tokens in the response).
func WithDevMode(isDev bool) AuthHandlerOption {
	return func(h *AuthHandler) {
		h.isDev = isDev
	}
}

// NewAuthHandler constructs AuthHandler.
func NewAuthHandler(identity *usecase.IdentityService, resets *usecase.PasswordResetService, opts ...AuthHandlerOption) *AuthHandler {
	handler := &AuthHandler{
		identity: identity,
		resets:   resets,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(handler)
		}
	}
	return handler
}

// Salt godoc
// @Summary Fetch the key derivation salt
// @Description Returns the stored salt for known users and a random salt of the same shape otherwise.
// @Tags Authentication
// @Produce json
// @Param username path string true "Username"
// @Success 200 {object} SaltResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/salt/{username} [get]
func (h *AuthHandler) Salt(c *gin.Context) {
	salt, err := h.identity.IssueSalt(c.Request.Context(), c.Param("username"))
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, SaltResponse{Salt: salt})
}

// Register godoc
// @Summary Register a new account
// @Description Stores the public key derived on the client. The secret never reaches the server.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration payload"
// @Success 201 {object} RegisterResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/auth/register [post]
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid registration payload")
		return
	}

	user, err := h.identity.Register(c.Request.Context(), usecase.RegisterInput{
		Username:  req.Username,
		PublicKey: req.PublicKey,
		Salt:      strings.ToLower(strings.TrimSpace(req.Salt)),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, RegisterResponse{User: newUserSummary(*user)})
}

// Verify godoc
// @Summary Log in with a proof of knowledge
// @Description Verifies the proof against the account's public key and issues a session token.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param X-Tenant-ID header string false "Tenant the session is bound to"
// @Param request body VerifyRequest true "Proof payload"
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/verify [post]
func (h *AuthHandler) Verify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid login payload")
		return
	}

	result, err := h.identity.VerifyLogin(c.Request.Context(), usecase.LoginInput{
		Username:      req.Username,
		TenantID:      c.GetHeader(middleware.TenantHeader),
		Proof:         req.Proof,
		PublicSignals: req.PublicSignals,
	})
	if err != nil {
		RespondError(c, err)
		return
	}

	expiresIn := int(result.ExpiresAt.Sub(h.now()).Seconds())
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, VerifyResponse{
		Token:     result.Token,
		TokenType: "Bearer",
		ExpiresAt: result.ExpiresAt,
		ExpiresIn: max(expiresIn, 0),
		User:      newUserSummary(result.User),
	})
}

// RequestReset godoc
// @Summary Request a password reset
// @Description Always answers 202 so the response does not reveal whether the account exists.
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ResetRequest true "Reset request"
// @Success 202 {object} ResetRequestResponse
// @Failure 400 {object} ErrorResponse
// @Failure 429 {object} middleware.ProblemDetails
// @Router /api/v1/auth/reset/request [post]
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req ResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid reset payload")
		return
	}

	ticket, err := h.resets.RequestPasswordReset(c.Request.Context(), req.Username, c.ClientIP())
	if err != nil {
		RespondError(c, err)
		return
	}

	resp := ResetRequestResponse{Success: true}
	if h.isDev {
		token := ticket.Token
		expires := ticket.ExpiresAt
		resp.Token = &token
		resp.ExpiresAt = &expires
	}
	c.JSON(http.StatusAccepted, resp)
}

// ConfirmReset godoc
// @Summary Complete a password reset
// @Description Consumes the reset token and installs the new public key carried in publicSignals[0].
// @Tags Authentication
// @Accept json
// @Produce json
// @Param request body ResetConfirmRequest true "Reset confirmation"
// @Success 200 {object} SuccessResponse
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/reset/confirm [post]
func (h *AuthHandler) ConfirmReset(c *gin.Context) {
	var req ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, err, "invalid reset payload")
		return
	}

	err := h.resets.ConfirmPasswordReset(c.Request.Context(), usecase.ResetConfirmInput{
		Token:         req.Token,
		Username:      req.Username,
		Proof:         req.Proof,
		PublicSignals: req.PublicSignals,
		RotateSalt:    req.RotateSalt,
		NewSalt:       strings.ToLower(strings.TrimSpace(req.NewSalt)),
	})
	if err != nil {
		RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true})
}

// Logout godoc
// @Summary Log out
// @Description Deny-lists the presented session token until it expires.
// @Tags Authentication
// @Param Authorization header string true "Bearer session token"
// @Success 204 {string} string ""
// @Failure 401 {object} ErrorResponse
// @Router /api/v1/auth/logout [post]
func (h *AuthHandler) Logout(c *gin.Context) {
	principal, ok := middleware.PrincipalFrom(c)
	if !ok {
		RespondError(c, domain.ErrAuthenticationRequired)
		return
	}
	if err := h.identity.Logout(c.Request.Context(), *principal); err != nil {
		RespondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CSRFToken godoc
// @Summary Issue a CSRF token
// @Description Sets the CSRF cookie and returns the value to echo in X-CSRF-Token.
// @Tags Authentication
// @Produce json
// @Success 200 {object} CSRFResponse
// @Router /api/v1/auth/csrf [get]
func (h *AuthHandler) CSRFToken(c *gin.Context) {
	if h.csrf == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "csrf protection disabled"))
		return
	}
	token, err := h.csrf.Issue(c)
	if err != nil {
		RespondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, CSRFResponse{CSRFToken: token})
}

// Artifact godoc
// @Summary Download a circuit artifact
// @Description Serves circuit.wasm, circuit_final.zkey or verification_key.json for client-side proving.
// @Tags Authentication
// @Param name path string true "Artifact name"
// @Success 200 {file} binary
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/auth/artifacts/{name} [get]
func (h *AuthHandler) Artifact(c *gin.Context) {
	name := c.Param("name")
	if h.artifacts == nil {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "artifact not found"))
		return
	}
	blob, ok := h.artifacts.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, NewErrorResponse(c, "artifact not found"))
		return
	}
	c.Header("Cache-Control", artifactCacheControl)
	c.Data(http.StatusOK, zkp.ContentType(name), blob)
}
