package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const jwksCacheControl = "public, max-age=3600"

// KeySetSource renders the public session signing keys.
type KeySetSource interface {
	JWKS() ([]byte, error)
}

// JWKSHandler provides the JSON Web Key Set used for offline session token validation.
type JWKSHandler struct {
	keys KeySetSource
}

// NewJWKSHandler constructs a JWKS handler backed by the supplied key source.
func NewJWKSHandler(keys KeySetSource) *JWKSHandler {
	return &JWKSHandler{keys: keys}
}

// Keys godoc
// @Summary Retrieve JSON Web Key Set
// @Description Exposes the public keys used to verify session token signatures.
// @Tags Public
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 500 {object} ErrorResponse
// @Failure 503 {object} ErrorResponse
// @Router /.well-known/jwks.json [get]
func (h *JWKSHandler) Keys(c *gin.Context) {
	if h == nil || h.keys == nil {
		c.JSON(http.StatusServiceUnavailable, NewErrorResponse(c, "jwks not available"))
		return
	}

	payload, err := h.keys.JWKS()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, NewErrorResponse(c, "failed to render jwks"))
		return
	}

	c.Header("Cache-Control", jwksCacheControl)
	c.Data(http.StatusOK, "application/json", payload)
}
