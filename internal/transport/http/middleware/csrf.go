package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/zk-tenant-iam/internal/infra/config"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
)

const (
	csrfHeader        = "X-CSRF-Token"
	csrfTokenBytes    = 32
	csrfCookieMaxAge  = 12 * 60 * 60
	defaultCSRFCookie = "zkiam_csrf"
	csrfProblemType   = "https://zk-tenant-iam.dev/errors/csrf-token-mismatch"
	csrfProblemTitle  = "CSRF Token Mismatch"
)

// CSRF implements the double-submit cookie pattern: the token issued in a cookie must be echoed
// in the X-CSRF-Token header of every state-changing request.
type CSRF struct {
	enabled    bool
	cookieName string
	secure     bool
}

// NewCSRF builds the protector from configuration.
func NewCSRF(cfg config.CSRFSettings) *CSRF {
	name := cfg.CookieName
	if name == "" {
		name = defaultCSRFCookie
	}
	return &CSRF{enabled: cfg.Enabled, cookieName: name, secure: cfg.Secure}
}

// Issue generates a token, stores it in the cookie and returns it for the response body.
func (p *CSRF) Issue(c *gin.Context) (string, error) {
	token, err := security.GenerateSecureToken(csrfTokenBytes)
	if err != nil {
		return "", err
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(p.cookieName, token, csrfCookieMaxAge, "/", "", p.secure, true)
	return token, nil
}

// Require rejects unsafe requests whose header does not match the cookie.
func (p *CSRF) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p == nil || !p.enabled {
			c.Next()
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		cookie, err := c.Cookie(p.cookieName)
		header := c.GetHeader(csrfHeader)
		if err != nil || cookie == "" || header == "" || !security.ConstantTimeEqual(cookie, header) {
			c.AbortWithStatusJSON(http.StatusForbidden, ProblemDetails{
				Type:     csrfProblemType,
				Title:    csrfProblemTitle,
				Status:   http.StatusForbidden,
				Detail:   "Missing or invalid CSRF token.",
				Instance: c.Request.URL.Path,
				TraceID:  GetTraceID(c),
			})
			return
		}
		c.Next()
	}
}
