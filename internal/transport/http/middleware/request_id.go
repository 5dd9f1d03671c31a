package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
)

// RequestIDHeader carries the correlation id in both directions. The access pipeline also
// stamps it on audit events.
const RequestIDHeader = "X-Request-ID"

const maxRequestIDLength = 128

// RequestID adopts a well-formed inbound correlation id or mints one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(RequestIDHeader)
		if !validRequestID(reqID) {
			reqID = uuid.NewString()
		}

		c.Writer.Header().Set(RequestIDHeader, reqID)
		ctx := context.WithValue(c.Request.Context(), logger.RequestIDKey{}, reqID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// validRequestID keeps caller supplied ids out of logs and audit records unless they are short
// and printable.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	return strings.IndexFunc(id, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		case r == '-', r == '_', r == '.', r == ':':
			return false
		}
		return true
	}) < 0
}
