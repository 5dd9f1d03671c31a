package middleware

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

const (
	rateLimitProblemType  = "https://zk-tenant-iam.dev/errors/rate-limit-exceeded"
	rateLimitProblemTitle = "Rate Limit Exceeded"
)

// RateLimitGuard is the atomic counter the middleware consults.
type RateLimitGuard interface {
	CheckAndIncrement(ctx context.Context, key string, limit int, window time.Duration) (usecase.RateLimitDecision, error)
}

// IdentifierFunc extracts the identifier used to scope rate limits (e.g., client IP).
type IdentifierFunc func(*gin.Context) (string, bool)

// RateLimitRule configures a fixed-window limit for a particular identifier.
type RateLimitRule struct {
	Name       string
	Limit      int
	Window     time.Duration
	Identifier IdentifierFunc
}

// RateLimiter turns guard decisions into headers and RFC 9457 rejections.
type RateLimiter struct {
	guard  RateLimitGuard
	logger *zap.Logger
}

// ProblemDetails represents an RFC 9457 compatible error payload.
type ProblemDetails struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Status     int    `json:"status"`
	Detail     string `json:"detail"`
	Instance   string `json:"instance"`
	RetryAfter int    `json:"retry_after,omitempty"`
	TraceID    string `json:"trace_id,omitempty"`
}

// NewRateLimiter builds a reusable rate limiter middleware helper.
func NewRateLimiter(guard RateLimitGuard, logger *zap.Logger) *RateLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{guard: guard, logger: logger}
}

// ClientIPIdentifier builds an IdentifierFunc using the request's client IP.
func ClientIPIdentifier() IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		if ip == "" {
			return "", false
		}
		return ip, true
	}
}

// ClientIPAndParamIdentifier scopes the limit to the client IP and a lower-cased path parameter.
func ClientIPAndParamIdentifier(param string) IdentifierFunc {
	return func(c *gin.Context) (string, bool) {
		ip := c.ClientIP()
		value := strings.ToLower(strings.TrimSpace(c.Param(param)))
		if ip == "" || value == "" {
			return "", false
		}
		return ip + ":" + value, true
	}
}

// RateLimit returns a Gin middleware enforcing the provided rules. The most constraining allowed
// result drives the response headers.
func (rl *RateLimiter) RateLimit(rules ...RateLimitRule) gin.HandlerFunc {
	filtered := make([]RateLimitRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Identifier == nil || rule.Limit <= 0 || rule.Window <= 0 {
			continue
		}
		if rule.Name == "" {
			rule.Name = "default"
		}
		filtered = append(filtered, rule)
	}

	return func(c *gin.Context) {
		if len(filtered) == 0 || rl == nil || rl.guard == nil {
			c.Next()
			return
		}

		var best *usecase.RateLimitDecision
		for _, rule := range filtered {
			identifier, ok := rule.Identifier(c)
			if !ok {
				continue
			}

			decision, err := rl.guard.CheckAndIncrement(c.Request.Context(), rule.Name+":"+identifier, rule.Limit, rule.Window)
			if err != nil {
				rl.logger.Warn("rate limit check failed", zap.String("rule", rule.Name), zap.Error(err))
				continue
			}

			if !decision.Allowed {
				applyRateLimitHeaders(c, decision)
				respondRateLimited(c, decision.RetryAfter)
				return
			}
			if best == nil || decision.Remaining < best.Remaining ||
				(decision.Remaining == best.Remaining && decision.ResetAt.Before(best.ResetAt)) {
				snapshot := decision
				best = &snapshot
			}
		}

		if best != nil {
			applyRateLimitHeaders(c, *best)
		}
		c.Next()
	}
}

func applyRateLimitHeaders(c *gin.Context, d usecase.RateLimitDecision) {
	headers := c.Writer.Header()
	headers.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	headers.Set("X-RateLimit-Remaining", strconv.FormatInt(max(d.Remaining, 0), 10))
	if !d.ResetAt.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	}
	if !d.Allowed {
		headers.Set("Retry-After", strconv.Itoa(retrySeconds(d.RetryAfter)))
	}
}

// RespondRateLimited writes the 429 problem document; shared with the handlers' error mapping.
func RespondRateLimited(c *gin.Context, retryAfter time.Duration) {
	c.Header("Retry-After", strconv.Itoa(retrySeconds(retryAfter)))
	respondRateLimited(c, retryAfter)
}

func respondRateLimited(c *gin.Context, retryAfter time.Duration) {
	seconds := retrySeconds(retryAfter)
	instance := c.FullPath()
	if instance == "" {
		instance = c.Request.URL.Path
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, ProblemDetails{
		Type:       rateLimitProblemType,
		Title:      rateLimitProblemTitle,
		Status:     http.StatusTooManyRequests,
		Detail:     fmt.Sprintf("Too many requests. Try again in %d seconds.", seconds),
		Instance:   instance,
		RetryAfter: seconds,
		TraceID:    GetTraceID(c),
	})
}

func retrySeconds(d time.Duration) int {
	seconds := int(math.Ceil(d.Seconds()))
	if seconds < 0 {
		return 0
	}
	return seconds
}
