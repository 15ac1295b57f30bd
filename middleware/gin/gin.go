// Package gin provides Gin middleware that gates requests on remaining
// practice minutes
package gin

import (
	"net/http"
	"strconv"

	gongin "github.com/gin-gonic/gin"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Ledger is the usage ledger directory (required)
	Ledger *ledger.Directory

	// GetUserID extracts user ID from context (required)
	GetUserID UserIDExtractor

	// ExhaustedStatusCode is the HTTP status code returned when the user's
	// allowance is spent
	// Default: 402 (Payment Required)
	ExhaustedStatusCode int

	// OnExhausted is called when the user has no minutes left
	// If nil, uses default response: ExhaustedStatusCode JSON
	OnExhausted func(c *gongin.Context, check ledger.CreditCheck)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(c *gongin.Context)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that rejects requests from users whose
// monthly minute allowance is exhausted. Allowed requests carry an
// X-Minutes-Remaining header.
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Ledger == nil {
		panic("usageledger/gin: Config.Ledger is required")
	}
	if cfg.GetUserID == nil {
		panic("usageledger/gin: Config.GetUserID is required")
	}

	if cfg.ExhaustedStatusCode == 0 {
		cfg.ExhaustedStatusCode = http.StatusPaymentRequired
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gongin.H{
					"error": "unauthorized",
				})
			}
			c.Abort()
			return
		}

		check, err := cfg.Ledger.HasCredits(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gongin.H{
					"error": "internal error",
				})
			}
			c.Abort()
			return
		}

		if !check.Allowed {
			if cfg.OnExhausted != nil {
				cfg.OnExhausted(c, check)
			} else {
				c.AbortWithStatusJSON(cfg.ExhaustedStatusCode, gongin.H{
					"error":             check.Reason,
					"minutes_remaining": check.Remaining,
				})
			}
			c.Abort()
			return
		}

		c.Header("X-Minutes-Remaining", strconv.Itoa(check.Remaining))
		c.Next()
	}
}

// Common extractors for convenience

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}

// FromContextKey returns a UserIDExtractor that reads a value set by an
// earlier middleware via c.Set
func FromContextKey(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if v, ok := c.Get(key); ok {
			if userID, ok := v.(string); ok {
				return userID
			}
		}
		return ""
	}
}
