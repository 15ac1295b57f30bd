// Package http provides HTTP middleware that gates requests on remaining
// practice minutes
package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// Config holds middleware configuration
type Config struct {
	// Ledger is the usage ledger directory (required)
	Ledger *ledger.Directory

	// GetUserID extracts user ID from request (required)
	GetUserID UserIDExtractor

	// OnExhausted is called when the user has no minutes left
	// If nil, returns 402 Payment Required with a JSON body
	OnExhausted func(w http.ResponseWriter, r *http.Request, check ledger.CreditCheck)

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 Unauthorized
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnError is called when an internal error occurs
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that rejects requests from users
// whose monthly minute allowance is exhausted. Allowed requests carry an
// X-Minutes-Remaining header so clients can surface the balance without an
// extra round trip.
//
// The gate only reads; minutes are billed by the session lifecycle, not by
// passing through the middleware.
func Middleware(config Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					http.Error(w, "Unauthorized", http.StatusUnauthorized)
				}
				return
			}

			check, err := config.Ledger.HasCredits(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
				return
			}

			if !check.Allowed {
				if config.OnExhausted != nil {
					config.OnExhausted(w, r, check)
				} else {
					defaultExhausted(w, check)
				}
				return
			}

			w.Header().Set("X-Minutes-Remaining", strconv.Itoa(check.Remaining))
			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware that gates requests (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func defaultExhausted(w http.ResponseWriter, check ledger.CreditCheck) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusPaymentRequired)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": check.Reason,
	})
}

// Common extractors for convenience

// FromHeader returns a UserIDExtractor that reads a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromContext returns a UserIDExtractor that reads the request context
func FromContext(key interface{}) UserIDExtractor {
	return func(r *http.Request) string {
		if userID, ok := r.Context().Value(key).(string); ok {
			return userID
		}
		return ""
	}
}
