package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/fluentvoice/usageledger/pkg/ledger"
)

const maxUserIDLen = 255

// Handler provides HTTP endpoints for the practice session lifecycle and
// usage inspection
type Handler struct {
	config Config
}

// Routes registers the handler's endpoints on the given mux
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", h.StartSession)
	mux.HandleFunc("POST /v1/sessions/heartbeat", h.Heartbeat)
	mux.HandleFunc("POST /v1/sessions/end", h.EndSession)
	mux.HandleFunc("GET /v1/usage", h.GetUsage)
}

// StartSession begins a practice session for the authenticated user
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req StartSessionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.config.Ledger.StartSession(r.Context(), userID, ledger.StartOptions{
		Topic:      req.Topic,
		Difficulty: req.Difficulty,
		Mode:       req.Mode,
	})
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, StartSessionResponse{SessionID: result.SessionID})
}

// Heartbeat refreshes session liveness and returns minute standing
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req HeartbeatRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	result, err := h.config.Ledger.Heartbeat(r.Context(), userID, req.SessionID)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, HeartbeatResponse{
		MinutesUsed:      result.MinutesUsed,
		MinutesRemaining: result.MinutesRemaining,
		Warning:          result.Warning,
	})
}

// EndSession finalizes a practice session. Ending an already-ended session
// returns zero minutes rather than an error, so client retries are safe
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req EndSessionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.SessionID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "session_id is required")
		return
	}

	result, err := h.config.Ledger.EndSession(r.Context(), userID, req.SessionID, ledger.EndReason(req.Reason))
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, EndSessionResponse{
		MinutesUsed: result.MinutesUsed,
		Reason:      string(result.Reason),
	})
}

// GetUsage returns the user's current usage projection
func (h *Handler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	status, err := h.config.Ledger.Status(r.Context(), userID)
	if err != nil {
		h.handleLedgerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		h.handleError(w, r, fmt.Errorf("user ID not found"), http.StatusUnauthorized)
		return "", false
	}
	if len(userID) > maxUserIDLen {
		h.handleError(w, r, fmt.Errorf("invalid user ID format"), http.StatusBadRequest)
		return "", false
	}
	return userID, true
}

// handleLedgerError maps ledger errors onto HTTP status codes
func (h *Handler) handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrQuotaExhausted):
		h.writeError(w, http.StatusPaymentRequired, "quota_exhausted", "monthly minute allowance exhausted")
	case errors.Is(err, ledger.ErrSessionConflict):
		h.writeError(w, http.StatusConflict, "session_conflict", "another session is already active")
	case errors.Is(err, ledger.ErrSessionMismatch):
		h.writeError(w, http.StatusNotFound, "session_not_found", "no active session with that id")
	case errors.Is(err, ledger.ErrInvalidPlan):
		h.writeError(w, http.StatusBadRequest, "invalid_plan", err.Error())
	default:
		h.handleError(w, r, err, http.StatusInternalServerError)
	}
}

// handleError handles errors with appropriate HTTP status codes
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}
	h.writeError(w, statusCode, "", err.Error())
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, code, msg string) {
	writeJSON(w, statusCode, ErrorResponse{Error: msg, Code: code})
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response already committed, nothing useful to do
		_ = err
	}
}

// decodeBody parses a JSON request body. An empty body is allowed; requests
// with all-optional fields may omit it entirely
func decodeBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
