package api

// StartSessionRequest is the body of POST /v1/sessions
type StartSessionRequest struct {
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// StartSessionResponse confirms a started session
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// HeartbeatRequest is the body of POST /v1/sessions/heartbeat
type HeartbeatRequest struct {
	SessionID string `json:"session_id"`
}

// HeartbeatResponse reports session progress
type HeartbeatResponse struct {
	MinutesUsed      int    `json:"minutes_used"`
	MinutesRemaining int    `json:"minutes_remaining"`
	Warning          string `json:"warning,omitempty"` // "low_minutes" or "minutes_exhausted"
}

// EndSessionRequest is the body of POST /v1/sessions/end
type EndSessionRequest struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"` // defaults to "user_ended"
}

// EndSessionResponse reports the final billing for a session
type EndSessionResponse struct {
	MinutesUsed int    `json:"minutes_used"`
	Reason      string `json:"reason,omitempty"`
}

// ErrorResponse is the standard error envelope
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"` // machine-readable, e.g. "quota_exhausted"
}
