package types

// APIError is the error body the backend returns on non-2xx replies.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError on the wire.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
