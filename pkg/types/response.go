package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the error body. RequestID lets callers quote the failing
// request when reporting an assignment problem.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}
