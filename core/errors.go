package core

import "fmt"

// ValidationError marks a missing or malformed request field. It is surfaced
// synchronously as a 4xx before any stream opens.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// AuthenticationError marks an absent/invalid credential or an upstream
// 401/403. It is surfaced as an error event, never fatal to the process.
type AuthenticationError struct {
	AgentID string
	Status  int
	Message string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	if e.AgentID != "" && e.Status != 0 {
		return fmt.Sprintf("authentication failed for agent %s (status %d): %s", e.AgentID, e.Status, e.Message)
	}
	return fmt.Sprintf("authentication failed: %s", e.Message)
}

// BackendError marks an upstream 5xx, a subprocess failure or a
// required-payload parse failure.
type BackendError struct {
	Status  int
	Body    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("backend error (status %d): %s", e.Status, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("backend error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("backend error: %s", e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *BackendError) Unwrap() error { return e.Err }

// TimeoutError marks a chunk read exceeding its deadline. Distinguishable
// from other failures by its message.
type TimeoutError struct {
	Op      string
	Timeout string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s waiting for %s", e.Timeout, e.Op)
}
