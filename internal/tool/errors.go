package tool

import "fmt"

// ValidationError is the 2xxx-range error a tool raises when its own
// argument validation fails or the operation itself (file I/O, the HTTP
// request, starting the process) fails, distinct from a policy denial. The
// orchestrator converts it into a ToolResult with status=error.
type ValidationError struct {
	Code    int
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool validation error %d: %s", e.Code, e.Message)
}

// NewValidationError builds a ValidationError with the standard 2000 code.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Code: 2000, Message: message}
}
