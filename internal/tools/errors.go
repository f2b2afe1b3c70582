package tools

import "fmt"

// ErrToolUnavailable is returned when the model calls a tool that is not
// registered, usually because its service is not configured.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}
