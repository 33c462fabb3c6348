package kubectl

import (
	"fmt"
	"strings"
)

// Error wraps a failed external command with the operation that was
// attempted, so callers can report which kubectl/helm invocation broke.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// nonRetryable lists error-message fragments that indicate a failure no
// amount of retrying will fix (bad input, missing object, RBAC denial).
var nonRetryable = []string{
	"not found",
	"already exists",
	"forbidden",
	"unauthorized",
	"invalid",
	"malformed",
	"syntax error",
	"bad request",
}

// IsRetryable reports whether err looks transient. Timeouts and generic
// process failures are retryable; anything matching the non-retryable
// classifier fails immediately without consuming retry budget.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range nonRetryable {
		if strings.Contains(msg, fragment) {
			return false
		}
	}

	return true
}

// IsNotFound reports whether err is a kubectl "not found" failure.
func IsNotFound(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}
