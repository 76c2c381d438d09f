package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/crystal-mush/mushcode/pkg/gamedb"
)

// DefaultErrorPrefix starts every soft-error result.
const DefaultErrorPrefix = "#-1"

// Limit kinds carried by LimitError.
const (
	LimitRecursion  = "FUNCTION RECURSION"
	LimitInvocation = "FUNCTION INVOCATION"
	LimitCommand    = "COMMAND NEST"
)

// LimitError aborts a top-level command when a resource ceiling is crossed.
// It travels through ordinary error returns and is turned into a sentinel
// result by the caller that owns the command.
type LimitError struct {
	Kind     string
	Limit    int
	Function string
}

func (e *LimitError) Error() string {
	return e.Kind + " LIMIT EXCEEDED"
}

// AsLimit unwraps a *LimitError.
func AsLimit(err error) (*LimitError, bool) {
	var le *LimitError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// IsStoreError reports whether err is infrastructure trouble from the object
// store, as opposed to a limit abort or a cancelled context.
func IsStoreError(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := AsLimit(err); ok {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !gamedb.IsNotFound(err)
}

// Sentinel formats a soft-error message with the given prefix.
func Sentinel(prefix, msg string) string {
	if prefix == "" {
		prefix = DefaultErrorPrefix
	}
	if msg == "" {
		return prefix
	}
	return prefix + " " + msg
}

// IsSentinel reports whether s is a soft-error result.
func IsSentinel(prefix, s string) bool {
	if prefix == "" {
		prefix = DefaultErrorPrefix
	}
	return strings.HasPrefix(s, prefix)
}

func arityMessage(name string, min, max, got int) string {
	name = strings.ToUpper(name)
	switch {
	case min == max:
		return fmt.Sprintf("FUNCTION (%s) EXPECTS %d ARGUMENTS BUT GOT %d", name, min, got)
	case max < 0:
		return fmt.Sprintf("FUNCTION (%s) EXPECTS AT LEAST %d ARGUMENTS BUT GOT %d", name, min, got)
	default:
		return fmt.Sprintf("FUNCTION (%s) EXPECTS BETWEEN %d AND %d ARGUMENTS BUT GOT %d", name, min, max, got)
	}
}
