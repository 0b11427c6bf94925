package embed

import (
	"context"
	stderrors "errors"
	"net"
)

// stdAs is errors.As under a name that does not collide with the
// internal errors package import.
func stdAs(err error, target any) bool {
	return stderrors.As(err, target)
}

// isDeadline reports whether err stems from an expired deadline, either
// a context deadline or a network-level timeout.
func isDeadline(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return stderrors.As(err, &nerr) && nerr.Timeout()
}
