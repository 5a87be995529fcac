package redisstream

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
)

// ErrNotStarted indicates an operation that requires Start was called on a
// stopped transport.
var ErrNotStarted = errors.New("redisstream: transport not started")

// InitError reports that a stream or consumer group could not be
// initialized within the retry budget. The process must not start serving
// when initialization fails.
type InitError struct {
	Stream string
	Group  string
	Err    error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("failed to initialize stream %q group %q: %v", e.Stream, e.Group, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// isConnectionError reports whether err is a transient connection-class
// failure worth retrying. Application-level errors and context
// cancellation are not.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	// go-redis does not export its pool timeout error.
	return strings.Contains(err.Error(), "connection pool timeout")
}
