package catalog

import (
	"errors"
	"net"
	"strings"
)

// TransientError marks a lookup failure that is safe to retry (429, 5xx,
// network timeouts).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err, or anything it wraps, is worth another try.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{"connection reset by peer", "connection refused", "broken pipe", "i/o timeout", "tls handshake timeout", "server closed idle connection"} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isRetryableStatus(status int) bool {
	switch status {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
