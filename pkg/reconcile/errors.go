package reconcile

import (
	"errors"
	"fmt"

	"github.com/pluqqy/funnelkit/pkg/storage"
)

var (
	// ErrTimeout is wrapped by saves that exceeded the save timeout.
	ErrTimeout = errors.New("save timed out")
	// ErrFunnelNotFound is wrapped when the target funnel does not exist.
	ErrFunnelNotFound = errors.New("funnel not found")
	// ErrInvalidRequest is wrapped when a save request is malformed.
	ErrInvalidRequest = errors.New("invalid save request")
	// ErrSuperseded is returned to a queued save replaced by a newer one.
	ErrSuperseded = errors.New("save superseded by a newer request")
)

// SaveError reports a failed save. Nothing of the save was committed.
type SaveError struct {
	Op       string
	FunnelID string
	Err      error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save funnel %s: %s: %v", e.FunnelID, e.Op, e.Err)
}

func (e *SaveError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the same save may succeed.
func (e *SaveError) Retryable() bool {
	switch {
	case errors.Is(e.Err, ErrFunnelNotFound), errors.Is(e.Err, ErrInvalidRequest):
		return false
	case errors.Is(e.Err, storage.ErrConflict):
		return false
	default:
		return true
	}
}

// IsRetryable reports whether err is a save failure worth retrying.
func IsRetryable(err error) bool {
	var re interface{ Retryable() bool }
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}
