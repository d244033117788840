package coordinator

import (
	"fmt"
	"strings"

	"github.com/tphakala/tricam/internal/errors"
	"github.com/tphakala/tricam/internal/observation"
)

// ErrAlreadyStarted is returned by Run on a coordinator that has run before.
var ErrAlreadyStarted = errors.NewStd("coordinator already started")

// CaptureLossError reports that every camera failed for Cycles consecutive
// cycles. Causes holds the last failure of each camera.
type CaptureLossError struct {
	Cycles int
	Causes [observation.NumCameras]error
}

func (e *CaptureLossError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capture lost: all cameras stale for %d consecutive cycles", e.Cycles)
	for i, cause := range e.Causes {
		if cause != nil {
			fmt.Fprintf(&b, "; %s: %v", observation.Roles[i], cause)
		}
	}
	return b.String()
}

// Unwrap exposes the per-camera causes to errors.Is and errors.As.
func (e *CaptureLossError) Unwrap() []error {
	var errs []error
	for _, cause := range e.Causes {
		if cause != nil {
			errs = append(errs, cause)
		}
	}
	return errs
}

// ErrorCategory lets the errors package classify capture loss.
func (e *CaptureLossError) ErrorCategory() errors.ErrorCategory {
	return errors.CategoryCaptureLoss
}

// IsCaptureLoss reports whether err is a CaptureLossError.
func IsCaptureLoss(err error) bool {
	var cl *CaptureLossError
	return errors.As(err, &cl)
}
