package analysis

import (
	"errors"
	"fmt"
)

// Error kinds of the analysis pipeline.
var (
	// ErrConfiguration means a required external capability is unavailable.
	ErrConfiguration = errors.New("configuration error")
	// ErrExtraction is a failure to extract one file or report.
	ErrExtraction = errors.New("extraction failure")
	// ErrInference is a failed inference sub-call.
	ErrInference = errors.New("inference failure")
	// ErrMappingMiss is a mention that matched no region.
	ErrMappingMiss = errors.New("mapping miss")
	// ErrPersistence is a failed write of analysis results.
	ErrPersistence = errors.New("persistence failure")
)

// Error attaches the failing operation to one of the kinds above.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Is matches the error kind so callers can use errors.Is(err, ErrPersistence).
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as the given kind.
func NewError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
