package shared

import "errors"

// Error kinds surfaced by the billing core. Specific failures wrap one of
// these with fmt.Errorf("%w: ...") so callers can branch with errors.Is.
var (
	// ErrNotFound indicates a referenced invoice, student or school is absent.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a rejected request value (non-positive amount, overpayment).
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState indicates the target is in a state that forbids the operation.
	ErrInvalidState = errors.New("invalid state")
	// ErrConcurrencyConflict indicates the transaction could not serialize against a
	// concurrent writer. The whole operation may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// Kind returns the taxonomy sentinel err belongs to, or nil for unclassified errors.
func Kind(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalidInput, ErrInvalidState, ErrConcurrencyConflict} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// NewError returns an error with its own message that still matches kind
// under errors.Is.
func NewError(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}
