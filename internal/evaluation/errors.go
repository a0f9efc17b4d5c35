package evaluation

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("evaluation not found")
	ErrEmptyResultKey = errors.New("result key is required")
)

// TransactionError reports a save that failed partway and was rolled back.
type TransactionError struct {
	ResultKey string
	Step      string
	Err       error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("failed to save evaluation %q at %s: %v", e.ResultKey, e.Step, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

// ValidationWarning records a payload field that was missing or malformed and
// replaced by a default. It never aborts a save.
type ValidationWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (w ValidationWarning) String() string {
	return w.Field + ": " + w.Message
}
