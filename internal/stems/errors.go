package stems

import (
	"fmt"
	"strings"
)

// ErrMissingStems indicates canonicalization could not produce every
// required stem, even after attempting synthesis from the accompaniment.
type ErrMissingStems struct{ Missing []string }

func (e *ErrMissingStems) Error() string {
	return fmt.Sprintf("missing stems: %s", strings.Join(e.Missing, ", "))
}

// ErrSeparationFailed indicates every candidate model failed to load or
// separate; Last carries the innermost error observed.
type ErrSeparationFailed struct{ Last error }

func (e *ErrSeparationFailed) Error() string {
	if e.Last == nil {
		return "separation failed: no candidate models available"
	}
	return fmt.Sprintf("separation failed: %v", e.Last)
}

func (e *ErrSeparationFailed) Unwrap() error { return e.Last }
