package orbit

import (
	"errors"
	"fmt"
)

// Sentinels matched by the typed errors below via errors.Is.
var (
	ErrFetch       = errors.New("fetch failed")
	ErrParse       = errors.New("parse failed")
	ErrPropagation = errors.New("propagation failed")

	// ErrUnavailable is returned by state queries before any elements have loaded.
	ErrUnavailable = errors.New("orbit state unavailable")
)

// FetchError reports that the ephemeris source could not be reached or
// timed out.
type FetchError struct {
	CatalogID int
	Err       error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch elements for %d: %v", e.CatalogID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// ParseError reports element lines that are missing or structurally invalid.
type ParseError struct {
	CatalogID int
	Err       error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse elements for %d: %v", e.CatalogID, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// PropagationError reports that SGP4 rejected otherwise well-formed elements.
type PropagationError struct {
	CatalogID int
	Err       error
}

func (e *PropagationError) Error() string {
	return fmt.Sprintf("propagate %d: %v", e.CatalogID, e.Err)
}

func (e *PropagationError) Unwrap() error { return e.Err }

func (e *PropagationError) Is(target error) bool { return target == ErrPropagation }

// Outcome names the class of err for metrics and change events.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrFetch):
		return "fetch_error"
	case errors.Is(err, ErrParse):
		return "parse_error"
	case errors.Is(err, ErrPropagation):
		return "propagation_error"
	default:
		return "error"
	}
}
