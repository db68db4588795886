package dgc

import (
	"fmt"

	"github.com/pkg/errors"
)

// InvariantKind identifies a violated engine invariant.
type InvariantKind string

const (
	// KindOutstanding means a gradient was delivered for a
	// parameter whose previous exchange is still in flight.
	KindOutstanding InvariantKind = "OUTSTANDING"

	// KindEmptySelection means the selector chose nothing
	// on a compressed tier.
	KindEmptySelection InvariantKind = "EMPTY_SELECTION"
)

// An InvariantError is a fatal ordering or configuration
// error. The step it occurs in must not be retried.
type InvariantError struct {
	Kind  InvariantKind
	Param string
	ID    ParamID
}

// Error implements the error interface.
func (i *InvariantError) Error() string {
	switch i.Kind {
	case KindOutstanding:
		return fmt.Sprintf("%s: parameter %s (id=%d) already has an outstanding exchange",
			i.Kind, i.Param, i.ID)
	case KindEmptySelection:
		return fmt.Sprintf("%s: selection for parameter %s (id=%d) is empty",
			i.Kind, i.Param, i.ID)
	default:
		return fmt.Sprintf("%s: parameter %s (id=%d)", i.Kind, i.Param, i.ID)
	}
}

// A CommError is a communication failure for a parameter.
type CommError struct {
	Param string
	ID    ParamID
	Err   error
}

// Error implements the error interface.
func (c *CommError) Error() string {
	return fmt.Sprintf("exchange parameter %s (id=%d): %s", c.Param, c.ID, c.Err)
}

// Unwrap returns the underlying error.
func (c *CommError) Unwrap() error {
	return c.Err
}

// IsOutstanding returns true if err is, or wraps, an
// InvariantError of kind KindOutstanding.
func IsOutstanding(err error) bool {
	return isInvariant(err, KindOutstanding)
}

// IsEmptySelection returns true if err is, or wraps, an
// InvariantError of kind KindEmptySelection.
func IsEmptySelection(err error) bool {
	return isInvariant(err, KindEmptySelection)
}

func isInvariant(err error, kind InvariantKind) bool {
	var ie *InvariantError
	if errors.As(err, &ie) {
		return ie.Kind == kind
	}
	return false
}
