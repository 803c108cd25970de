package vbranch

import (
	"errors"
	"fmt"
)

// Marker tags an error with a condition callers react to.
type Marker int

const (
	// MarkerVerificationFailure means the worktree is in a state branches
	// cannot be computed from right now, e.g. mid-rebase or checked out
	// away from the integration branch. It is expected to clear on its own.
	MarkerVerificationFailure Marker = iota + 1

	// MarkerProjectConflict means the worktree has unresolved conflicts.
	MarkerProjectConflict
)

func (m Marker) String() string {
	switch m {
	case MarkerVerificationFailure:
		return "verification failure"
	case MarkerProjectConflict:
		return "project conflict"
	default:
		return fmt.Sprintf("marker(%d)", int(m))
	}
}

// MarkedError carries a Marker alongside the underlying error.
type MarkedError struct {
	Marker Marker
	Err    error
}

func (e *MarkedError) Error() string {
	if e.Err == nil {
		return e.Marker.String()
	}
	return fmt.Sprintf("%s: %v", e.Marker, e.Err)
}

func (e *MarkedError) Unwrap() error {
	return e.Err
}

// Mark tags err with marker.
func Mark(err error, marker Marker) error {
	return &MarkedError{Marker: marker, Err: err}
}

// HasMarker reports whether any error in err's chain carries marker.
func HasMarker(err error, marker Marker) bool {
	for err != nil {
		var marked *MarkedError
		if !errors.As(err, &marked) {
			return false
		}
		if marked.Marker == marker {
			return true
		}
		err = marked.Err
	}
	return false
}
