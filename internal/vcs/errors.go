package vcs

import "errors"

// Common errors returned by repository operations.
//
// These errors can be checked using errors.Is() for proper error handling:
//
//	if errors.Is(err, vcs.ErrRefNotFound) {
//	    // nothing to delete
//	}
var (
	// ErrNotInVCS is returned when the path is not inside a git repository.
	ErrNotInVCS = errors.New("not in a git repository")

	// ErrVCSNotAvailable is returned when the git binary is not installed
	// or not in PATH.
	ErrVCSNotAvailable = errors.New("git binary not available")

	// ErrRefNotFound is returned when attempting to operate on
	// a reference that doesn't exist.
	ErrRefNotFound = errors.New("reference not found")

	// ErrRefConflict is returned when a compare-and-swap reference update
	// finds the reference at an unexpected target.
	ErrRefConflict = errors.New("reference changed concurrently")

	// ErrNoRemote is returned when a push has no remote to push to.
	ErrNoRemote = errors.New("no remote configured")
)
