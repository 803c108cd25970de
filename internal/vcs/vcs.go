// Package vcs defines the repository primitives the reconciliation daemon
// orchestrates.
//
// The daemon never manipulates git objects directly. Every read or write of
// references, trees and commits goes through the Repository interface, which
// is implemented by internal/vcs/git on top of the git binary.
//
// # Usage
//
//	repo, err := git.Open("/path/to/worktree")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	head, err := repo.Head(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("HEAD is", head)
//
// # Write access
//
// Mutating methods (DeleteReference, UpdateReference, Push, CommitTree) do not
// lock anything themselves. Callers are expected to hold the project's
// exclusive worktree guard (see internal/projects) for the duration of the
// mutation.
package vcs

import (
	"context"
)

// Opener opens the repository that contains path.
type Opener func(path string) (Repository, error)

// Repository is the set of git operations the daemon needs.
type Repository interface {
	// ===================
	// Repository Information
	// ===================

	// RepoRoot returns the worktree root directory path.
	RepoRoot() string

	// GitDir returns the .git directory path.
	GitDir() string

	// ===================
	// Reference Operations
	// ===================

	// Head returns the full name of the reference HEAD points to, such as
	// "refs/heads/main". A detached HEAD is reported as "HEAD".
	Head(ctx context.Context) (string, error)

	// HeadCommit returns the commit hash HEAD resolves to.
	// Returns ErrRefNotFound on an unborn branch.
	HeadCommit(ctx context.Context) (string, error)

	// FindReference resolves a full reference name.
	// Returns ErrRefNotFound if the reference does not exist.
	FindReference(ctx context.Context, name string) (RefInfo, error)

	// DeleteReference removes a full reference name.
	// Returns ErrRefNotFound if the reference does not exist.
	DeleteReference(ctx context.Context, name string) error

	// UpdateReference points name at target. If oldTarget is non-empty the
	// update only succeeds when the reference currently points at oldTarget.
	UpdateReference(ctx context.Context, name, target, oldTarget, reason string) error

	// ===================
	// Status Operations
	// ===================

	// Status returns the working directory status, including untracked files.
	Status(ctx context.Context) ([]FileStatus, error)

	// IgnoredPaths returns the subset of paths (relative to RepoRoot) that
	// are excluded by .gitignore rules.
	IgnoredPaths(ctx context.Context, paths []string) (map[string]bool, error)

	// ReadFileAt returns the content of path at the given revision.
	// The boolean is false when the path does not exist at that revision.
	ReadFileAt(ctx context.Context, rev, path string) ([]byte, bool, error)

	// ===================
	// Object Operations
	// ===================

	// WriteWorktreeTree captures the whole worktree (tracked and untracked,
	// minus ignored files) into a tree object without touching the index.
	WriteWorktreeTree(ctx context.Context) (string, error)

	// CommitTree creates a commit object for tree with the given parents.
	CommitTree(ctx context.Context, tree string, parents []string, message string) (string, error)

	// ===================
	// Remote Operations
	// ===================

	// Push pushes refspecs to a remote name or URL.
	Push(ctx context.Context, opts PushOptions) error
}

// ===================
// Supporting Types
// ===================

// RefInfo contains information about a reference
type RefInfo struct {
	// Name is the full reference name (e.g., "refs/heads/main")
	Name string

	// Hash is the commit hash the reference points at
	Hash string
}

// FileStatus represents the status of a file in the working directory
type FileStatus struct {
	// Path is the file path relative to repository root
	Path string

	// Status is the working directory status
	Status StatusCode

	// StagedCode is the staging area status
	StagedCode StatusCode
}

// StatusCode represents file status codes
type StatusCode string

const (
	StatusUnmodified StatusCode = " " // No changes
	StatusModified   StatusCode = "M" // Modified
	StatusAdded      StatusCode = "A" // Added/new file
	StatusDeleted    StatusCode = "D" // Deleted
	StatusRenamed    StatusCode = "R" // Renamed
	StatusCopied     StatusCode = "C" // Copied
	StatusUntracked  StatusCode = "?" // Untracked
	StatusIgnored    StatusCode = "!" // Ignored
	StatusConflict   StatusCode = "U" // Unmerged/conflict
)

// Effective returns the most relevant status between the worktree and index
// columns.
func (f FileStatus) Effective() StatusCode {
	if f.Status != StatusUnmodified && f.Status != "" {
		return f.Status
	}
	return f.StagedCode
}

// PushOptions configures a push operation
type PushOptions struct {
	// Remote is a remote name or URL (required)
	Remote string

	// RefSpecs are the refspecs to push (required)
	RefSpecs []string

	// Force allows non-fast-forward updates
	Force bool

	// ExtraHeaders are sent with every HTTP request, e.g. an
	// "Authorization: Bearer ..." header.
	ExtraHeaders []string
}
