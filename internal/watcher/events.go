package watcher

import "fmt"

// InternalEvent is something that happened to a project, reported by the
// file watcher or posted by a command after it mutated the repository.
type InternalEvent interface {
	// Project returns the ID of the affected project.
	Project() string

	fmt.Stringer

	internalEvent()
}

// ProjectFilesChange reports changed worktree files. Paths are relative to
// the worktree root, slash separated.
type ProjectFilesChange struct {
	ProjectID string
	Paths     []string
}

// GitFilesChange reports changed files inside the .git directory. Paths are
// relative to the .git directory, e.g. "HEAD" or "logs/HEAD".
type GitFilesChange struct {
	ProjectID string
	Paths     []string
}

// OplogChange reports that the oplog reference moved.
type OplogChange struct {
	ProjectID string
}

// RecalculateVirtualBranches asks for a fresh virtual branch listing.
type RecalculateVirtualBranches struct {
	ProjectID string
}

func (e ProjectFilesChange) Project() string         { return e.ProjectID }
func (e GitFilesChange) Project() string             { return e.ProjectID }
func (e OplogChange) Project() string                { return e.ProjectID }
func (e RecalculateVirtualBranches) Project() string { return e.ProjectID }

func (ProjectFilesChange) internalEvent()         {}
func (GitFilesChange) internalEvent()             {}
func (OplogChange) internalEvent()                {}
func (RecalculateVirtualBranches) internalEvent() {}

func (e ProjectFilesChange) String() string {
	return fmt.Sprintf("ProjectFilesChange(%s, %s)", e.ProjectID, describePaths(e.Paths))
}

func (e GitFilesChange) String() string {
	return fmt.Sprintf("GitFilesChange(%s, %s)", e.ProjectID, describePaths(e.Paths))
}

func (e OplogChange) String() string {
	return fmt.Sprintf("OplogChange(%s)", e.ProjectID)
}

func (e RecalculateVirtualBranches) String() string {
	return fmt.Sprintf("RecalculateVirtualBranches(%s)", e.ProjectID)
}

func describePaths(paths []string) string {
	switch len(paths) {
	case 0:
		return "no paths"
	case 1:
		return paths[0]
	default:
		return fmt.Sprintf("%d paths", len(paths))
	}
}

// eventKind is the metrics label of an event.
func eventKind(e InternalEvent) string {
	switch e.(type) {
	case ProjectFilesChange:
		return "ProjectFilesChange"
	case GitFilesChange:
		return "GitFilesChange"
	case OplogChange:
		return "OplogChange"
	case RecalculateVirtualBranches:
		return "RecalculateVirtualBranches"
	default:
		return "unknown"
	}
}
