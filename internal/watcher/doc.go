// Package watcher reconciles filesystem activity in project worktrees into
// repository actions and outward Changes.
//
// # Architecture
//
//   - FileWatcher: fsnotify over every worktree directory plus the few .git
//     paths that matter (HEAD, FETCH_HEAD, logs/HEAD, refs/gitbutler/oplog)
//   - Daemon: debounces watcher output per project, turns it into
//     InternalEvents and handles each on its own goroutine
//   - Handler: classifies an InternalEvent and calls the collaborators
//   - Sender: the channel Changes leave through
//
// # Events
//
//	ProjectFilesChange          snapshot if due, record deltas, recalculate branches
//	GitFilesChange              FETCH_HEAD, logs/HEAD and HEAD become Changes
//	OplogChange                 push the oplog when sync is configured
//	RecalculateVirtualBranches  recalculate branches
//
// Every mutation of a project's repository (snapshot, integration branch
// deletion, oplog push, delta recording) happens under the project's
// exclusive worktree guard. Nothing else is serialized, so events for
// different projects proceed independently.
//
// # Errors
//
// Handle wraps failures with the step that failed and returns them; the
// Daemon logs them and carries on with the next event. Two conditions are
// not failures: a virtual branch listing marked as a verification failure,
// and an oplog change for a project that does not sync.
package watcher
