// Package cloudsync pushes a project's oplog to the remote code service.
package cloudsync

import (
	"context"
	"time"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/users"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// Pusher sends the oplog of a project to its configured code URL.
//
// The caller decides whether a push should happen at all (sync enabled, code
// URL set, user logged in) and holds the project's exclusive worktree guard
// for the duration of the call; perm proves it.
type Pusher interface {
	// PushOplog pushes refs/gitbutler/oplog of repo to the project's code
	// URL authenticated as user, then records the sync time in registry.
	//
	// A project that has never been snapshotted has nothing to push and
	// returns nil without contacting the remote.
	//
	// Example:
	//   guard := project.ExclusiveWorktreeAccess()
	//   defer guard.Release()
	//   err := pusher.PushOplog(ctx, repo, project, user, registry, guard.WritePermission())
	PushOplog(ctx context.Context, repo vcs.Repository, project *projects.Project, user *users.User, registry SyncRecorder, perm *projects.WriteAccess) error
}

// SyncRecorder stores the time of the last successful push.
// *projects.Registry implements it.
type SyncRecorder interface {
	MarkSynced(projectID string, at time.Time) error
}
