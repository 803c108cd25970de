package projects

import "sync"

// worktreeLock serializes every in-process writer of one project's
// repository. All Project copies of the same ID share one lock.
type worktreeLock struct {
	mu sync.Mutex
}

// WriteAccess proves the holder owns the project's exclusive worktree
// guard. Mutating operations take it as an argument.
type WriteAccess struct {
	projectID string
}

// ProjectID returns the project the permission was issued for.
func (w *WriteAccess) ProjectID() string {
	return w.projectID
}

// WorktreeGuard is held while a project's repository is being mutated.
// Release it with defer right after acquiring.
type WorktreeGuard struct {
	lock     *worktreeLock
	perm     *WriteAccess
	released bool
}

// ExclusiveWorktreeAccess blocks until no other writer holds the project's
// worktree, then returns the guard.
func (p *Project) ExclusiveWorktreeAccess() *WorktreeGuard {
	lock := p.access
	if lock == nil {
		// Projects built outside a registry still get a private lock
		lock = &worktreeLock{}
		p.access = lock
	}

	lock.mu.Lock()
	return &WorktreeGuard{
		lock: lock,
		perm: &WriteAccess{projectID: p.ID},
	}
}

// WritePermission returns the token mutating operations require.
func (g *WorktreeGuard) WritePermission() *WriteAccess {
	return g.perm
}

// Release gives up the guard. Calling it more than once is a no-op.
func (g *WorktreeGuard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.lock.mu.Unlock()
}
