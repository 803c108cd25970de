// Package projects is the registry of watched working directories.
//
// Projects are persisted in a TOML file (projects.toml) under the daemon's
// data directory. The registry hands out copies of Project values; the only
// field the daemon itself mutates is the snapshot bookkeeping, which goes
// through Registry.MarkSnapshot so concurrent handlers never lose an update.
package projects

import (
	"fmt"
	"time"
)

// Project is a watched working directory.
type Project struct {
	ID    string `toml:"id"`
	Title string `toml:"title"`

	// Path is the absolute path of the worktree root
	Path string `toml:"path"`

	// SyncEnabled opts the project into pushing its oplog to the remote
	// service
	SyncEnabled bool `toml:"sync_enabled"`

	// CodeURL is the remote the oplog is pushed to
	CodeURL string `toml:"code_url,omitempty"`

	CreatedAt      time.Time `toml:"created_at"`
	LastSnapshotAt time.Time `toml:"last_snapshot_at,omitempty"`
	LastSyncedAt   time.Time `toml:"last_synced_at,omitempty"`

	access *worktreeLock
}

// IsSyncEnabled reports whether oplog sync is switched on.
func (p *Project) IsSyncEnabled() bool {
	return p.SyncEnabled
}

// HasCodeURL reports whether a remote code URL is configured.
func (p *Project) HasCodeURL() bool {
	return p.CodeURL != ""
}

// ShouldAutoSnapshot reports whether at least threshold has elapsed since the
// last snapshot, or since the project was added if it has never been
// snapshotted.
func (p *Project) ShouldAutoSnapshot(threshold time.Duration) (bool, error) {
	return p.shouldAutoSnapshotAt(time.Now(), threshold)
}

func (p *Project) shouldAutoSnapshotAt(now time.Time, threshold time.Duration) (bool, error) {
	last := p.LastSnapshotAt
	if last.IsZero() {
		last = p.CreatedAt
	}
	if last.IsZero() {
		return false, fmt.Errorf("project %s has no creation time", p.ID)
	}
	return now.Sub(last) >= threshold, nil
}

// Validate checks that the project has the fields the daemon relies on.
func (p *Project) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if p.Path == "" {
		return fmt.Errorf("path is required")
	}
	if p.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}
