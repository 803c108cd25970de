package watcher

import (
	"github.com/gitbutler/butlerd/internal/sessions"
	"github.com/gitbutler/butlerd/internal/vbranch"
)

// Change kinds as they appear on the wire.
const (
	KindVirtualBranches = "virtual_branches"
	KindGitFetch        = "git_fetch"
	KindGitActivity     = "git_activity"
	KindGitHead         = "git_head"
	KindSessionFlushed  = "session"
)

// Change is an outward notification for clients. Changes are immutable and
// delivered at most once.
type Change interface {
	// Kind names the change on the wire.
	Kind() string

	// Project returns the ID of the affected project.
	Project() string
}

// VirtualBranchesUpdated carries a fresh virtual branch listing.
type VirtualBranchesUpdated struct {
	ProjectID string                  `json:"project_id"`
	Branches  vbranch.VirtualBranches `json:"virtual_branches"`
}

// GitFetchOccurred reports that FETCH_HEAD was rewritten.
type GitFetchOccurred struct {
	ProjectID string `json:"project_id"`
}

// GitActivityOccurred reports that the HEAD reflog grew.
type GitActivityOccurred struct {
	ProjectID string `json:"project_id"`
}

// GitHeadChanged reports the reference HEAD now points at.
type GitHeadChanged struct {
	ProjectID string `json:"project_id"`
	Head      string `json:"head"`
}

// SessionFlushed reports a closed recording session.
type SessionFlushed struct {
	ProjectID string            `json:"project_id"`
	Session   *sessions.Session `json:"session"`
}

func (VirtualBranchesUpdated) Kind() string { return KindVirtualBranches }
func (GitFetchOccurred) Kind() string       { return KindGitFetch }
func (GitActivityOccurred) Kind() string    { return KindGitActivity }
func (GitHeadChanged) Kind() string         { return KindGitHead }
func (SessionFlushed) Kind() string         { return KindSessionFlushed }

func (c VirtualBranchesUpdated) Project() string { return c.ProjectID }
func (c GitFetchOccurred) Project() string       { return c.ProjectID }
func (c GitActivityOccurred) Project() string    { return c.ProjectID }
func (c GitHeadChanged) Project() string         { return c.ProjectID }
func (c SessionFlushed) Project() string         { return c.ProjectID }
