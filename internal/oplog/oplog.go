// Package oplog records point-in-time snapshots of a project's worktree.
//
// Each snapshot is a commit whose tree captures the worktree (tracked and
// untracked files, minus ignored ones) and whose parent is the previous
// snapshot. The chain hangs off refs/gitbutler/oplog, so it never shows up
// as a user branch and survives checkouts.
//
// Snapshot commit messages carry the operation as git trailers:
//
//	FileChanges
//
//	Version: 1
//	Operation: FileChanges
package oplog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// Ref is the reference the snapshot chain hangs off.
const Ref = "refs/gitbutler/oplog"

// Version is written into every snapshot so readers can evolve the format.
const Version = "1"

// ErrNoWriteAccess is returned when a snapshot is attempted without the
// project's exclusive worktree guard.
var ErrNoWriteAccess = errors.New("snapshot requires exclusive worktree access")

// OperationKind names what caused a snapshot.
type OperationKind string

const (
	CreateCommit        OperationKind = "CreateCommit"
	CreateBranch        OperationKind = "CreateBranch"
	SetBaseBranch       OperationKind = "SetBaseBranch"
	MergeUpstream       OperationKind = "MergeUpstream"
	UpdateWorkspaceBase OperationKind = "UpdateWorkspaceBase"
	MoveHunk            OperationKind = "MoveHunk"
	UpdateBranchName    OperationKind = "UpdateBranchName"
	ApplyBranch         OperationKind = "ApplyBranch"
	UnapplyBranch       OperationKind = "UnapplyBranch"
	DeleteBranch        OperationKind = "DeleteBranch"
	DiscardHunk         OperationKind = "DiscardHunk"
	DiscardFile         OperationKind = "DiscardFile"
	AmendCommit         OperationKind = "AmendCommit"
	UndoCommit          OperationKind = "UndoCommit"
	RestoreFromSnapshot OperationKind = "RestoreFromSnapshot"
	FileChanges         OperationKind = "FileChanges"
	Unknown             OperationKind = "Unknown"
)

// Trailer is a key/value pair appended to the snapshot message.
type Trailer struct {
	Key   string
	Value string
}

// SnapshotDetails describes one snapshot. It is built fresh for each
// snapshot and not retained afterwards.
type SnapshotDetails struct {
	Operation OperationKind
	Title     string
	Trailers  []Trailer
}

// NewSnapshotDetails returns details for kind with the title set to the kind.
func NewSnapshotDetails(kind OperationKind) SnapshotDetails {
	return SnapshotDetails{
		Operation: kind,
		Title:     string(kind),
	}
}

// WithTrailer returns a copy of d with an extra trailer.
func (d SnapshotDetails) WithTrailer(key, value string) SnapshotDetails {
	trailers := make([]Trailer, len(d.Trailers), len(d.Trailers)+1)
	copy(trailers, d.Trailers)
	d.Trailers = append(trailers, Trailer{Key: key, Value: value})
	return d
}

// Message renders the commit message for the snapshot.
func (d SnapshotDetails) Message() string {
	title := d.Title
	if title == "" {
		title = string(d.Operation)
	}

	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Version: %s\n", Version)
	fmt.Fprintf(&b, "Operation: %s\n", d.Operation)
	for _, t := range d.Trailers {
		fmt.Fprintf(&b, "%s: %s\n", t.Key, strings.ReplaceAll(t.Value, "\n", " "))
	}
	return b.String()
}

// ParseMessage recovers snapshot details from a commit message.
func ParseMessage(message string) SnapshotDetails {
	lines := strings.Split(strings.TrimRight(message, "\n"), "\n")

	d := SnapshotDetails{Operation: Unknown}
	if len(lines) > 0 {
		d.Title = lines[0]
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			continue
		}
		switch key {
		case "Version":
		case "Operation":
			d.Operation = OperationKind(value)
		default:
			d.Trailers = append(d.Trailers, Trailer{Key: key, Value: value})
		}
	}

	return d
}

// Snapshot is a recorded entry of the oplog.
type Snapshot struct {
	ID        string
	CreatedAt time.Time
	Details   SnapshotDetails
}

// CreateSnapshot captures the worktree and appends it to the oplog.
// perm must come from the project's exclusive worktree guard.
func CreateSnapshot(ctx context.Context, repo vcs.Repository, details SnapshotDetails, perm *projects.WriteAccess) (string, error) {
	if perm == nil {
		return "", ErrNoWriteAccess
	}

	var parents []string
	previous, err := repo.FindReference(ctx, Ref)
	switch {
	case err == nil:
		parents = append(parents, previous.Hash)
	case errors.Is(err, vcs.ErrRefNotFound):
		// First snapshot of this project
	default:
		return "", fmt.Errorf("failed to read oplog head: %w", err)
	}

	tree, err := repo.WriteWorktreeTree(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to capture worktree: %w", err)
	}

	commit, err := repo.CommitTree(ctx, tree, parents, details.Message())
	if err != nil {
		return "", fmt.Errorf("failed to write snapshot commit: %w", err)
	}

	if err := repo.UpdateReference(ctx, Ref, commit, previous.Hash, "snapshot: "+string(details.Operation)); err != nil {
		return "", fmt.Errorf("failed to advance oplog: %w", err)
	}

	return commit, nil
}

// LogReader is the subset of git needed to walk the oplog.
type LogReader interface {
	Exec(ctx context.Context, args ...string) ([]byte, error)
}

// ListSnapshots returns up to limit snapshots, newest first.
func ListSnapshots(ctx context.Context, repo LogReader, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 20
	}

	output, err := repo.Exec(ctx, "log", "-n", fmt.Sprintf("%d", limit),
		"--format=%H%x00%ct%x00%B%x1e", Ref, "--")
	if err != nil {
		return nil, fmt.Errorf("failed to read oplog: %w", err)
	}

	var snapshots []Snapshot
	for _, record := range strings.Split(string(output), "\x1e") {
		record = strings.TrimLeft(record, "\n")
		if record == "" {
			continue
		}

		fields := strings.SplitN(record, "\x00", 3)
		if len(fields) != 3 {
			continue
		}

		var seconds int64
		if _, err := fmt.Sscanf(fields[1], "%d", &seconds); err != nil {
			continue
		}

		snapshots = append(snapshots, Snapshot{
			ID:        fields[0],
			CreatedAt: time.Unix(seconds, 0),
			Details:   ParseMessage(fields[2]),
		})
	}

	sort.SliceStable(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})

	return snapshots, nil
}
