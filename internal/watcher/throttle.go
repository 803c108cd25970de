package watcher

import (
	"context"
	"fmt"

	"github.com/gitbutler/butlerd/internal/oplog"
)

// maybeCreateSnapshot snapshots the project when the last snapshot is older
// than the snapshot interval. A failing due-check counts as not due.
func (h *Handler) maybeCreateSnapshot(ctx context.Context, projectID string) error {
	project, err := h.getProject(projectID)
	if err != nil {
		return err
	}

	due, err := project.ShouldAutoSnapshot(h.snapshotInterval)
	if err != nil || !due {
		return nil
	}

	repo, err := h.openRepository(project)
	if err != nil {
		h.metrics.RecordSnapshot("error")
		return err
	}

	guard := project.ExclusiveWorktreeAccess()
	defer guard.Release()

	// Another event may have snapshotted while we waited for the guard
	fresh, err := h.getProject(projectID)
	if err != nil {
		return err
	}
	if due, err := fresh.ShouldAutoSnapshot(h.snapshotInterval); err != nil || !due {
		h.metrics.RecordSnapshot("skipped")
		return nil
	}

	id, err := h.snapshot(ctx, repo, oplog.NewSnapshotDetails(oplog.FileChanges), guard.WritePermission())
	if err != nil {
		h.metrics.RecordSnapshot("error")
		return fmt.Errorf("failed to create snapshot: %w", err)
	}

	if err := h.projects.MarkSnapshot(project.ID, h.now()); err != nil {
		return fmt.Errorf("failed to record snapshot time: %w", err)
	}

	h.metrics.RecordSnapshot("created")
	h.log.WithField("project", project.ID).WithField("snapshot", id).Info("Created snapshot")
	return nil
}
