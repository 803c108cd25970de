package cloudsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/gitbutler/butlerd/internal/logging"
	"github.com/gitbutler/butlerd/internal/oplog"
	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/users"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// ErrNoWriteAccess is returned when a push is attempted without the
// project's worktree guard.
var ErrNoWriteAccess = errors.New("push requires exclusive worktree access")

// ErrNotLoggedIn is returned when the user carries no access token.
var ErrNotLoggedIn = errors.New("user is not logged in")

type pusher struct {
	logger *logrus.Entry
	now    func() time.Time
}

// New creates a Pusher that pushes with the git binary.
func New() Pusher {
	return &pusher{
		logger: logging.NewLogger("cloudsync"),
		now:    time.Now,
	}
}

// RemoteRef is where the oplog of projectID lands on the remote.
func RemoteRef(projectID string) string {
	return fmt.Sprintf("refs/gitbutler/%s/oplog", projectID)
}

// PushOplog implements Pusher.PushOplog.
func (p *pusher) PushOplog(ctx context.Context, repo vcs.Repository, project *projects.Project, user *users.User, registry SyncRecorder, perm *projects.WriteAccess) error {
	if perm == nil || perm.ProjectID() != project.ID {
		return ErrNoWriteAccess
	}
	if user == nil || user.AccessToken == "" {
		return ErrNotLoggedIn
	}
	if !project.HasCodeURL() {
		return fmt.Errorf("%w: project %s has no code url", vcs.ErrNoRemote, project.ID)
	}

	head, err := repo.FindReference(ctx, oplog.Ref)
	if err != nil {
		if errors.Is(err, vcs.ErrRefNotFound) {
			p.logger.WithField("project", project.ID).Debug("No oplog to push")
			return nil
		}
		return fmt.Errorf("failed to read oplog head: %w", err)
	}

	err = repo.Push(ctx, vcs.PushOptions{
		Remote:       project.CodeURL,
		RefSpecs:     []string{fmt.Sprintf("+%s:%s", oplog.Ref, RemoteRef(project.ID))},
		ExtraHeaders: []string{"Authorization: Bearer " + user.AccessToken},
	})
	if err != nil {
		return fmt.Errorf("failed to push oplog: %w", err)
	}

	if registry != nil {
		if err := registry.MarkSynced(project.ID, p.now()); err != nil {
			return fmt.Errorf("failed to record sync: %w", err)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"project": project.ID,
		"oplog":   head.Hash,
	}).Info("Pushed oplog")

	return nil
}
