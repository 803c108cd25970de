package sessions

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// Source supplies what a session needs from the repository: the committed
// content a newly tracked file is diffed against, and the HEAD a new session
// starts on.
type Source interface {
	// Baseline returns the committed content of path, or "" if the path is
	// not in HEAD.
	Baseline(ctx context.Context, path string) (string, error)

	// Head returns the branch and commit HEAD points at.
	Head(ctx context.Context) (branch, commit string, err error)
}

// RepoSource reads baselines from a repository's HEAD commit.
type RepoSource struct {
	Repo vcs.Repository
}

// Baseline implements Source.
func (s RepoSource) Baseline(ctx context.Context, path string) (string, error) {
	content, ok, err := s.Repo.ReadFileAt(ctx, "HEAD", path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s at HEAD: %w", path, err)
	}
	if !ok {
		return "", nil
	}
	return string(content), nil
}

// Head implements Source. An unborn branch yields an empty commit.
func (s RepoSource) Head(ctx context.Context) (string, string, error) {
	branch, err := s.Repo.Head(ctx)
	if err != nil {
		return "", "", err
	}

	commit, err := s.Repo.HeadCommit(ctx)
	if err != nil && !errors.Is(err, vcs.ErrRefNotFound) {
		return "", "", err
	}

	return branch, commit, nil
}
