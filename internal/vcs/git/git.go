// Package git provides the git implementation of vcs.Repository.
//
// Every operation shells out to the git binary, the same way a user running
// git in the worktree would. Nothing is cached across calls: HEAD and
// references are re-read on each request so concurrent writers are always
// observed.
package git

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// Git implements vcs.Repository for a git worktree.
type Git struct {
	// repoRoot is the repository root directory path
	repoRoot string

	// gitDir is the .git directory path
	gitDir string

	// timeout bounds each git invocation
	timeout time.Duration
}

var _ vcs.Repository = (*Git)(nil)

// Open creates a Git instance for the repository containing path.
func Open(path string) (*Git, error) {
	if _, err := exec.LookPath("git"); err != nil {
		return nil, vcs.ErrVCSNotAvailable
	}

	g := &Git{timeout: vcs.DefaultTimeout}
	if err := g.detect(path); err != nil {
		return nil, err
	}

	return g, nil
}

// Opener adapts Open to vcs.Opener.
func Opener(path string) (vcs.Repository, error) {
	return Open(path)
}

// RepoRoot returns the repository root directory path
func (g *Git) RepoRoot() string {
	return g.repoRoot
}

// GitDir returns the .git directory path
func (g *Git) GitDir() string {
	return g.gitDir
}

// Exec executes a raw git command in the repository root
func (g *Git) Exec(ctx context.Context, args ...string) ([]byte, error) {
	return g.execEnv(ctx, nil, nil, args...)
}

func (g *Git) execEnv(ctx context.Context, env []string, stdin []byte, args ...string) ([]byte, error) {
	output, err := vcs.ExecEnv(ctx, g.timeout, g.repoRoot, env, stdin, "git", args...)
	if err != nil {
		return output, fmt.Errorf("git %s failed: %w", strings.Join(args, " "), err)
	}
	return output, nil
}
