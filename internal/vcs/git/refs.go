package git

import (
	"context"
	"fmt"
	"strings"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// Head returns the full name of the reference HEAD points to.
// A detached HEAD is reported as "HEAD".
func (g *Git) Head(ctx context.Context) (string, error) {
	output, err := g.Exec(ctx, "symbolic-ref", "-q", "HEAD")
	if err != nil {
		// symbolic-ref -q exits 1 when HEAD is detached
		if vcs.GetExitCode(err) == 1 {
			return "HEAD", nil
		}
		return "", fmt.Errorf("failed to get head: %w", err)
	}

	return vcs.TrimOutput(output), nil
}

// HeadCommit returns the commit hash HEAD resolves to
func (g *Git) HeadCommit(ctx context.Context) (string, error) {
	ref, err := g.FindReference(ctx, "HEAD")
	if err != nil {
		return "", err
	}
	return ref.Hash, nil
}

// FindReference resolves a full reference name
func (g *Git) FindReference(ctx context.Context, name string) (vcs.RefInfo, error) {
	output, err := g.Exec(ctx, "rev-parse", "--verify", "-q", name)
	if err != nil {
		if vcs.GetExitCode(err) == 1 {
			return vcs.RefInfo{}, vcs.ErrRefNotFound
		}
		return vcs.RefInfo{}, fmt.Errorf("failed to resolve ref %s: %w", name, err)
	}

	return vcs.RefInfo{
		Name: name,
		Hash: vcs.TrimOutput(output),
	}, nil
}

// DeleteReference deletes the named reference
func (g *Git) DeleteReference(ctx context.Context, name string) error {
	if _, err := g.FindReference(ctx, name); err != nil {
		return err
	}

	if _, err := g.Exec(ctx, "update-ref", "-d", name); err != nil {
		return fmt.Errorf("failed to delete reference %s: %w", name, err)
	}

	return nil
}

// UpdateReference moves the reference to point to the specified target
func (g *Git) UpdateReference(ctx context.Context, name, target, oldTarget, reason string) error {
	args := []string{"update-ref"}
	if reason != "" {
		args = append(args, "-m", reason)
	}
	args = append(args, name, target)
	if oldTarget != "" {
		args = append(args, oldTarget)
	}

	if _, err := g.Exec(ctx, args...); err != nil {
		if oldTarget != "" && strings.Contains(err.Error(), "but expected") {
			return fmt.Errorf("%w: %s", vcs.ErrRefConflict, name)
		}
		return fmt.Errorf("failed to update reference %s: %w", name, err)
	}

	return nil
}
