package git

import (
	"context"
	"fmt"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// Push pushes the given refspecs to a remote name or URL
func (g *Git) Push(ctx context.Context, opts vcs.PushOptions) error {
	if opts.Remote == "" {
		return vcs.ErrNoRemote
	}
	if len(opts.RefSpecs) == 0 {
		return fmt.Errorf("at least one refspec is required")
	}

	var args []string
	for _, header := range opts.ExtraHeaders {
		args = append(args, "-c", "http.extraHeader="+header)
	}

	args = append(args, "push")
	if opts.Force {
		args = append(args, "--force")
	}
	args = append(args, opts.Remote)
	args = append(args, opts.RefSpecs...)

	if _, err := g.Exec(ctx, args...); err != nil {
		return fmt.Errorf("git push failed: %w", err)
	}

	return nil
}
