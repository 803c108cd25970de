package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// Identity used for commits the daemon writes on its own behalf.
const (
	CommitterName  = "GitButler"
	CommitterEmail = "gitbutler@gitbutler.com"
)

// WriteWorktreeTree captures the worktree into a tree object using a
// throwaway index, leaving the user's index untouched.
func (g *Git) WriteWorktreeTree(ctx context.Context) (string, error) {
	tmp, err := os.CreateTemp("", "butlerd-index-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary index: %w", err)
	}
	indexPath := tmp.Name()
	_ = tmp.Close()
	// git refuses to read an empty file as an index
	_ = os.Remove(indexPath)
	defer os.Remove(indexPath)

	env := []string{"GIT_INDEX_FILE=" + filepath.Clean(indexPath)}

	if _, err := g.execEnv(ctx, env, nil, "add", "--all", "--", "."); err != nil {
		return "", fmt.Errorf("failed to stage worktree: %w", err)
	}

	output, err := g.execEnv(ctx, env, nil, "write-tree")
	if err != nil {
		return "", fmt.Errorf("failed to write tree: %w", err)
	}

	return vcs.TrimOutput(output), nil
}

// CommitTree creates a commit object for tree without moving any reference
func (g *Git) CommitTree(ctx context.Context, tree string, parents []string, message string) (string, error) {
	if message == "" {
		return "", fmt.Errorf("commit message is required")
	}

	args := []string{"commit-tree", tree}
	for _, parent := range parents {
		args = append(args, "-p", parent)
	}

	env := []string{
		"GIT_AUTHOR_NAME=" + CommitterName,
		"GIT_AUTHOR_EMAIL=" + CommitterEmail,
		"GIT_COMMITTER_NAME=" + CommitterName,
		"GIT_COMMITTER_EMAIL=" + CommitterEmail,
	}

	// The message goes through stdin so trailers keep their formatting
	output, err := g.execEnv(ctx, env, []byte(message), args...)
	if err != nil {
		return "", fmt.Errorf("failed to commit tree: %w", err)
	}

	return vcs.TrimOutput(output), nil
}
