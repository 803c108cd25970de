package git

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gitbutler/butlerd/internal/vcs"
)

// detect populates git repository information
func (g *Git) detect(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Use git rev-parse to get all info in one call
	cmd := exec.Command("git", "rev-parse", "--git-dir", "--show-toplevel")
	cmd.Dir = absPath

	output, err := cmd.Output()
	if err != nil {
		return vcs.ErrNotInVCS
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) < 2 {
		return fmt.Errorf("unexpected git rev-parse output: got %d lines, expected 2", len(lines))
	}

	gitDir := strings.TrimSpace(lines[0])
	repoRoot := strings.TrimSpace(lines[1])

	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(absPath, gitDir)
	}

	g.gitDir = normalizeRepoRoot(gitDir)
	g.repoRoot = normalizeRepoRoot(repoRoot)

	return nil
}

// normalizeRepoRoot normalizes the repository root path
// Resolves symlinks and canonicalizes case on case-insensitive filesystems
func normalizeRepoRoot(path string) string {
	path = filepath.FromSlash(path)

	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}

	return path
}

// Status returns the status of every changed file in the working directory,
// untracked files included.
func (g *Git) Status(ctx context.Context) ([]vcs.FileStatus, error) {
	output, err := g.Exec(ctx, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	var statuses []vcs.FileStatus
	records := vcs.SplitNUL(output)

	for i := 0; i < len(records); i++ {
		record := records[i]
		if len(record) < 4 {
			continue
		}

		// Parse status format: XY filename
		// X = staged status, Y = unstaged status
		staged := record[0:1]
		unstaged := record[1:2]

		status := vcs.FileStatus{
			Path:       record[3:],
			Status:     parseStatusCode(unstaged),
			StagedCode: parseStatusCode(staged),
		}

		// Renames and copies carry the original path as the next record
		if staged == "R" || staged == "C" {
			i++
		}

		statuses = append(statuses, status)
	}

	return statuses, nil
}

// parseStatusCode converts git status code to vcs.StatusCode
func parseStatusCode(code string) vcs.StatusCode {
	switch code {
	case " ":
		return vcs.StatusUnmodified
	case "M":
		return vcs.StatusModified
	case "A":
		return vcs.StatusAdded
	case "D":
		return vcs.StatusDeleted
	case "R":
		return vcs.StatusRenamed
	case "C":
		return vcs.StatusCopied
	case "?":
		return vcs.StatusUntracked
	case "!":
		return vcs.StatusIgnored
	case "U":
		return vcs.StatusConflict
	default:
		return vcs.StatusUnmodified
	}
}

// IgnoredPaths returns the paths excluded by .gitignore rules
func (g *Git) IgnoredPaths(ctx context.Context, paths []string) (map[string]bool, error) {
	ignored := make(map[string]bool)
	if len(paths) == 0 {
		return ignored, nil
	}

	stdin := []byte(strings.Join(paths, "\x00") + "\x00")
	output, err := g.execEnv(ctx, nil, stdin, "check-ignore", "-z", "--stdin")
	if err != nil {
		// Exit code 1 means none of the paths are ignored
		if vcs.GetExitCode(err) == 1 {
			return ignored, nil
		}
		return nil, err
	}

	for _, path := range vcs.SplitNUL(output) {
		ignored[path] = true
	}

	return ignored, nil
}

// ReadFileAt extracts a file's content from a specific revision
func (g *Git) ReadFileAt(ctx context.Context, rev, path string) ([]byte, bool, error) {
	object := rev + ":" + filepath.ToSlash(path)

	// cat-file -t exits non-zero when the object is missing
	kind, err := g.Exec(ctx, "cat-file", "-t", object)
	if err != nil {
		if vcs.GetExitCode(err) > 0 {
			return nil, false, nil
		}
		return nil, false, err
	}
	// A directory resolves to a tree, which has no file content
	if vcs.TrimOutput(kind) != "blob" {
		return nil, false, nil
	}

	output, err := g.Exec(ctx, "cat-file", "blob", object)
	if err != nil {
		return nil, false, fmt.Errorf("failed to extract file from ref: %w", err)
	}

	return output, true, nil
}
