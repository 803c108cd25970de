// Package vbranch computes virtual branches from a project's uncommitted
// work.
//
// The computation here is intentionally small: every uncommitted change is
// grouped into one branch named after the checked out branch. It exists so
// the daemon has a real Lister to call; richer ownership rules plug in behind
// the same interface.
package vbranch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/vcs"
)

// IntegrationRef is the reserved branch the workspace is checked out on
// while virtual branches are applied.
const IntegrationRef = "refs/heads/gitbutler/integration"

// DefaultMaxFileSize is the largest file included in a branch.
const DefaultMaxFileSize = 10 << 20

// File is one changed path owned by a branch.
type File struct {
	Path   string         `json:"path"`
	Status vcs.StatusCode `json:"status"`
	Size   int64          `json:"size"`
}

// Branch is a virtual branch.
type Branch struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Base    string `json:"base,omitempty"`
	Files   []File `json:"files"`
}

// VirtualBranches is the result of one recalculation.
type VirtualBranches struct {
	Branches     []Branch `json:"branches"`
	SkippedFiles []string `json:"skipped_files"`
}

// Lister computes the virtual branches of a project.
type Lister interface {
	ListVirtualBranches(ctx context.Context, project *projects.Project) (VirtualBranches, error)
}

// Service is the default Lister.
type Service struct {
	open        vcs.Opener
	maxFileSize int64
}

// NewService returns a Service that opens repositories with open.
func NewService(open vcs.Opener) *Service {
	return &Service{
		open:        open,
		maxFileSize: DefaultMaxFileSize,
	}
}

var _ Lister = (*Service)(nil)

// ListVirtualBranches implements Lister.
func (s *Service) ListVirtualBranches(ctx context.Context, project *projects.Project) (VirtualBranches, error) {
	repo, err := s.open(project.Path)
	if err != nil {
		return VirtualBranches{}, fmt.Errorf("failed to open repository: %w", err)
	}

	head, err := s.verify(ctx, repo)
	if err != nil {
		return VirtualBranches{}, err
	}

	statuses, err := repo.Status(ctx)
	if err != nil {
		return VirtualBranches{}, fmt.Errorf("failed to read status: %w", err)
	}

	base, err := repo.HeadCommit(ctx)
	if err != nil && !errors.Is(err, vcs.ErrRefNotFound) {
		return VirtualBranches{}, fmt.Errorf("failed to resolve head commit: %w", err)
	}

	name := branchName(head)
	branch := Branch{
		ID:      uuid.NewSHA1(uuid.NameSpaceURL, []byte(project.ID+"/"+name)).String(),
		Name:    name,
		Applied: true,
		Base:    base,
		Files:   []File{},
	}
	result := VirtualBranches{SkippedFiles: []string{}}

	for _, st := range statuses {
		code := st.Effective()
		if code == vcs.StatusConflict {
			return VirtualBranches{}, Mark(fmt.Errorf("%s has unresolved conflicts", st.Path), MarkerProjectConflict)
		}

		var size int64
		if code != vcs.StatusDeleted {
			info, err := os.Lstat(filepath.Join(repo.RepoRoot(), filepath.FromSlash(st.Path)))
			if err != nil && !os.IsNotExist(err) {
				return VirtualBranches{}, fmt.Errorf("failed to stat %s: %w", st.Path, err)
			}
			if info != nil {
				size = info.Size()
			}
		}

		if size > s.maxFileSize {
			result.SkippedFiles = append(result.SkippedFiles, st.Path)
			continue
		}
		branch.Files = append(branch.Files, File{Path: st.Path, Status: code, Size: size})
	}

	sort.Slice(branch.Files, func(i, j int) bool { return branch.Files[i].Path < branch.Files[j].Path })
	sort.Strings(result.SkippedFiles)

	result.Branches = []Branch{branch}
	return result, nil
}

// verify returns HEAD, or a verification failure when branches cannot be
// computed from the current worktree.
func (s *Service) verify(ctx context.Context, repo vcs.Repository) (string, error) {
	for _, marker := range []string{"MERGE_HEAD", "rebase-merge", "rebase-apply", "CHERRY_PICK_HEAD"} {
		if _, err := os.Stat(filepath.Join(repo.GitDir(), marker)); err == nil {
			return "", Mark(fmt.Errorf("%s in progress", marker), MarkerVerificationFailure)
		}
	}

	head, err := repo.Head(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read head: %w", err)
	}

	if head == IntegrationRef {
		return head, nil
	}

	_, err = repo.FindReference(ctx, IntegrationRef)
	switch {
	case err == nil:
		return "", Mark(fmt.Errorf("head is %s, expected %s", head, IntegrationRef), MarkerVerificationFailure)
	case errors.Is(err, vcs.ErrRefNotFound):
		return head, nil
	default:
		return "", fmt.Errorf("failed to look up integration branch: %w", err)
	}
}

func branchName(head string) string {
	switch {
	case head == IntegrationRef, head == "HEAD", head == "":
		return "virtual branch"
	default:
		return strings.TrimPrefix(head, "refs/heads/")
	}
}
