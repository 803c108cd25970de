package vbranch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitbutler/butlerd/internal/projects"
	"github.com/gitbutler/butlerd/internal/vcs"
	"github.com/gitbutler/butlerd/internal/vcs/git"
)

func TestHasMarker(t *testing.T) {
	base := errors.New("boom")
	marked := Mark(base, MarkerVerificationFailure)
	wrapped := fmt.Errorf("failed to list virtual branches: %w", marked)

	assert.True(t, HasMarker(marked, MarkerVerificationFailure))
	assert.True(t, HasMarker(wrapped, MarkerVerificationFailure))
	assert.False(t, HasMarker(wrapped, MarkerProjectConflict))
	assert.False(t, HasMarker(base, MarkerVerificationFailure))
	assert.False(t, HasMarker(nil, MarkerVerificationFailure))
	assert.ErrorIs(t, wrapped, base)

	nested := Mark(Mark(base, MarkerVerificationFailure), MarkerProjectConflict)
	assert.True(t, HasMarker(nested, MarkerVerificationFailure))
	assert.True(t, HasMarker(nested, MarkerProjectConflict))
}

func TestMarkedError_Message(t *testing.T) {
	err := Mark(errors.New("mid-rebase"), MarkerVerificationFailure)
	assert.Equal(t, "verification failure: mid-rebase", err.Error())
}

func setupRepo(t *testing.T) (*projects.Project, func(args ...string)) {
	t.Helper()

	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if output, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v failed: %v\n%s", args, err, output)
		}
	}

	run("init", "-b", "main")
	run("config", "user.name", "Test User")
	run("config", "user.email", "test@example.com")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.txt"), []byte("test"), 0644))
	run("add", "test.txt")
	run("commit", "-m", "initial")

	return &projects.Project{ID: "p1", Path: dir}, run
}

func TestService_GroupsChangesIntoOneBranch(t *testing.T) {
	project, _ := setupRepo(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(project.Path, "test.txt"), []byte("test2"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project.Path, "new.txt"), []byte("new"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(project.Path, "big.bin"), []byte(strings.Repeat("x", 64)), 0644))

	service := NewService(git.Opener)
	service.maxFileSize = 32

	result, err := service.ListVirtualBranches(ctx, project)
	require.NoError(t, err)
	require.Len(t, result.Branches, 1)

	branch := result.Branches[0]
	assert.Equal(t, "main", branch.Name)
	assert.True(t, branch.Applied)
	assert.Len(t, branch.Base, 40)
	assert.Equal(t, []File{
		{Path: "new.txt", Status: vcs.StatusUntracked, Size: 3},
		{Path: "test.txt", Status: vcs.StatusModified, Size: 5},
	}, branch.Files)
	assert.Equal(t, []string{"big.bin"}, result.SkippedFiles)

	again, err := service.ListVirtualBranches(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, branch.ID, again.Branches[0].ID, "branch IDs are stable")
}

func TestService_VerificationFailureOffIntegrationBranch(t *testing.T) {
	project, run := setupRepo(t)
	run("branch", "gitbutler/integration")

	_, err := NewService(git.Opener).ListVirtualBranches(context.Background(), project)
	require.Error(t, err)
	assert.True(t, HasMarker(err, MarkerVerificationFailure))

	run("checkout", "gitbutler/integration")

	result, err := NewService(git.Opener).ListVirtualBranches(context.Background(), project)
	require.NoError(t, err)
	assert.Equal(t, "virtual branch", result.Branches[0].Name)
}

func TestService_VerificationFailureMidMerge(t *testing.T) {
	project, _ := setupRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(project.Path, ".git", "MERGE_HEAD"), []byte("x\n"), 0644))

	_, err := NewService(git.Opener).ListVirtualBranches(context.Background(), project)
	assert.True(t, HasMarker(err, MarkerVerificationFailure))
}

func TestService_OpenFailure(t *testing.T) {
	open := func(string) (vcs.Repository, error) { return nil, vcs.ErrNotInVCS }

	_, err := NewService(open).ListVirtualBranches(context.Background(), &projects.Project{ID: "p", Path: "/nowhere"})
	assert.ErrorIs(t, err, vcs.ErrNotInVCS)
	assert.False(t, HasMarker(err, MarkerVerificationFailure))
}
