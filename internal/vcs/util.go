package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single git invocation.
const DefaultTimeout = 30 * time.Second

// ExecEnv runs name in workDir and returns its stdout. env entries
// ("KEY=value") are appended to the process environment and stdin, when
// non-nil, is fed to the command. A non-zero exit returns an error that
// carries the trimmed stderr and unwraps to *exec.ExitError.
//
//	output, err := ExecEnv(ctx, DefaultTimeout, repoRoot, nil, nil, "git", "status", "--porcelain")
func ExecEnv(ctx context.Context, timeout time.Duration, workDir string, env []string, stdin []byte, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return stdout.Bytes(), fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), err
}

// SplitNUL splits -z style output into its records, dropping empty ones.
func SplitNUL(output []byte) []string {
	var records []string
	for _, record := range strings.Split(string(output), "\x00") {
		if record != "" {
			records = append(records, record)
		}
	}
	return records
}

// TrimOutput trims surrounding whitespace from command output.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// GetExitCode returns the exit code carried by err, 0 for a nil error, or -1
// if err did not come from a process exit.
func GetExitCode(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
