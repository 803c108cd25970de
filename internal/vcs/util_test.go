package vcs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitNUL(t *testing.T) {
	assert.Empty(t, SplitNUL(nil))
	assert.Equal(t, []string{"a b", "c"}, SplitNUL([]byte("a b\x00c\x00\x00")))
}

func TestExecEnv(t *testing.T) {
	output, err := ExecEnv(context.Background(), 5*time.Second, t.TempDir(), nil, nil, "sh", "-c", "echo hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", TrimOutput(output))
}

func TestExecEnvPassesEnvironmentAndStdin(t *testing.T) {
	output, err := ExecEnv(context.Background(), 5*time.Second, t.TempDir(),
		[]string{"BUTLERD_TEST_VALUE=42"}, []byte("from-stdin"),
		"sh", "-c", `printf "%s " "$BUTLERD_TEST_VALUE"; cat`)
	require.NoError(t, err)
	assert.Equal(t, "42 from-stdin", TrimOutput(output))
}

func TestExecEnvTimeout(t *testing.T) {
	_, err := ExecEnv(context.Background(), 50*time.Millisecond, t.TempDir(), nil, nil, "sleep", "5")
	assert.Error(t, err)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, 0, GetExitCode(nil))
	assert.Equal(t, -1, GetExitCode(errors.New("plain")))

	_, err := ExecEnv(context.Background(), 5*time.Second, t.TempDir(), nil, nil, "sh", "-c", "echo oops >&2; exit 3")
	require.Error(t, err)
	assert.Equal(t, 3, GetExitCode(err))
	assert.Contains(t, err.Error(), "oops")
}
