package cmdrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCmdSyncSucceeds(t *testing.T) {
	require.NoError(t, RunCmdSync("true"))
}

func TestRunCmdSyncReportsFailure(t *testing.T) {
	err := RunCmdSync("false")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "false")
}

func TestOutputCapturesStdout(t *testing.T) {
	out, err := Output(context.Background(), "echo", "-n", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestOutputWrapsStderrOnFailure(t *testing.T) {
	_, err := Output(context.Background(), "sh", "-c", "echo boom >&2; exit 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestRunDiscardsStdout(t *testing.T) {
	require.NoError(t, Run(context.Background(), "echo", "quiet"))
}
