package merge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/merge"
	"github.com/rlxos/updated/internal/objectstore/fakestore"
	"github.com/rlxos/updated/internal/state"
)

func seedCommit(store *fakestore.Store, checksum string, tree map[string]string) {
	store.Commits[checksum] = fakestore.Commit{Tree: tree}
}

func mergedState() state.State {
	return state.State{
		Core:       state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "BBBB"},
		Extensions: []state.RefState{{Refspec: "rlxos:x86_64/extension/devtools/stable", Revision: "DDDD"}},
		Merged:     true,
	}
}

func TestWriteProducesCommitWithMetadata(t *testing.T) {
	store := fakestore.New()
	seedCommit(store, "BBBB", map[string]string{"/usr/bin/base": "1"})
	seedCommit(store, "DDDD", map[string]string{"/usr/bin/gdb": "1"})

	checksum, err := merge.Write(context.Background(), store, mergedState())
	require.NoError(t, err)
	require.NotEmpty(t, checksum)

	commit := store.Commits[checksum]
	assert.Equal(t, "BBBB", commit.Metadata["rlxos.revision.core"])
	assert.Equal(t, "DDDD", commit.Metadata["rlxos.revision.devtools"])
	assert.Equal(t, checksum, store.LocalRefs["x86_64/os/local"])
}

func TestWriteIsDeterministic(t *testing.T) {
	store := fakestore.New()
	seedCommit(store, "BBBB", map[string]string{"/usr/bin/base": "1"})
	seedCommit(store, "DDDD", map[string]string{"/usr/bin/gdb": "1"})

	first, err := merge.Write(context.Background(), store, mergedState())
	require.NoError(t, err)

	store2 := fakestore.New()
	seedCommit(store2, "BBBB", map[string]string{"/usr/bin/base": "1"})
	seedCommit(store2, "DDDD", map[string]string{"/usr/bin/gdb": "1"})
	second, err := merge.Write(context.Background(), store2, mergedState())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestWriteRejectsMissingExtensionRevision(t *testing.T) {
	store := fakestore.New()
	seedCommit(store, "BBBB", nil)
	st := mergedState()
	st.Extensions[0].Revision = ""

	_, err := merge.Write(context.Background(), store, st)
	require.Error(t, err)
}

func TestWriteFailureLeavesLocalRefUntouched(t *testing.T) {
	store := fakestore.New()
	seedCommit(store, "BBBB", map[string]string{"/usr/bin/base": "1"})
	// DDDD intentionally not seeded: Overlay will fail against it.
	_, err := merge.Write(context.Background(), store, mergedState())
	require.Error(t, err)
	_, exists := store.LocalRefs["x86_64/os/local"]
	assert.False(t, exists)
}
