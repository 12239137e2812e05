package deploy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/deploy"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/objectstore/fakestore"
	"github.com/rlxos/updated/internal/state"
)

func TestWritePlainStateCarriesNoMergeGroup(t *testing.T) {
	store := fakestore.New()
	store.Commits["BBBB"] = fakestore.Commit{}

	st := state.State{Core: state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "BBBB"}}
	dep, err := deploy.Write(context.Background(), store, "rlxos", st, objectstore.Deployment{})
	require.NoError(t, err)
	assert.Equal(t, "BBBB", dep.Csum)

	origin, err := store.ReadOrigin(context.Background(), dep)
	require.NoError(t, err)
	assert.False(t, origin.Merged)
	assert.False(t, origin.HasMergeGroup())
	assert.Equal(t, "rlxos:x86_64/os/stable", origin.Refspec)
}

func TestWriteMergedStateSynthesizesCommit(t *testing.T) {
	store := fakestore.New()
	store.Commits["BBBB"] = fakestore.Commit{Tree: map[string]string{"/usr/bin/base": "1"}}
	store.Commits["DDDD"] = fakestore.Commit{Tree: map[string]string{"/usr/bin/gdb": "1"}}

	st := state.State{
		Core:       state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "BBBB"},
		Extensions: []state.RefState{{Refspec: "rlxos:x86_64/extension/devtools/stable", Revision: "DDDD"}},
		Merged:     true,
	}
	dep, err := deploy.Write(context.Background(), store, "rlxos", st, objectstore.Deployment{})
	require.NoError(t, err)
	assert.NotEqual(t, "BBBB", dep.Csum)

	origin, err := store.ReadOrigin(context.Background(), dep)
	require.NoError(t, err)
	assert.True(t, origin.Merged)
	assert.Equal(t, "stable", origin.Channel)
	assert.Equal(t, "rlxos:x86_64/os/stable", origin.CoreRefspec)
	assert.Equal(t, []string{"devtools"}, origin.Extensions)
}

func TestWriteStagesAlongsidePreviousThenCleansUp(t *testing.T) {
	store := fakestore.New()
	store.Commits["AAAA"] = fakestore.Commit{}
	store.Commits["BBBB"] = fakestore.Commit{}
	previous := objectstore.Deployment{OSName: "rlxos", Serial: 1, Csum: "AAAA", Booted: true}
	store.Deployments = []objectstore.Deployment{previous}

	st := state.State{Core: state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "BBBB"}}
	_, err := deploy.Write(context.Background(), store, "rlxos", st, previous)
	require.NoError(t, err)

	deps, err := store.Deployments(context.Background())
	require.NoError(t, err)
	require.Len(t, deps, 2)
	assert.True(t, deps[0].Booted)
	assert.False(t, deps[1].Booted)
}
