package pull_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore/fakestore"
	"github.com/rlxos/updated/internal/pull"
	"github.com/rlxos/updated/internal/state"
)

func seedRemote(store *fakestore.Store, remote string, refs map[string]string) {
	store.Remotes[remote] = refs
}

func TestRunNoUpdates(t *testing.T) {
	store := fakestore.New()
	seedRemote(store, "rlxos", map[string]string{"x86_64/os/stable": "AAAA"})
	store.LocalRefs["x86_64/os/stable"] = "AAAA"

	desired := state.State{Core: state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "AAAA"}}

	res, err := pull.Run(context.Background(), store, desired, true, nil)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Empty(t, res.Changelog)
	assert.Equal(t, "AAAA", res.Resolved.Core.Revision)
}

func TestRunBaseUpdate(t *testing.T) {
	store := fakestore.New()
	seedRemote(store, "rlxos", map[string]string{"x86_64/os/stable": "BBBB"})
	store.Commits["BBBB"] = fakestore.Commit{Subject: "hello"}

	desired := state.State{Core: state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: "AAAA"}}

	res, err := pull.Run(context.Background(), store, desired, false, nil)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Contains(t, res.Changelog, "rlxos:x86_64/os/stable: hello")
	assert.Contains(t, res.Changelog, "rev: AAAA -> BBBB")
	assert.Equal(t, "BBBB", res.Resolved.Core.Revision)
}

func TestRunPullTwiceIsMonotone(t *testing.T) {
	store := fakestore.New()
	seedRemote(store, "rlxos", map[string]string{"x86_64/os/stable": "AAAA"})

	desired := state.State{Core: state.RefState{Refspec: "rlxos:x86_64/os/stable", Revision: ""}}
	first, err := pull.Run(context.Background(), store, desired, true, nil)
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := pull.Run(context.Background(), store, first.Resolved, true, nil)
	require.NoError(t, err)
	assert.False(t, second.Changed)
	assert.Equal(t, first.Resolved, second.Resolved)
}

func TestRunUnresolvableExtensionIsFatal(t *testing.T) {
	store := fakestore.New()
	seedRemote(store, "rlxos", map[string]string{"x86_64/os/stable": "AAAA"})

	desired := state.State{
		Core:       state.RefState{Refspec: "rlxos:x86_64/os/stable"},
		Extensions: []state.RefState{{Refspec: "rlxos:x86_64/extension/devtools/stable"}},
		Merged:     true,
	}
	_, err := pull.Run(context.Background(), store, desired, false, nil)
	require.Error(t, err)
	assert.Equal(t, engineerr.KindNoRevisionForRefSpec, engineerr.KindOf(err))
}

func TestRunNoRemoteFound(t *testing.T) {
	store := fakestore.New()
	desired := state.State{Core: state.RefState{Refspec: "x86_64/os/stable"}}
	_, err := pull.Run(context.Background(), store, desired, false, nil)
	require.Error(t, err)
	assert.Equal(t, engineerr.KindNoRemoteFound, engineerr.KindOf(err))
}
