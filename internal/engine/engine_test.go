package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/engine"
	"github.com/rlxos/updated/internal/gate"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/objectstore/fakestore"
)

func newLoadedEngine(t *testing.T, store *fakestore.Store) *engine.Engine {
	t.Helper()
	e := engine.New(store, "rlxos")
	require.NoError(t, e.Load(context.Background()))
	return e
}

func bootedState(store *fakestore.Store, csum string) {
	store.Deployments = []objectstore.Deployment{{OSName: "rlxos", Serial: 1, Csum: csum, Booted: true}}
	store.Origins[csum] = objectstore.Origin{Refspec: "rlxos:x86_64/os/stable"}
}

func TestCheckNoUpdates(t *testing.T) {
	store := fakestore.New()
	bootedState(store, "AAAA")
	store.Remotes["rlxos"] = map[string]string{"x86_64/os/stable": "AAAA"}

	e := newLoadedEngine(t, store)
	changed, changelog, err := e.Check(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, changelog)
}

func TestApplyBaseOnlyUpdate(t *testing.T) {
	store := fakestore.New()
	bootedState(store, "AAAA")
	store.Remotes["rlxos"] = map[string]string{"x86_64/os/stable": "BBBB"}
	store.Commits["BBBB"] = fakestore.Commit{Subject: "hello"}

	e := newLoadedEngine(t, store)
	changed, err := e.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, changed)

	deps, err := store.Deployments(context.Background())
	require.NoError(t, err)
	require.Len(t, deps, 2)

	origin, err := store.ReadOrigin(context.Background(), deps[0])
	require.NoError(t, err)
	assert.Equal(t, "BBBB", deps[0].Csum)
	assert.Equal(t, "rlxos:x86_64/os/stable", origin.Refspec)
	assert.False(t, origin.Merged)
}

func TestApplyMergedUpdate(t *testing.T) {
	store := fakestore.New()
	store.Deployments = []objectstore.Deployment{{OSName: "rlxos", Serial: 1, Csum: "CCCC", Booted: true}}
	store.Origins["CCCC"] = objectstore.Origin{
		Refspec:     "rlxos:x86_64/os/local",
		Merged:      true,
		Channel:     "stable",
		CoreRefspec: "rlxos:x86_64/os/stable",
		Extensions:  []string{"devtools"},
	}
	store.Commits["CCCC"] = fakestore.Commit{Metadata: map[string]string{
		"rlxos.revision.core":     "AAAA",
		"rlxos.revision.devtools": "DDDD",
	}}
	store.Remotes["rlxos"] = map[string]string{
		"x86_64/os/stable":                 "BBBB",
		"x86_64/extension/devtools/stable": "DDDD",
	}
	store.Commits["BBBB"] = fakestore.Commit{Tree: map[string]string{"/usr/bin/base": "1"}}
	store.Commits["DDDD"] = fakestore.Commit{Tree: map[string]string{"/usr/bin/gdb": "1"}}

	e := newLoadedEngine(t, store)
	changed, err := e.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, changed)

	deps, err := store.Deployments(context.Background())
	require.NoError(t, err)
	require.Len(t, deps, 2)

	origin, err := store.ReadOrigin(context.Background(), deps[0])
	require.NoError(t, err)
	assert.True(t, origin.Merged)
	assert.Equal(t, "stable", origin.Channel)
	assert.Equal(t, "rlxos:x86_64/os/stable", origin.CoreRefspec)
	assert.Equal(t, []string{"devtools"}, origin.Extensions)
}

func TestResetClearsExtensionsOnApply(t *testing.T) {
	store := fakestore.New()
	store.Deployments = []objectstore.Deployment{{OSName: "rlxos", Serial: 1, Csum: "CCCC", Booted: true}}
	store.Origins["CCCC"] = objectstore.Origin{
		Merged:      true,
		Channel:     "stable",
		CoreRefspec: "rlxos:x86_64/os/stable",
		Extensions:  []string{"devtools"},
	}
	store.Commits["CCCC"] = fakestore.Commit{Metadata: map[string]string{
		"rlxos.revision.core":     "AAAA",
		"rlxos.revision.devtools": "DDDD",
	}}
	store.Remotes["rlxos"] = map[string]string{"x86_64/os/testing": "EEEE"}
	store.Commits["EEEE"] = fakestore.Commit{}

	e := newLoadedEngine(t, store)
	changed, err := e.Reset(context.Background(), "testing", nil)
	require.NoError(t, err)
	assert.True(t, changed)

	deps, err := store.Deployments(context.Background())
	require.NoError(t, err)
	origin, err := store.ReadOrigin(context.Background(), deps[0])
	require.NoError(t, err)
	assert.False(t, origin.Merged)
	assert.Equal(t, "rlxos:x86_64/os/testing", origin.Refspec)
}

func TestGateIsIdleAgainAfterApplyReturns(t *testing.T) {
	store := fakestore.New()
	bootedState(store, "AAAA")
	store.Remotes["rlxos"] = map[string]string{"x86_64/os/stable": "AAAA"}
	e := newLoadedEngine(t, store)

	_, err := e.Apply(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, gate.Idle, e.Status())

	// After Apply returns, the gate is Idle again: a subsequent call
	// must succeed rather than report EngineIsBusy.
	_, err = e.Apply(context.Background(), nil)
	require.NoError(t, err)
}
