package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/gate"
)

func TestSecondMutatingCallRejectedWhileFirstInFlight(t *testing.T) {
	g := gate.New()
	require.NoError(t, g.Enter(gate.Deploying))

	err := g.Enter(gate.Checking)
	require.Error(t, err)
	assert.Equal(t, engineerr.KindEngineIsBusy, engineerr.KindOf(err))
	assert.Equal(t, gate.Deploying, g.Status())

	g.Exit()
	assert.Equal(t, gate.Idle, g.Status())
}

func TestRunResetsToIdleOnError(t *testing.T) {
	g := gate.New()
	err := g.Run(gate.Checking, func() error {
		return engineerr.New(engineerr.KindObjectStore)
	})
	require.Error(t, err)
	assert.Equal(t, gate.Idle, g.Status())
}

func TestRunResetsToIdleOnSuccess(t *testing.T) {
	g := gate.New()
	err := g.Run(gate.Deploying, func() error { return nil })
	require.NoError(t, err)
	assert.Equal(t, gate.Idle, g.Status())
}

func TestStatusStringer(t *testing.T) {
	assert.Equal(t, "idle", gate.Idle.String())
	assert.Equal(t, "checking", gate.Checking.String())
	assert.Equal(t, "deploying", gate.Deploying.String())
}

func TestOnChangeObservesTransientStatus(t *testing.T) {
	g := gate.New()
	var seen []gate.Status
	g.OnChange(func(st gate.Status) { seen = append(seen, st) })

	err := g.Run(gate.Checking, func() error {
		assert.Equal(t, []gate.Status{gate.Checking}, seen)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []gate.Status{gate.Checking, gate.Idle}, seen)
}
