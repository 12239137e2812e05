package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore/fakestore"
)

// Package-internal test: getegid/unshareMountNS are not exported, so
// this exercises S6 (namespace refusal) as a white-box test rather
// than through the engine_test external package.

func TestLoadRefusesWithoutSuperuserEGID(t *testing.T) {
	restore := getegid
	defer func() { getegid = restore }()
	getegid = func() int { return 1000 }

	store := fakestore.New()
	e := New(store, "rlxos")

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, engineerr.KindPermissionDenied, engineerr.KindOf(err))
}

func TestLoadWrapsUnshareFailure(t *testing.T) {
	restoreGID := getegid
	restoreNS := unshareMountNS
	defer func() { getegid = restoreGID; unshareMountNS = restoreNS }()
	getegid = func() int { return 0 }
	unshareMountNS = func() error { return errors.New("operation not permitted") }

	store := fakestore.New()
	e := New(store, "rlxos")

	err := e.Load(context.Background())
	require.Error(t, err)
	assert.Equal(t, engineerr.KindFailedSetupNamespace, engineerr.KindOf(err))
}

func TestLoadSucceedsAsSuperuser(t *testing.T) {
	restoreGID := getegid
	restoreNS := unshareMountNS
	defer func() { getegid = restoreGID; unshareMountNS = restoreNS }()
	getegid = func() int { return 0 }
	unshareMountNS = func() error { return nil }

	store := fakestore.New()
	e := New(store, "rlxos")

	require.NoError(t, e.Load(context.Background()))
}
