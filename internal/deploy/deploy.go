// Package deploy stages a new deployment for a resolved state,
// synthesizing a merge commit first when the state calls for one.
package deploy

import (
	"context"

	"github.com/rlxos/updated/internal/merge"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/refspec"
	"github.com/rlxos/updated/internal/state"
)

// Write realizes st as a staged deployment for osname: synthesizing a
// merge commit when st is merged and carries extensions (§4.5), else
// deploying the core revision directly so no deployment ever carries
// a stray rlxos.merged=true (P8). previous is the baseline the
// sysroot tool diffs kernel arguments against.
func Write(ctx context.Context, store objectstore.Store, osname string, st state.State, previous objectstore.Deployment) (objectstore.Deployment, error) {
	var synthRev string
	var origin objectstore.Origin

	if st.Merged && st.HasExtensions() {
		checksum, err := merge.Write(ctx, store, st)
		if err != nil {
			return objectstore.Deployment{}, err
		}
		synthRev = checksum

		core, err := refspec.Parse(st.Core.Refspec)
		if err != nil {
			return objectstore.Deployment{}, err
		}
		local := refspec.Refspec{Arch: core.Arch, Kind: refspec.KindOS, Channel: "local"}
		origin = store.NewOriginFromRefspec(local.Format())
		origin.Merged = true
		origin.Channel = core.Channel
		origin.CoreRefspec = st.Core.Refspec
		origin.Extensions = extensionIDs(st.Extensions)
	} else {
		synthRev = st.Core.Revision
		origin = store.NewOriginFromRefspec(st.Core.Refspec)
	}

	newDep, err := store.DeployTree(ctx, osname, synthRev, origin, previous)
	if err != nil {
		return objectstore.Deployment{}, err
	}

	if err := store.SimpleWriteDeployment(ctx, osname, newDep, previous, true); err != nil {
		return objectstore.Deployment{}, err
	}

	if err := store.Cleanup(ctx); err != nil {
		return objectstore.Deployment{}, err
	}

	return newDep, nil
}

func extensionIDs(extensions []state.RefState) []string {
	ids := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		if parsed, err := refspec.Parse(ext.Refspec); err == nil {
			ids = append(ids, parsed.ID)
		}
	}
	return ids
}
