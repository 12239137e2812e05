// Package merge synthesizes a local merge commit from a resolved base
// and its extension overlays, entirely inside one object-store
// transaction.
package merge

import (
	"context"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/refspec"
	"github.com/rlxos/updated/internal/state"
)

// localID is the channel-position segment of the synthesized local
// ref "<arch>/os/local" (§6, "Persisted state layout").
const localID = "local"

// Write builds the merge commit for st (which must be Merged, with a
// non-empty extension sequence and every revision resolved) and
// returns its checksum. On any failure the transaction is aborted and
// the error is surfaced unchanged — neither the local refspec nor any
// deployment is left modified (P7).
func Write(ctx context.Context, store objectstore.Store, st state.State) (string, error) {
	if !st.Merged || !st.HasExtensions() {
		return "", engineerr.Newf(engineerr.KindObjectStore, "merge write requires a merged state with extensions")
	}
	if st.Core.Revision == "" {
		return "", engineerr.New(engineerr.KindMissingBaseChecksum)
	}
	for _, ext := range st.Extensions {
		if ext.Revision == "" {
			id, err := extensionID(ext.Refspec)
			if err != nil {
				return "", err
			}
			return "", engineerr.Newf(engineerr.KindMissingExtensionChecksum, id)
		}
	}

	core, err := refspec.Parse(st.Core.Refspec)
	if err != nil {
		return "", err
	}

	tx, err := store.PrepareTransaction(ctx)
	if err != nil {
		return "", err
	}

	checksum, err := write(ctx, tx, core.Arch, st)
	if err != nil {
		_ = tx.Abort(ctx)
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return checksum, nil
}

func write(ctx context.Context, tx objectstore.Transaction, arch string, st state.State) (string, error) {
	tree, err := tx.InitMutableTree(ctx, st.Core.Revision)
	if err != nil {
		return "", err
	}

	metadata := map[string]string{"rlxos.revision.core": st.Core.Revision}
	for _, ext := range st.Extensions {
		if err := tx.Overlay(ctx, tree, ext.Revision); err != nil {
			return "", err
		}
		id, err := extensionID(ext.Refspec)
		if err != nil {
			return "", err
		}
		metadata["rlxos.revision."+id] = ext.Revision
	}

	root, err := tx.WriteTree(ctx, tree)
	if err != nil {
		return "", err
	}

	checksum, err := tx.WriteCommit(ctx, root, metadata)
	if err != nil {
		return "", err
	}

	localRefspec := refspec.Refspec{Arch: arch, Kind: refspec.KindOS, Channel: localID}.Format()
	if err := tx.SetRef(ctx, localRefspec, checksum); err != nil {
		return "", err
	}
	return checksum, nil
}

func extensionID(refspecStr string) (string, error) {
	parsed, err := refspec.Parse(refspecStr)
	if err != nil {
		return "", err
	}
	return parsed.ID, nil
}
