// Package pull drives the object store's remote pull for a desired
// state and computes the resulting changelog and resolved state. It
// is the only component that talks to the object store's pull
// operation directly.
package pull

import (
	"context"
	"fmt"
	"strings"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/refspec"
	"github.com/rlxos/updated/internal/state"
)

// Result is the outcome of a planning pass: whether anything changed,
// the concatenated changelog, and the state with resolved revisions.
type Result struct {
	Changed   bool
	Changelog string
	Resolved  state.State
}

// Run derives the remote to pull from desired.Core.Refspec (falling
// back to the store's first configured remote), fetches every ref in
// desired, and diffs old against new revisions to build Result. An
// extension that desired names but that remains unresolved after the
// pull is a fatal error — pull never silently drops an extension or
// falls back to base-only (§4.3.6).
func Run(ctx context.Context, store objectstore.Store, desired state.State, dryRun bool, sink objectstore.ProgressSink) (Result, error) {
	remote, err := resolveRemote(ctx, store, desired.Core.Refspec)
	if err != nil {
		return Result{}, err
	}

	bareRefs := make([]string, 0, 1+len(desired.Extensions))
	bareRefs = append(bareRefs, bareOf(desired.Core.Refspec))
	for _, ext := range desired.Extensions {
		bareRefs = append(bareRefs, bareOf(ext.Refspec))
	}

	flags := objectstore.PullFlagsNone
	if dryRun {
		flags = objectstore.PullFlagsCommitOnly
	}
	if err := store.PullWithOptions(ctx, remote, flags, bareRefs, sink); err != nil {
		return Result{}, err
	}
	if sink != nil {
		sink.Update(1.0, "done")
	}

	var changelog strings.Builder
	changed := false

	newCore, coreChanged, coreLog, err := resolveOne(ctx, store, desired.Core)
	if err != nil {
		return Result{}, err
	}
	changed = changed || coreChanged
	changelog.WriteString(coreLog)

	newExts := make([]state.RefState, len(desired.Extensions))
	for i, ext := range desired.Extensions {
		nr, extChanged, extLog, err := resolveOne(ctx, store, ext)
		if err != nil {
			return Result{}, err
		}
		changed = changed || extChanged
		changelog.WriteString(extLog)
		newExts[i] = nr
	}

	resolved := state.State{
		Core:       newCore,
		Extensions: newExts,
		Merged:     desired.Merged,
	}

	return Result{Changed: changed, Changelog: changelog.String(), Resolved: resolved}, nil
}

// resolveOne resolves ref's bare refspec to its current revision,
// reports whether it differs from ref.Revision, and renders its
// changelog entry. A ref that fails to resolve is fatal.
func resolveOne(ctx context.Context, store objectstore.Store, ref state.RefState) (state.RefState, bool, string, error) {
	bare := bareOf(ref.Refspec)
	rev, err := store.ResolveRev(ctx, bare, false)
	if err != nil || rev == "" {
		return state.RefState{}, false, "", engineerr.Wrap(engineerr.KindNoRevisionForRefSpec, ref.Refspec, err)
	}

	entry := changelogEntry(ctx, store, ref.Refspec, ref.Revision, rev)
	return state.RefState{Refspec: ref.Refspec, Revision: rev}, rev != ref.Revision, entry, nil
}

func changelogEntry(ctx context.Context, store objectstore.Store, refspecStr, oldRev, newRev string) string {
	if oldRev == newRev {
		return ""
	}
	subject, body := "", ""
	if commit, err := store.LoadCommit(ctx, newRev); err == nil {
		subject, body = commit.Subject, commit.Body
	}
	return fmt.Sprintf("%s: %s\n%s\nrev: %s -> %s\n", refspecStr, subject, body, oldRev, newRev)
}

// resolveRemote returns the core refspec's own remote if it has one,
// else the first remote the store knows about.
func resolveRemote(ctx context.Context, store objectstore.Store, coreRefspec string) (string, error) {
	if coreRefspec != "" {
		if parsed, err := refspec.Parse(coreRefspec); err == nil && parsed.Remote != "" {
			return parsed.Remote, nil
		}
	}
	remotes, err := store.RemoteList(ctx)
	if err != nil {
		return "", err
	}
	if len(remotes) == 0 {
		return "", engineerr.New(engineerr.KindNoRemoteFound)
	}
	return remotes[0], nil
}

func bareOf(refspecStr string) string {
	parsed, err := refspec.Parse(refspecStr)
	if err != nil {
		return refspecStr
	}
	return parsed.Bare()
}
