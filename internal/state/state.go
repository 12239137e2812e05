// Package state derives and manipulates the engine's logical view of
// a deployment: which core and extension refs it wants, and whether
// it is a synthesized merge. States are never persisted — they are
// recomputed from the object store on every call, the same way
// rpmostree-client-go never caches a GetStatus result across calls.
package state

import (
	"context"
	"fmt"
	"strings"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/refspec"
)

const defaultChannel = "stable"

// RefState is a (refspec, revision) pair. An empty Revision means
// "unresolved" and forbids use in a merge write.
type RefState struct {
	Refspec  string
	Revision string
}

// State is the full intent for a deployment: a core ref, an ordered
// sequence of extension refs (order matters — later overlays win on
// path conflict), whether it is merged, and the realized revision.
type State struct {
	Core       RefState
	Extensions []RefState
	Merged     bool
	Revision   string
}

// StateFor derives State from dep's origin keyfile and, for merged
// deployments, the realized commit's metadata dictionary. It performs
// no mutation and is safe to call repeatedly against an unchanged
// deployment (P3).
func StateFor(ctx context.Context, store objectstore.Store, dep objectstore.Deployment) (State, error) {
	origin, err := store.ReadOrigin(ctx, dep)
	if err != nil {
		return State{}, err
	}

	if !origin.Merged {
		return State{
			Core:     RefState{Refspec: origin.Refspec, Revision: dep.Csum},
			Revision: dep.Csum,
		}, nil
	}

	base, err := refspec.Parse(origin.CoreRefspec)
	if err != nil {
		return State{}, engineerr.Wrap(engineerr.KindObjectStore, "parse merged origin core refspec", err)
	}

	channel := origin.Channel
	if channel == "" {
		channel = defaultChannel
	}
	core := refspec.Refspec{Remote: base.Remote, Arch: base.Arch, Kind: refspec.KindOS, Channel: channel}

	commit, err := store.LoadCommit(ctx, dep.Csum)
	if err != nil {
		return State{}, err
	}
	coreRev := commit.Metadata["rlxos.revision.core"]
	if coreRev == "" {
		return State{}, engineerr.New(engineerr.KindMissingBaseChecksum)
	}

	var extensions []RefState
	for _, raw := range origin.Extensions {
		if raw == "" {
			continue
		}
		id := raw
		refStr := raw
		if strings.Contains(raw, "/extension/") {
			if parsed, perr := refspec.Parse(raw); perr == nil {
				id = parsed.ID
			}
		} else {
			refStr = fmt.Sprintf("%s:%s/extension/%s/%s", base.Remote, base.Arch, raw, channel)
		}
		rev := commit.Metadata["rlxos.revision."+id]
		if rev == "" {
			return State{}, engineerr.Newf(engineerr.KindMissingExtensionChecksum, id)
		}
		extensions = append(extensions, RefState{Refspec: refStr, Revision: rev})
	}

	return State{
		Core:       RefState{Refspec: core.Format(), Revision: coreRev},
		Extensions: extensions,
		Merged:     true,
		Revision:   dep.Csum,
	}, nil
}

// Switch rewrites the channel segment of every refspec in s (core and
// every extension), clearing revisions so the caller must re-pull
// before the state is usable in a merge write. Non-channel segments
// are left untouched (P2 applied per-ref).
func (s State) Switch(channel string) (State, error) {
	newCore, err := rewriteChannel(s.Core.Refspec, channel)
	if err != nil {
		return State{}, err
	}
	var newExts []RefState
	for _, e := range s.Extensions {
		nr, err := rewriteChannel(e.Refspec, channel)
		if err != nil {
			return State{}, err
		}
		newExts = append(newExts, RefState{Refspec: nr})
	}
	return State{
		Core:       RefState{Refspec: newCore},
		Extensions: newExts,
		Merged:     s.Merged,
	}, nil
}

// rewriteChannel replaces only the channel segment of refspecStr.
func rewriteChannel(refspecStr, channel string) (string, error) {
	parsed, err := refspec.Parse(refspecStr)
	if err != nil {
		return "", err
	}
	return parsed.WithChannel(channel).Format(), nil
}

// Reset is Switch followed by clearing the extension set entirely —
// the stricter of the two reset semantics described by the source
// material (see the design ledger for why this reading was chosen).
func (s State) Reset(channel string) (State, error) {
	sw, err := s.Switch(channel)
	if err != nil {
		return State{}, err
	}
	sw.Extensions = nil
	sw.Merged = false
	return sw, nil
}

// AddExtensions returns a new State with ids appended to the existing
// extension sequence (skipping ids already present), each built on the
// channel and arch of s.Core. Revisions are left unresolved; the
// caller must pull before the result is usable in a merge write.
func (s State) AddExtensions(ids []string) (State, error) {
	core, err := refspec.Parse(s.Core.Refspec)
	if err != nil {
		return State{}, err
	}

	present := map[string]bool{}
	for _, e := range s.Extensions {
		if p, perr := refspec.Parse(e.Refspec); perr == nil {
			present[p.ID] = true
		}
	}

	next := s
	next.Extensions = append([]RefState{}, s.Extensions...)
	for _, id := range ids {
		if present[id] {
			continue
		}
		rs := refspec.Refspec{Remote: core.Remote, Arch: core.Arch, Kind: refspec.KindExtension, ID: id, Channel: core.Channel}
		next.Extensions = append(next.Extensions, RefState{Refspec: rs.Format()})
		present[id] = true
	}
	if len(next.Extensions) > 0 {
		next.Merged = true
	}
	return next, nil
}

// HasExtensions reports whether s carries any extension intent, the
// condition that decides between a merge write and a plain deploy
// (P8).
func (s State) HasExtensions() bool {
	return len(s.Extensions) > 0
}
