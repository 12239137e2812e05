// Package engine is the façade C6/C7 describe: it owns the sysroot
// handle and the status gate, and exposes the operations every
// control-surface transport (D-Bus, CLI) ultimately calls.
package engine

import (
	"context"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/rlxos/updated/internal/deploy"
	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/gate"
	"github.com/rlxos/updated/internal/objectstore"
	"github.com/rlxos/updated/internal/pull"
	"github.com/rlxos/updated/internal/state"
)

// DeployInfo is the wire-shaped (refspec, revision) pair returned to
// callers in place of the internal state.RefState type.
type DeployInfo struct {
	Refspec  string
	Revision string
}

// States is the wire-shaped form of state.State returned by State/States.
type States struct {
	Core       DeployInfo
	Extensions []DeployInfo
	Merged     bool
}

// Engine owns one sysroot's worth of mutable state: the object store
// handle, the advisory sysroot lock it serializes through, the status
// gate, and whether the mount namespace has already been entered.
type Engine struct {
	store  objectstore.Store
	osname string
	gate   *gate.Gate

	nsOnce sync.Once
	nsErr  error
}

// New constructs an Engine bound to store for the given osname. Load
// must be called once before any other method.
func New(store objectstore.Store, osname string) *Engine {
	return &Engine{store: store, osname: osname, gate: gate.New()}
}

// Load initializes the sysroot handle, marks its mount namespace in
// use, and performs the one-time privileged setup (EGID check,
// unshare(CLONE_NEWNS)) per §4.6's initialization sequence. Callers
// (cmd/updated) must call Load and check its error before claiming
// the control-transport bus name (S6).
func (e *Engine) Load(ctx context.Context) error {
	if err := e.store.Load(ctx); err != nil {
		return err
	}
	e.store.SetMountNamespaceInUse()
	return e.enterNamespace()
}

// Status reports the current gate status without taking the sysroot
// lock.
func (e *Engine) Status() gate.Status {
	return e.gate.Status()
}

// OnStatusChange registers fn to be called synchronously with every
// gate transition, including the transient Checking/Deploying values
// for the duration of a mutating call, not just the value once it has
// returned. Used by the D-Bus transport to keep the exported "status"
// property (and its PropertiesChanged signal) live.
func (e *Engine) OnStatusChange(fn func(gate.Status)) {
	e.gate.OnChange(fn)
}

// getegid and unshareMountNS are indirected through package-level vars
// so tests can exercise the EGID-refusal and unshare-failure paths
// without actually needing (or losing) root privilege.
var (
	getegid        = unix.Getegid
	unshareMountNS = func() error { return unix.Unshare(unix.CLONE_NEWNS) }
)

// enterNamespace unshares the mount namespace exactly once for the
// process's lifetime, per §4.6/§6 "Namespaces".
func (e *Engine) enterNamespace() error {
	e.nsOnce.Do(func() {
		if getegid() != 0 {
			e.nsErr = engineerr.Newf(engineerr.KindPermissionDenied, "need superuser access")
			return
		}
		if err := unshareMountNS(); err != nil {
			e.nsErr = engineerr.Wrap(engineerr.KindFailedSetupNamespace, "unshare(CLONE_NEWNS)", err)
		}
	})
	return e.nsErr
}

// withLock enters the mount namespace, locks the sysroot, runs fn,
// then unlocks unconditionally — every exit path releases the lock.
func (e *Engine) withLock(ctx context.Context, fn func() error) error {
	if err := e.enterNamespace(); err != nil {
		return err
	}
	if err := e.store.TryLock(ctx); err != nil {
		return err
	}
	defer e.store.Unlock()
	return fn()
}

// State returns the State of the osname's current merge deployment.
func (e *Engine) State(ctx context.Context) (States, error) {
	dep, err := e.store.MergeDeployment(ctx, e.osname)
	if err != nil {
		return States{}, err
	}
	st, err := state.StateFor(ctx, e.store, dep)
	if err != nil {
		return States{}, err
	}
	return toWire(st), nil
}

// AllStates returns the State of every deployment in the sysroot.
func (e *Engine) AllStates(ctx context.Context) ([]States, error) {
	deps, err := e.store.Deployments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]States, 0, len(deps))
	for _, dep := range deps {
		st, err := state.StateFor(ctx, e.store, dep)
		if err != nil {
			return nil, err
		}
		out = append(out, toWire(st))
	}
	return out, nil
}

// Check pulls the current desired state with dry_run=true and reports
// whether anything changed, without staging a deployment.
func (e *Engine) Check(ctx context.Context, sink objectstore.ProgressSink) (changed bool, changelog string, err error) {
	reqID := uuid.NewString()
	e.store.LogJournal("check.start", map[string]string{"request_id": reqID})
	defer func() {
		e.store.LogJournal("check.end", map[string]string{"request_id": reqID, "changed": strconv.FormatBool(changed)})
	}()

	runErr := e.gate.Run(gate.Checking, func() error {
		return e.withLock(ctx, func() error {
			_, cur, derr := e.currentState(ctx)
			if derr != nil {
				return derr
			}
			res, perr := pull.Run(ctx, e.store, cur, true, sink)
			if perr != nil {
				return perr
			}
			changed, changelog = res.Changed, res.Changelog
			return nil
		})
	})
	if runErr != nil {
		return false, "", runErr
	}
	if cerr := e.store.Cleanup(ctx); cerr != nil {
		return changed, changelog, cerr
	}
	return changed, changelog, nil
}

// Apply pulls the current desired state for real and, if anything
// changed, stages a new deployment (C5).
func (e *Engine) Apply(ctx context.Context, sink objectstore.ProgressSink) (bool, error) {
	return e.pullAndMaybeDeploy(ctx, "apply", func(cur state.State) (state.State, error) { return cur, nil }, sink)
}

// Switch rewrites every refspec in the current state to channel and,
// if the resulting pull produces a change, stages a new deployment.
func (e *Engine) Switch(ctx context.Context, channel string, sink objectstore.ProgressSink) (bool, error) {
	return e.pullAndMaybeDeploy(ctx, "switch", func(cur state.State) (state.State, error) { return cur.Switch(channel) }, sink)
}

// Reset is Switch but also clears the extension set, per the stricter
// reading of the two source variants (see the design ledger).
func (e *Engine) Reset(ctx context.Context, channel string, sink objectstore.ProgressSink) (bool, error) {
	return e.pullAndMaybeDeploy(ctx, "reset", func(cur state.State) (state.State, error) { return cur.Reset(channel) }, sink)
}

// AddExtension appends ids to the current extension set and, if the
// resulting pull produces a change, stages a new deployment.
func (e *Engine) AddExtension(ctx context.Context, ids []string, sink objectstore.ProgressSink) (bool, error) {
	return e.pullAndMaybeDeploy(ctx, "add_extension", func(cur state.State) (state.State, error) { return cur.AddExtensions(ids) }, sink)
}

// List fetches the ref names advertised by remote (or the store's
// default remote when remote is empty).
func (e *Engine) List(ctx context.Context, remote string) ([]string, error) {
	if remote == "" {
		remotes, err := e.store.RemoteList(ctx)
		if err != nil {
			return nil, err
		}
		if len(remotes) == 0 {
			return nil, engineerr.New(engineerr.KindNoRemoteFound)
		}
		remote = remotes[0]
	}
	return e.store.RemoteFetchSummary(ctx, remote)
}

// pullAndMaybeDeploy is the shared body of apply/switch/reset/add_extension:
// lock, derive the current state, transform it via derive, pull, and
// if anything changed, run the deployment writer.
func (e *Engine) pullAndMaybeDeploy(ctx context.Context, op string, derive func(state.State) (state.State, error), sink objectstore.ProgressSink) (bool, error) {
	reqID := uuid.NewString()
	e.store.LogJournal(op+".start", map[string]string{"request_id": reqID})
	var changed bool
	defer func() {
		e.store.LogJournal(op+".end", map[string]string{"request_id": reqID, "changed": strconv.FormatBool(changed)})
	}()

	runErr := e.gate.Run(gate.Deploying, func() error {
		return e.withLock(ctx, func() error {
			previous, cur, err := e.currentState(ctx)
			if err != nil {
				return err
			}
			desired, err := derive(cur)
			if err != nil {
				return err
			}
			res, err := pull.Run(ctx, e.store, desired, false, sink)
			if err != nil {
				return err
			}
			changed = res.Changed
			if !res.Changed {
				return nil
			}
			_, err = deploy.Write(ctx, e.store, e.osname, res.Resolved, previous)
			return err
		})
	})
	if runErr != nil {
		return false, runErr
	}
	if err := e.store.Cleanup(ctx); err != nil {
		return changed, err
	}
	return changed, nil
}

// currentState resolves the osname's merge deployment and its State
// in one step, returning the deployment too (needed as the deploy
// writer's "previous" baseline).
func (e *Engine) currentState(ctx context.Context) (objectstore.Deployment, state.State, error) {
	dep, err := e.store.MergeDeployment(ctx, e.osname)
	if err != nil {
		return objectstore.Deployment{}, state.State{}, err
	}
	st, err := state.StateFor(ctx, e.store, dep)
	if err != nil {
		return objectstore.Deployment{}, state.State{}, err
	}
	return dep, st, nil
}

func toWire(st state.State) States {
	exts := make([]DeployInfo, len(st.Extensions))
	for i, e := range st.Extensions {
		exts[i] = DeployInfo{Refspec: e.Refspec, Revision: e.Revision}
	}
	return States{
		Core:       DeployInfo{Refspec: st.Core.Refspec, Revision: st.Core.Revision},
		Extensions: exts,
		Merged:     st.Merged,
	}
}
