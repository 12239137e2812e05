// Package gate implements the engine's status machine: a single
// mutual-exclusion gate plus a status field of Idle/Checking/
// Deploying, serializing every mutating engine operation (§4.7).
package gate

import (
	"sync"

	"github.com/rlxos/updated/internal/engineerr"
)

// Status is one of the three states the engine can be observed in.
type Status uint8

const (
	Idle Status = iota
	Checking
	Deploying
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Checking:
		return "checking"
	case Deploying:
		return "deploying"
	default:
		return "unknown"
	}
}

// Gate admits at most one mutating operation at a time. Read-only
// operations never go through Enter/Exit; they only call Status.
type Gate struct {
	mu       sync.Mutex
	status   Status
	onChange func(Status)
}

// New returns a Gate starting Idle.
func New() *Gate {
	return &Gate{}
}

// Status reports the current status. Safe to call from any status,
// including while a mutating operation is in flight.
func (g *Gate) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// OnChange registers fn to be invoked synchronously with every status
// transition (both the Idle->{Checking,Deploying} entry and the
// return to Idle on exit), so a caller mirroring status onto a
// property or signal observes the transient states, not just the
// value after the whole operation has already finished.
func (g *Gate) OnChange(fn func(Status)) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

func (g *Gate) notify(st Status) {
	g.mu.Lock()
	fn := g.onChange
	g.mu.Unlock()
	if fn != nil {
		fn(st)
	}
}

// Enter atomically observes Idle and transitions to next, or returns
// EngineIsBusy without touching status. Pair every successful Enter
// with a deferred Exit.
func (g *Gate) Enter(next Status) error {
	g.mu.Lock()
	if g.status != Idle {
		g.mu.Unlock()
		return engineerr.New(engineerr.KindEngineIsBusy)
	}
	g.status = next
	g.mu.Unlock()
	g.notify(next)
	return nil
}

// Exit returns the gate to Idle. Called on every exit path of a
// mutating operation, success or failure.
func (g *Gate) Exit() {
	g.mu.Lock()
	g.status = Idle
	g.mu.Unlock()
	g.notify(Idle)
}

// Run executes fn under the gate transitioned to during, guaranteeing
// the gate returns to Idle on every exit path including panic
// recovery propagation (the panic itself is not recovered — the gate
// reset still runs via defer).
func (g *Gate) Run(during Status, fn func() error) error {
	if err := g.Enter(during); err != nil {
		return err
	}
	defer g.Exit()
	return fn()
}
