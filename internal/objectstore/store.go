// Package objectstore defines the contract the update engine consumes
// from the content-addressed commit store (a sysroot of deployments
// backed by a tree-committing repository comparable to libostree).
//
// The engine treats this contract as an external collaborator: C2–C5
// never reach past the Store interface into repository internals. The
// shipped implementation, cliStore, drives the system "ostree"
// command-line tool the same way rpmostree-client-go's Client drives
// "rpm-ostree" — by shelling out and parsing the tool's structured
// output — because no native Go binding of libostree exists in the
// dependency pack this engine was built from.
package objectstore

import (
	"context"
)

// PullFlags mirrors a narrow slice of OSTREE_REPO_PULL_FLAGS_*.
type PullFlags int

const (
	PullFlagsNone       PullFlags = 0
	PullFlagsCommitOnly PullFlags = 1 << iota
)

// ProgressSink is a write-only destination for pull/transaction
// progress. The engine never polls it; callers hand one in and the
// Store writes to it from whatever goroutine is driving the
// suspension point.
type ProgressSink interface {
	Update(fraction float64, message string)
}

// NopProgress discards all updates.
type NopProgress struct{}

func (NopProgress) Update(float64, string) {}

// Deployment is a staged checkout of one commit under the sysroot.
type Deployment struct {
	OSName string
	Serial int
	Csum   string
	Booted bool
	Staged bool
}

// Commit is the subset of ostree commit-object fields the engine
// needs: parent, free-text subject/body, and the metadata dict
// attached at write_commit time.
type Commit struct {
	Checksum  string
	Parent    string
	Subject   string
	Body      string
	Timestamp int64
	Metadata  map[string]string
}

// Origin is the small per-deployment keyfile recording how a
// deployment was produced. It exposes exactly the groups/keys the
// engine reads and writes (origin.refspec, rlxos.merged,
// rlxos.channel, rlxos.refspec, rlxos.extensions); the backing
// representation is an INI-style keyfile (gopkg.in/ini.v1), matching
// GLib's KeyFile format used by the original implementation.
type Origin struct {
	Refspec string // origin.refspec

	Merged      bool     // rlxos.merged
	Channel     string   // rlxos.channel
	CoreRefspec string   // rlxos.refspec
	Extensions  []string // rlxos.extensions, semicolon-delimited on disk
}

// HasMergeGroup reports whether the rlxos group is present at all,
// i.e. whether this origin was ever written by the merge-aware
// deployment writer. An Origin built from a plain (non-merged)
// deployment, including one reset back to base-only through the
// engine, has Merged == false AND HasMergeGroup == false. State
// derivation only needs Merged.
func (o Origin) HasMergeGroup() bool {
	return o.Merged || o.Channel != "" || o.CoreRefspec != "" || len(o.Extensions) > 0
}

// Transaction is the arena for one merge-commit write. It is owned by
// the caller for the duration of the write, which must end it with
// Commit or Abort; nothing is aborted or released when it is dropped.
type Transaction interface {
	// InitMutableTree seeds the mutable tree from an existing commit.
	InitMutableTree(ctx context.Context, rev string) (MutableTree, error)
	// Overlay reads extRev's root directory and writes it into tree,
	// later calls winning on path conflicts.
	Overlay(ctx context.Context, tree MutableTree, extRev string) error
	// WriteTree finalizes tree to an immutable root and stamps
	// bootable metadata on it, returning the root's object id.
	WriteTree(ctx context.Context, tree MutableTree) (root string, err error)
	// WriteCommit writes a parentless, subjectless commit rooted at
	// root with the given metadata dict.
	WriteCommit(ctx context.Context, root string, metadata map[string]string) (checksum string, err error)
	// SetRef atomically points refspec (no remote) at checksum.
	SetRef(ctx context.Context, refspec, checksum string) error
	// Commit finalizes the transaction; after it returns the refs set
	// via SetRef are durable.
	Commit(ctx context.Context) error
	// Abort discards everything written since Prepare. Safe to call
	// after Commit has already succeeded (no-op).
	Abort(ctx context.Context) error
}

// MutableTree is an opaque handle to an in-progress tree build.
type MutableTree struct {
	id string
}

// Store is the full consumed contract of §6: remote/ref resolution,
// pulling, commit/metadata loading, transactional writes, and the
// sysroot lifecycle (lock, deploy, cleanup).
type Store interface {
	// ParseRefspec splits "remote:bare/ref" into its parts; remote is
	// "" when no prefix is present.
	ParseRefspec(s string) (remote, bare string)

	// RemoteList returns the remotes configured on the repository.
	RemoteList(ctx context.Context) ([]string, error)
	// RemoteFetchSummary returns the ref names a remote advertises.
	RemoteFetchSummary(ctx context.Context, remote string) ([]string, error)

	// PullWithOptions pulls refs from remote, writing progress to sink
	// (which may be nil). It blocks until the pull completes, fails,
	// or ctx is cancelled.
	PullWithOptions(ctx context.Context, remote string, flags PullFlags, refs []string, sink ProgressSink) error

	// ResolveRev resolves a bare refspec to a commit checksum.
	// allowMissing suppresses the not-found error in favor of "".
	ResolveRev(ctx context.Context, refspec string, allowMissing bool) (string, error)
	// LoadCommit loads a commit's metadata and free-text fields.
	LoadCommit(ctx context.Context, checksum string) (Commit, error)

	// PrepareTransaction opens a write transaction on the repo.
	PrepareTransaction(ctx context.Context) (Transaction, error)

	// ReadOrigin reads a deployment's origin keyfile.
	ReadOrigin(ctx context.Context, dep Deployment) (Origin, error)
	// NewOriginFromRefspec builds a bare origin pointed at refspec.
	NewOriginFromRefspec(refspec string) Origin

	// Deployments lists every deployment currently in the sysroot.
	Deployments(ctx context.Context) ([]Deployment, error)
	// BootedDeployment returns the deployment active at boot.
	BootedDeployment(ctx context.Context) (Deployment, error)
	// MergeDeployment returns the deployment new deployments are
	// derived from for osname (usually the booted one).
	MergeDeployment(ctx context.Context, osname string) (Deployment, error)

	// DeployTree stages a new deployment at rev with origin, using
	// previous as the baseline for the kernel argument / boot config
	// carryover.
	DeployTree(ctx context.Context, osname, rev string, origin Origin, previous Deployment) (Deployment, error)
	// SimpleWriteDeployment finalizes newDep into the boot list
	// alongside previous, honoring noClean.
	SimpleWriteDeployment(ctx context.Context, osname string, newDep, previous Deployment, noClean bool) error
	// Cleanup garbage-collects deployments/refs no longer reachable.
	Cleanup(ctx context.Context) error

	// TryLock / Unlock guard the sysroot across a write operation.
	TryLock(ctx context.Context) error
	Unlock()

	// Load initializes the sysroot handle (reads config, deployment
	// list) and must be called once before any other method.
	Load(ctx context.Context) error
	// SetMountNamespaceInUse marks the process's mount namespace as
	// belonging to this sysroot instance.
	SetMountNamespaceInUse()

	// LogJournal mirrors a structured event to the systemd journal,
	// matching the consumed contract's connect_journal_msg hook.
	LogJournal(event string, fields map[string]string)
}

// MutableTreeID exposes the opaque handle's identifier, which a Store
// implementation hands back to its backend; it is not meant to be
// parsed.
func (t MutableTree) MutableTreeID() string { return t.id }

// NewMutableTree is used by Store implementations to construct
// handles; exported so a Store living in another package can build
// one without a constructor method on the unexported field.
func NewMutableTree(id string) MutableTree { return MutableTree{id: id} }
