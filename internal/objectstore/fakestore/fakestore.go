// Package fakestore is an in-memory objectstore.Store used by engine
// and pull/merge/deploy tests in place of a real ostree repository,
// the same role a hand-rolled fake plays in the teacher's own tests
// (e.g. internal/pkg/bashexec_test.go driving real subprocesses
// against fixtures rather than mocking exec.Cmd).
package fakestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/objectstore"
)

// Commit is a fake commit: a subject/body pair, a parent, and a
// metadata dict, keyed by checksum in Store.Commits.
type Commit struct {
	Parent   string
	Subject  string
	Body     string
	Metadata map[string]string
	// Tree is the set of path->content entries this commit's root
	// contributes; WriteCommit composes these across a merge, in the
	// order Overlay recorded them, the same way the real mutable tree
	// does (later entries win).
	Tree map[string]string
}

// Store is a fully in-memory Store. Exported fields let tests seed
// fixtures directly instead of going through the Store interface.
type Store struct {
	mu sync.Mutex

	Remotes map[string]map[string]string // remote -> bare refspec -> checksum

	Commits map[string]Commit // checksum -> commit

	LocalRefs map[string]string // bare refspec -> checksum (e.g. "x86_64/os/local")

	Deployments []objectstore.Deployment
	Origins     map[string]objectstore.Origin // keyed by Csum

	locked bool

	// JournalEvents records every LogJournal call for assertions.
	JournalEvents []JournalEvent

	nextChecksum int
}

type JournalEvent struct {
	Event  string
	Fields map[string]string
}

// New returns an empty Store; tests populate Remotes/Commits/etc.
// directly before exercising the engine against it.
func New() *Store {
	return &Store{
		Remotes:   map[string]map[string]string{},
		Commits:   map[string]Commit{},
		LocalRefs: map[string]string{},
		Origins:   map[string]objectstore.Origin{},
	}
}

// synthChecksum deterministically derives a 64-hex checksum from its
// inputs, so two merges with identical inputs (base, extensions,
// metadata) produce the same commit id — the in-memory stand-in for
// "commit checksums may differ only via timestamp" in a store that
// has no timestamps at all.
func synthChecksum(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) ParseRefspec(spec string) (remote, bare string) {
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return "", spec
}

func (s *Store) RemoteList(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for r := range s.Remotes {
		names = append(names, r)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) RemoteFetchSummary(ctx context.Context, remote string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := s.Remotes[remote]
	var names []string
	for ref := range refs {
		names = append(names, ref)
	}
	sort.Strings(names)
	return names, nil
}

// PullWithOptions copies each requested ref's current remote revision
// into LocalRefs, simulating a successful fetch. Refs absent from the
// remote are left unresolved (no error here; ResolveRev surfaces
// that).
func (s *Store) PullWithOptions(ctx context.Context, remote string, flags objectstore.PullFlags, refs []string, sink objectstore.ProgressSink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	remoteRefs := s.Remotes[remote]
	for i, ref := range refs {
		if remoteRefs != nil {
			if rev, ok := remoteRefs[ref]; ok {
				s.LocalRefs[ref] = rev
			}
		}
		if sink != nil {
			sink.Update(float64(i+1)/float64(len(refs)), ref)
		}
	}
	return nil
}

func (s *Store) ResolveRev(ctx context.Context, refspec string, allowMissing bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rev, ok := s.LocalRefs[refspec]; ok {
		return rev, nil
	}
	if allowMissing {
		return "", nil
	}
	return "", engineerr.Newf(engineerr.KindNoRevisionForRefSpec, refspec)
}

func (s *Store) LoadCommit(ctx context.Context, checksum string) (objectstore.Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.Commits[checksum]
	if !ok {
		return objectstore.Commit{}, engineerr.Newf(engineerr.KindObjectStore, "no such commit "+checksum)
	}
	md := make(map[string]string, len(c.Metadata))
	for k, v := range c.Metadata {
		md[k] = v
	}
	return objectstore.Commit{
		Checksum: checksum,
		Parent:   c.Parent,
		Subject:  c.Subject,
		Body:     c.Body,
		Metadata: md,
	}, nil
}

type transaction struct {
	store    *Store
	overlays []string // commit checksums applied in order, first is the base
	setRefs  map[string]string
	aborted  bool
	done     bool
}

func (s *Store) PrepareTransaction(ctx context.Context) (objectstore.Transaction, error) {
	return &transaction{store: s, setRefs: map[string]string{}}, nil
}

func (t *transaction) InitMutableTree(ctx context.Context, rev string) (objectstore.MutableTree, error) {
	if _, ok := t.store.Commits[rev]; !ok {
		return objectstore.MutableTree{}, engineerr.Newf(engineerr.KindObjectStore, "no such commit "+rev)
	}
	t.overlays = append(t.overlays, rev)
	return objectstore.NewMutableTree(rev), nil
}

func (t *transaction) Overlay(ctx context.Context, tree objectstore.MutableTree, extRev string) error {
	if _, ok := t.store.Commits[extRev]; !ok {
		return engineerr.Newf(engineerr.KindObjectStore, "no such commit "+extRev)
	}
	t.overlays = append(t.overlays, extRev)
	return nil
}

// WriteTree returns a deterministic root id derived from the ordered
// checksum list, realizing P5 (merge determinism) for the fake; the
// overlaid trees themselves are composed by WriteCommit.
func (t *transaction) WriteTree(ctx context.Context, tree objectstore.MutableTree) (string, error) {
	root := synthChecksum(append([]string{"root"}, t.overlays...)...)
	return root, nil
}

func (t *transaction) WriteCommit(ctx context.Context, root string, metadata map[string]string) (string, error) {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := []string{"commit", root}
	for _, k := range keys {
		parts = append(parts, k+"="+metadata[k])
	}
	checksum := synthChecksum(parts...)

	merged := map[string]string{}
	for _, rev := range t.overlays {
		for path, content := range t.store.Commits[rev].Tree {
			merged[path] = content
		}
	}
	t.store.mu.Lock()
	t.store.Commits[checksum] = Commit{Metadata: metadata, Tree: merged}
	t.store.mu.Unlock()
	return checksum, nil
}

func (t *transaction) SetRef(ctx context.Context, refspec, checksum string) error {
	t.setRefs[refspec] = checksum
	return nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for ref, checksum := range t.setRefs {
		t.store.LocalRefs[ref] = checksum
	}
	return nil
}

func (t *transaction) Abort(ctx context.Context) error {
	t.done = true
	t.aborted = true
	return nil
}

func (s *Store) ReadOrigin(ctx context.Context, dep objectstore.Deployment) (objectstore.Origin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.Origins[dep.Csum]
	if !ok {
		return objectstore.Origin{}, engineerr.Newf(engineerr.KindNoOriginForDeployment, fmt.Sprintf("%s.%d", dep.Csum, dep.Serial))
	}
	return o, nil
}

func (s *Store) NewOriginFromRefspec(refspec string) objectstore.Origin {
	return objectstore.Origin{Refspec: refspec}
}

func (s *Store) Deployments(ctx context.Context) ([]objectstore.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]objectstore.Deployment, len(s.Deployments))
	copy(out, s.Deployments)
	return out, nil
}

func (s *Store) BootedDeployment(ctx context.Context) (objectstore.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.Deployments {
		if d.Booted {
			return d, nil
		}
	}
	return objectstore.Deployment{}, engineerr.New(engineerr.KindNoBootDeployment)
}

func (s *Store) MergeDeployment(ctx context.Context, osname string) (objectstore.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.Deployments {
		if d.OSName == osname {
			return d, nil
		}
	}
	return objectstore.Deployment{}, engineerr.New(engineerr.KindNoPreviousDeployment)
}

func (s *Store) DeployTree(ctx context.Context, osname, rev string, origin objectstore.Origin, previous objectstore.Deployment) (objectstore.Deployment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextChecksum++
	dep := objectstore.Deployment{OSName: osname, Serial: s.nextChecksum, Csum: rev, Staged: true}
	s.Origins[dep.Csum] = origin
	return dep, nil
}

func (s *Store) SimpleWriteDeployment(ctx context.Context, osname string, newDep, previous objectstore.Deployment, noClean bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	newDep.Staged = false
	newDep.Booted = true
	for i := range s.Deployments {
		if s.Deployments[i].Csum == previous.Csum && s.Deployments[i].Serial == previous.Serial {
			s.Deployments[i].Booted = false
		}
	}
	s.Deployments = append([]objectstore.Deployment{newDep}, s.Deployments...)
	if !noClean {
		s.Deployments = s.Deployments[:1]
	}
	return nil
}

func (s *Store) Cleanup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Deployments) > 2 {
		s.Deployments = s.Deployments[:2]
	}
	return nil
}

func (s *Store) TryLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return engineerr.New(engineerr.KindFailedTryLock)
	}
	s.locked = true
	return nil
}

func (s *Store) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
}

func (s *Store) Load(ctx context.Context) error { return nil }

func (s *Store) SetMountNamespaceInUse() {}

func (s *Store) LogJournal(event string, fields map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.JournalEvents = append(s.JournalEvents, JournalEvent{Event: event, Fields: fields})
}
