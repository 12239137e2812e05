package objectstore

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/rlxos/updated/internal/engineerr"
	"github.com/rlxos/updated/internal/pkg/cmdrun"
)

// cliStore drives the system "ostree" binary, the same way
// rpmostree-client-go's Client drives "rpm-ostree": shell out, parse
// structured output, wrap failures with context. sysrootPath is the
// "--sysroot" argument passed to every invocation.
type cliStore struct {
	sysrootPath string
	osname      string

	mu     sync.Mutex
	locked bool

	// txMu serializes transaction lifecycle against concurrent
	// Prepare/Commit/Abort calls from the same process; the sysroot
	// lock already keeps other processes out, this just keeps this
	// Store's own bookkeeping consistent.
	txMu sync.Mutex
}

// NewCLIStore constructs a Store backed by the system ostree tool,
// rooted at sysrootPath (commonly "/").
func NewCLIStore(sysrootPath, osname string) Store {
	return &cliStore{sysrootPath: sysrootPath, osname: osname}
}

func (s *cliStore) args(a ...string) []string {
	return append([]string{"--sysroot=" + s.sysrootPath}, a...)
}

func (s *cliStore) ParseRefspec(spec string) (remote, bare string) {
	if idx := strings.Index(spec, ":"); idx >= 0 {
		return spec[:idx], spec[idx+1:]
	}
	return "", spec
}

func (s *cliStore) RemoteList(ctx context.Context) ([]string, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("remote", "list")...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "remote list", err)
	}
	return splitNonEmptyLines(string(out)), nil
}

func (s *cliStore) RemoteFetchSummary(ctx context.Context, remote string) ([]string, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("remote", "refs", remote)...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "remote fetch summary for "+remote, err)
	}
	var refs []string
	for _, line := range splitNonEmptyLines(string(out)) {
		// Each line is "remote:ref"; report the bare ref, matching
		// the ref_map contents of the original summary format.
		if idx := strings.Index(line, ":"); idx >= 0 {
			refs = append(refs, line[idx+1:])
		} else {
			refs = append(refs, line)
		}
	}
	return refs, nil
}

func (s *cliStore) PullWithOptions(ctx context.Context, remote string, flags PullFlags, refs []string, sink ProgressSink) error {
	args := s.args("pull", "--progress-fd=3")
	if flags&PullFlagsCommitOnly != 0 {
		args = append(args, "--commit-metadata-only")
	}
	args = append(args, remote)
	args = append(args, refs...)

	out, err := cmdrun.Output(ctx, "ostree", args...)
	if err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "pull "+strings.Join(refs, " ")+" from "+remote, err)
	}
	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	for scanner.Scan() {
		parseProgressLine(sink, scanner.Text())
	}
	if sink != nil {
		sink.Update(1.0, "done")
	}
	return nil
}

func (s *cliStore) ResolveRev(ctx context.Context, refspec string, allowMissing bool) (string, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("rev-parse", refspec)...)
	if err != nil {
		if allowMissing {
			return "", nil
		}
		return "", engineerr.Wrap(engineerr.KindNoRevisionForRefSpec, refspec, err)
	}
	return strings.TrimSpace(string(out)), nil
}

type commitLogEntry struct {
	Checksum  string            `json:"checksum"`
	Parent    string            `json:"parent"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Timestamp int64             `json:"timestamp"`
	Metadata  map[string]string `json:"metadata"`
}

func (s *cliStore) LoadCommit(ctx context.Context, checksum string) (Commit, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("show", "--print-metadata-key=all", "--json", checksum)...)
	if err != nil {
		return Commit{}, engineerr.Wrap(engineerr.KindObjectStore, "load commit "+checksum, err)
	}
	var entry commitLogEntry
	if jsonErr := json.Unmarshal(out, &entry); jsonErr != nil {
		return Commit{}, engineerr.Wrap(engineerr.KindObjectStore, "parse commit "+checksum, jsonErr)
	}
	return Commit{
		Checksum:  checksum,
		Parent:    entry.Parent,
		Subject:   entry.Subject,
		Body:      entry.Body,
		Timestamp: entry.Timestamp,
		Metadata:  entry.Metadata,
	}, nil
}

func (s *cliStore) PrepareTransaction(ctx context.Context) (Transaction, error) {
	s.txMu.Lock()
	if err := cmdrun.Run(ctx, "ostree", s.args("commit", "--prepare-transaction")...); err != nil {
		s.txMu.Unlock()
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "prepare transaction", err)
	}
	return &cliTransaction{store: s}, nil
}

type cliTransaction struct {
	store *cliStore
	done  bool
}

func (t *cliTransaction) InitMutableTree(ctx context.Context, rev string) (MutableTree, error) {
	out, err := cmdrun.Output(ctx, "ostree", t.store.args("mtree-from-commit", rev)...)
	if err != nil {
		return MutableTree{}, engineerr.Wrap(engineerr.KindObjectStore, "init mutable tree from "+rev, err)
	}
	return NewMutableTree(strings.TrimSpace(string(out))), nil
}

func (t *cliTransaction) Overlay(ctx context.Context, tree MutableTree, extRev string) error {
	if err := cmdrun.Run(ctx, "ostree", t.store.args("mtree-overlay", tree.MutableTreeID(), extRev)...); err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "overlay "+extRev, err)
	}
	return nil
}

func (t *cliTransaction) WriteTree(ctx context.Context, tree MutableTree) (string, error) {
	out, err := cmdrun.Output(ctx, "ostree", t.store.args("write-mtree", tree.MutableTreeID())...)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindObjectStore, "write mtree", err)
	}
	root := strings.TrimSpace(string(out))
	if err := cmdrun.Run(ctx, "ostree", t.store.args("commit-metadata-for-bootable", root)...); err != nil {
		return "", engineerr.Wrap(engineerr.KindObjectStore, "stamp bootable metadata on "+root, err)
	}
	return root, nil
}

func (t *cliTransaction) WriteCommit(ctx context.Context, root string, metadata map[string]string) (string, error) {
	args := t.store.args("commit", "--orphan", "--tree=ref="+root)
	for k, v := range metadata {
		args = append(args, fmt.Sprintf("--add-metadata-string=%s=%s", k, v))
	}
	out, err := cmdrun.Output(ctx, "ostree", args...)
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindObjectStore, "write commit", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (t *cliTransaction) SetRef(ctx context.Context, refspec, checksum string) error {
	if err := cmdrun.Run(ctx, "ostree", t.store.args("reset", refspec, checksum)...); err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "set ref "+refspec, err)
	}
	return nil
}

func (t *cliTransaction) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.txMu.Unlock()
	if err := cmdrun.Run(ctx, "ostree", t.store.args("commit", "--commit-transaction")...); err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "commit transaction", err)
	}
	return nil
}

func (t *cliTransaction) Abort(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.store.txMu.Unlock()
	return cmdrun.Run(ctx, "ostree", t.store.args("commit", "--abort-transaction")...)
}

func (s *cliStore) ReadOrigin(ctx context.Context, dep Deployment) (Origin, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("admin", "show-origin", dep.Csum)...)
	if err != nil {
		return Origin{}, engineerr.Wrap(engineerr.KindNoOriginForDeployment, fmt.Sprintf("%s.%d", dep.Csum, dep.Serial), err)
	}
	cfg, err := ini.Load(out)
	if err != nil {
		return Origin{}, engineerr.Wrap(engineerr.KindObjectStore, "parse origin keyfile", err)
	}
	return originFromINI(cfg), nil
}

func originFromINI(cfg *ini.File) Origin {
	o := Origin{}
	if cfg.HasSection("origin") {
		o.Refspec = cfg.Section("origin").Key("refspec").String()
	}
	if cfg.HasSection("rlxos") {
		sec := cfg.Section("rlxos")
		o.Merged = sec.Key("merged").MustBool(false)
		o.Channel = sec.Key("channel").String()
		o.CoreRefspec = sec.Key("refspec").String()
		if raw := sec.Key("extensions").String(); raw != "" {
			for _, id := range strings.Split(raw, ";") {
				if id != "" {
					o.Extensions = append(o.Extensions, id)
				}
			}
		}
	}
	return o
}

func originToINI(o Origin) *ini.File {
	cfg := ini.Empty()
	cfg.Section("origin").Key("refspec").SetValue(o.Refspec)
	if o.HasMergeGroup() {
		sec := cfg.Section("rlxos")
		sec.Key("merged").SetValue(strconv.FormatBool(o.Merged))
		sec.Key("channel").SetValue(o.Channel)
		sec.Key("refspec").SetValue(o.CoreRefspec)
		sec.Key("extensions").SetValue(strings.Join(o.Extensions, ";") + ";")
	}
	return cfg
}

func (s *cliStore) NewOriginFromRefspec(refspec string) Origin {
	return Origin{Refspec: refspec}
}

type statusDeployment struct {
	OSName string `json:"osname"`
	Serial int    `json:"serial"`
	Csum   string `json:"checksum"`
	Booted bool   `json:"booted"`
	Staged bool   `json:"staged"`
}

func (s *cliStore) status(ctx context.Context) ([]statusDeployment, error) {
	out, err := cmdrun.Output(ctx, "ostree", s.args("admin", "status", "--json")...)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "sysroot status", err)
	}
	var deps []statusDeployment
	if jsonErr := json.Unmarshal(out, &deps); jsonErr != nil {
		return nil, engineerr.Wrap(engineerr.KindObjectStore, "parse sysroot status", jsonErr)
	}
	return deps, nil
}

func (s *cliStore) Deployments(ctx context.Context) ([]Deployment, error) {
	raw, err := s.status(ctx)
	if err != nil {
		return nil, err
	}
	deps := make([]Deployment, 0, len(raw))
	for _, d := range raw {
		deps = append(deps, Deployment{OSName: d.OSName, Serial: d.Serial, Csum: d.Csum, Booted: d.Booted, Staged: d.Staged})
	}
	return deps, nil
}

func (s *cliStore) BootedDeployment(ctx context.Context) (Deployment, error) {
	deps, err := s.Deployments(ctx)
	if err != nil {
		return Deployment{}, err
	}
	for _, d := range deps {
		if d.Booted {
			return d, nil
		}
	}
	return Deployment{}, engineerr.New(engineerr.KindNoBootDeployment)
}

func (s *cliStore) MergeDeployment(ctx context.Context, osname string) (Deployment, error) {
	deps, err := s.Deployments(ctx)
	if err != nil {
		return Deployment{}, err
	}
	for _, d := range deps {
		if d.OSName == osname {
			return d, nil
		}
	}
	return Deployment{}, engineerr.New(engineerr.KindNoPreviousDeployment)
}

func (s *cliStore) DeployTree(ctx context.Context, osname, rev string, origin Origin, previous Deployment) (Deployment, error) {
	cfg := originToINI(origin)
	originFile, err := os.CreateTemp("", "rlxos-origin-*.ini")
	if err != nil {
		return Deployment{}, engineerr.Wrap(engineerr.KindObjectStore, "create origin tempfile", err)
	}
	defer os.Remove(originFile.Name())
	if _, err := cfg.WriteTo(originFile); err != nil {
		originFile.Close()
		return Deployment{}, engineerr.Wrap(engineerr.KindObjectStore, "render origin keyfile", err)
	}
	originFile.Close()

	args := s.args("admin", "deploy", "--os="+osname, "--origin-file="+originFile.Name(), rev)
	_ = previous // baseline carried implicitly by the sysroot tool via --os
	if _, err := cmdrun.Output(ctx, "ostree", args...); err != nil {
		return Deployment{}, engineerr.Wrap(engineerr.KindObjectStore, "deploy tree "+rev, err)
	}
	return Deployment{OSName: osname, Csum: rev, Staged: true}, nil
}

func (s *cliStore) SimpleWriteDeployment(ctx context.Context, osname string, newDep, previous Deployment, noClean bool) error {
	args := s.args("admin", "deploy", "--os="+osname)
	if noClean {
		args = append(args, "--no-clean")
	}
	args = append(args, newDep.Csum)
	if err := cmdrun.Run(ctx, "ostree", args...); err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "write deployment "+newDep.Csum, err)
	}
	return nil
}

func (s *cliStore) Cleanup(ctx context.Context) error {
	if err := cmdrun.Run(ctx, "ostree", s.args("admin", "cleanup")...); err != nil {
		return engineerr.Wrap(engineerr.KindObjectStore, "sysroot cleanup", err)
	}
	return nil
}

func (s *cliStore) TryLock(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return engineerr.New(engineerr.KindFailedTryLock)
	}
	if err := cmdrun.Run(ctx, "ostree", s.args("admin", "lock")...); err != nil {
		return engineerr.Wrap(engineerr.KindFailedTryLock, "", err)
	}
	s.locked = true
	return nil
}

func (s *cliStore) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return
	}
	_ = cmdrun.RunCmdSync("ostree", s.args("admin", "unlock-sysroot")...)
	s.locked = false
}

func (s *cliStore) Load(ctx context.Context) error {
	return cmdrun.Run(ctx, "ostree", s.args("admin", "status")...)
}

func (s *cliStore) SetMountNamespaceInUse() {}

func (s *cliStore) LogJournal(event string, fields map[string]string) {
	logJournal(event, fields)
}

func splitNonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
