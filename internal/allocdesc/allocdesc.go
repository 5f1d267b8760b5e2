// Package allocdesc implements the allocated-desc table of spec §4.4: a
// fixed-size registry of scoped, non-VFD resources (buffered streams and
// directory iterators) that still count against the FD budget, grounded
// on fd.c's AllocateDesc/allocatedDescs array.
//
// The original keys this table by the stream/DIR pointer itself and
// "compacts" a plain array by swapping the tail entry into a freed slot;
// a Go caller instead holds a typed handle (*os.File for a stream) or an
// opaque Desc token for a directory, so this table is keyed by a stable
// monotonically increasing token rather than a position that could shift
// out from under a caller when an unrelated entry is freed.
package allocdesc

import (
	"path/filepath"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/backend/local"
	"github.com/hhwyt/vfd/internal/backend/remote"
	"github.com/hhwyt/vfd/internal/metrics"
	"github.com/hhwyt/vfd/internal/router"
	"github.com/hhwyt/vfd/internal/vfdcache"
	"github.com/hhwyt/vfd/internal/vfderrors"
	"os"
)

// MaxAllocatedDescs is the fixed table capacity spec §4.4/§6 names.
const MaxAllocatedDescs = 32

// Kind tags which variant an entry is.
type Kind int

const (
	KindLocalStream Kind = iota
	KindLocalDir
	KindRemoteDir
)

// Desc is the opaque token callers use to address a directory iterator
// entry (allocate_dir/read_dir/free_dir); stream entries are instead
// addressed directly by the *os.File allocate_stream returns.
type Desc int64

// Entry is one allocated-desc table row (spec §3's tagged variant).
type Entry struct {
	Kind        Kind
	CreateSubID vfdcache.SubXactID

	stream *os.File // LocalStream only

	localDir *os.File // LocalDir only, kept open across ReadDir calls

	// RemoteDir only: the eagerly-fetched listing and a cursor.
	listing []backend.Info
	cursor  int
}

// Table is the allocated-desc registry.
type Table struct {
	entries   map[Desc]*Entry
	byStream  map[*os.File]Desc
	nextToken Desc

	local  *local.Backend
	remote *remote.Backend
	pool   remote.Pool

	metrics *metrics.Collector
}

// New constructs an empty Table. m may be nil in tests that don't care
// about metrics.
func New(localBackend *local.Backend, remoteBackend *remote.Backend, pool remote.Pool, m *metrics.Collector) *Table {
	return &Table{
		entries:  make(map[Desc]*Entry),
		byStream: make(map[*os.File]Desc),
		local:    localBackend,
		remote:   remoteBackend,
		pool:     pool,
		metrics:  m,
	}
}

func (t *Table) bumpGauge() {
	if t.metrics != nil {
		t.metrics.AllocatedDescs.Set(float64(len(t.entries)))
	}
}

// Count returns the current number of allocated descs, the value the VFD
// cache's budget check (invariant I2) needs from this package without a
// circular import.
func (t *Table) Count() int { return len(t.entries) }

func (t *Table) checkCapacity(maxSafeFDs int) error {
	if len(t.entries) >= MaxAllocatedDescs {
		return vfderrors.New(vfderrors.CodeBudgetExhausted, "AllocateDesc").
			WithMessage("allocated-desc table is full")
	}
	if len(t.entries) >= maxSafeFDs-1 {
		return vfderrors.New(vfderrors.CodeBudgetExhausted, "AllocateDesc").
			WithMessage("allocated-desc count would exceed max_safe_fds-1")
	}
	return nil
}

func (t *Table) insert(e *Entry) Desc {
	t.nextToken++
	tok := t.nextToken
	t.entries[tok] = e
	t.bumpGauge()
	return tok
}

// AllocateStream opens a local stream (spec §4.4's allocate_stream),
// returning the *os.File the caller uses directly as its handle; the
// *os.File is not buffered.
func (t *Table) AllocateStream(name string, flags int, mode os.FileMode, maxSafeFDs int, subID vfdcache.SubXactID) (*os.File, error) {
	if err := t.checkCapacity(maxSafeFDs); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(name, flags, mode)
	if err != nil {
		return nil, local.WrapIOError("AllocateStream", name, err)
	}
	tok := t.insert(&Entry{Kind: KindLocalStream, stream: f, CreateSubID: subID})
	t.byStream[f] = tok
	return f, nil
}

// FreeStream closes and deregisters a stream previously returned by
// AllocateStream (spec §4.4/§6's free_file).
func (t *Table) FreeStream(f *os.File) error {
	tok, ok := t.byStream[f]
	if !ok {
		return vfderrors.New(vfderrors.CodeInvalidHandle, "FreeStream").
			WithMessage("stream was not allocated through this table")
	}
	delete(t.byStream, f)
	return t.freeToken(tok)
}

// AllocateDir opens a directory iterator (spec §4.4's allocate_dir): for
// local paths, an *os.File handle to the directory; for remote paths, an
// eager full listing fetched via the pooled connection's ListDirAt.
func (t *Table) AllocateDir(path string, maxSafeFDs int, subID vfdcache.SubXactID) (Desc, error) {
	if err := t.checkCapacity(maxSafeFDs); err != nil {
		return 0, err
	}

	class, err := router.Classify(path)
	if err != nil {
		return 0, err
	}

	if class.Local {
		f, err := os.Open(path)
		if err != nil {
			return 0, local.WrapIOError("AllocateDir", path, err)
		}
		return t.insert(&Entry{Kind: KindLocalDir, localDir: f, CreateSubID: subID}), nil
	}

	conn, err := t.pool.Get(class.Protocol, class.Host, class.Port)
	if err != nil {
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "AllocateDir").WithPath(path).WithCause(err)
	}
	listing, err := t.remote.ListDirAt(conn, class.UnixPath)
	if err != nil {
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "AllocateDir").WithPath(path).WithCause(err)
	}
	return t.insert(&Entry{Kind: KindRemoteDir, listing: listing, CreateSubID: subID}), nil
}

// ReadDir returns the next directory entry, per spec §4.4's read_dir. ok
// is false once the iterator is exhausted. For remote entries it
// synthesizes the final path component of each listing entry; the
// Desc-token map already gives callers O(1) lookup of the iterator
// itself, so no separate recently-used index is kept here.
func (t *Table) ReadDir(d Desc) (name string, isDir bool, ok bool, err error) {
	e, err := t.lookup(d)
	if err != nil {
		return "", false, false, err
	}

	switch e.Kind {
	case KindLocalDir:
		names, rerr := e.localDir.ReadDir(1)
		if rerr != nil {
			return "", false, false, nil
		}
		info, ierr := names[0].Info()
		if ierr != nil {
			return "", false, false, local.WrapIOError("ReadDir", "", ierr)
		}
		return info.Name(), info.IsDir(), true, nil

	case KindRemoteDir:
		if e.cursor >= len(e.listing) {
			return "", false, false, nil
		}
		info := e.listing[e.cursor]
		e.cursor++
		return filepath.Base(info.Name), info.IsDir, true, nil

	default:
		return "", false, false, vfderrors.New(vfderrors.CodeInvalidHandle, "ReadDir").WithHandle(int(d))
	}
}

// FreeDir closes the underlying directory object and deregisters d (spec
// §4.4/§6's free_dir).
func (t *Table) FreeDir(d Desc) error {
	return t.freeToken(d)
}

// FreeAny closes whatever entry d refers to, regardless of Kind. Used by
// the transaction-end and process-exit hooks, which scan the whole table
// without distinguishing streams from directory iterators (spec §4.5).
func (t *Table) FreeAny(d Desc) error {
	return t.freeToken(d)
}

func (t *Table) freeToken(tok Desc) error {
	e, err := t.lookup(tok)
	if err != nil {
		return err
	}

	var closeErr error
	switch e.Kind {
	case KindLocalStream:
		closeErr = e.stream.Close()
		delete(t.byStream, e.stream)
	case KindLocalDir:
		closeErr = e.localDir.Close()
	case KindRemoteDir:
		e.listing = nil
	}

	delete(t.entries, tok)
	t.bumpGauge()
	return closeErr
}

func (t *Table) lookup(tok Desc) (*Entry, error) {
	e, ok := t.entries[tok]
	if !ok {
		return nil, vfderrors.New(vfderrors.CodeInvalidHandle, "lookup").WithHandle(int(tok))
	}
	return e, nil
}

// CreateSubID returns d's creating subtransaction id, for the transaction
// hooks (spec §4.5).
func (t *Table) CreateSubID(d Desc) (vfdcache.SubXactID, error) {
	e, err := t.lookup(d)
	if err != nil {
		return 0, err
	}
	return e.CreateSubID, nil
}

// ReassignCreateSubID updates d's creator id (spec §4.5's commit-time
// reassignment).
func (t *Table) ReassignCreateSubID(d Desc, parent vfdcache.SubXactID) error {
	e, err := t.lookup(d)
	if err != nil {
		return err
	}
	e.CreateSubID = parent
	return nil
}

// EachToken calls fn for every live entry's token. fn may safely call
// FreeDir/FreeAny for the token it is given; the snapshot is taken
// before iterating so concurrent map mutation during the callback is
// never observed.
func (t *Table) EachToken(fn func(d Desc)) {
	tokens := make([]Desc, 0, len(t.entries))
	for tok := range t.entries {
		tokens = append(tokens, tok)
	}
	for _, tok := range tokens {
		fn(tok)
	}
}
