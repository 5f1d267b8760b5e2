// Package vfdcache is the heart of the VFD layer: the slot array, free
// list, and doubly-linked LRU ring described in spec §3–4.2, grounded on
// fd.c's VfdCache array plus LruInsert/LruDelete/ReleaseLruFile
// (original_source/cdb-pg/.../fd.c). Unlike the teacher's LRU cache
// (internal/cache/lru.go, byte-range content caching with its own
// sync.Mutex), this is a single-threaded index-based ring over *slot
// descriptors, never byte content — the invariant the spec repeats.
package vfdcache

import (
	"os"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/backend/local"
	"github.com/hhwyt/vfd/internal/backend/remote"
	"github.com/hhwyt/vfd/internal/collaborators"
	"github.com/hhwyt/vfd/internal/metrics"
	"github.com/hhwyt/vfd/internal/router"
	"github.com/hhwyt/vfd/internal/vfderrors"
)

// SubXactID is the opaque subtransaction-scope token the surrounding
// transaction manager provides (spec §1: "the core consumes an opaque
// subtransaction id").
type SubXactID int64

// stateFlags is the slot's state bitset (spec §3).
type stateFlags uint8

const (
	flagTemporary stateFlags = 1 << iota
	flagCloseAtEOXact
)

// unknownSeekPos is the UNKNOWN sentinel for slot.seekPos (spec §3).
const unknownSeekPos int64 = -1

// sentinelIndex is both the free-list root and the LRU ring sentinel;
// index 0 is never a valid File handle (spec §3).
const sentinelIndex = 0

// slot is one entry of the VFD array (spec §3). handle is nil exactly
// when the slot is kernel-closed (local) or has no live remote handle;
// this single field does the job the original's separate kernel_fd/
// remote_handle fields did, since both back-end adapters already speak
// the common backend.Handle type.
type slot struct {
	handle   backend.Handle
	isRemote bool

	conn     remote.Connection // borrowed from the pool; nil iff local
	protocol string
	host     string
	port     int
	replica  int

	state       stateFlags
	createSubID SubXactID

	nextFree int

	lruMore int // toward the most-recent end; 0 (sentinel) if none
	lruLess int // toward the least-recent end; 0 (sentinel) if none

	seekPos int64

	path      string // "" iff free (invariant I-free in spec §3 item 1)
	openFlags backend.OpenFlags
	openMode  os.FileMode
}

func (s *slot) isFree() bool          { return s.path == "" }
func (s *slot) isVirtuallyOpen() bool { return s.path != "" }
func (s *slot) isPhysicallyOpen() bool {
	return s.isVirtuallyOpen() && s.handle != nil
}

// Cache owns the slot array, free list, LRU ring, and the back-end
// adapters + remote connection pool those slots dispatch to. It holds no
// lock: spec §5 is explicit that this whole subsystem is single-threaded.
type Cache struct {
	slots      []*slot
	nfile      int // cardinality of the LRU ring, invariant I1
	maxSafeFDs int

	local  *local.Backend
	remote *remote.Backend
	pool   remote.Pool

	logger  collaborators.Logger
	fault   collaborators.FaultInjector
	metrics *metrics.Collector
}

// New constructs a Cache. maxSafeFDs is set later via SetMaxSafeFDs; a
// Cache is usable with maxSafeFDs == 0 only for tests that never open a
// local file (every local open would immediately hit BudgetExhausted).
func New(localBackend *local.Backend, remoteBackend *remote.Backend, pool remote.Pool, logger collaborators.Logger, fault collaborators.FaultInjector, m *metrics.Collector) *Cache {
	c := &Cache{
		slots:   make([]*slot, 1),
		local:   localBackend,
		remote:  remoteBackend,
		pool:    pool,
		logger:  logger,
		fault:   fault,
		metrics: m,
	}
	c.slots[sentinelIndex] = &slot{}
	return c
}

// SetMaxSafeFDs sets the budget this cache evicts against. Owned by
// internal/budget's Probe result; kept mutable so the façade can update it
// after init_file_access reruns the probe.
func (c *Cache) SetMaxSafeFDs(n int) { c.maxSafeFDs = n }

func (c *Cache) MaxSafeFDs() int { return c.maxSafeFDs }

// NFile returns the current LRU ring cardinality (invariant I1).
func (c *Cache) NFile() int { return c.nfile }

// SlotCount returns the current backing array length, including the
// sentinel, for tests and metrics.
func (c *Cache) SlotCount() int { return len(c.slots) }

// LocalBackend and RemoteBackend expose the concrete adapters this Cache
// was built with, for façade operations (MakeDirectory, RemovePath) that
// need to perform a path-based operation outside any slot.
func (c *Cache) LocalBackend() *local.Backend    { return c.local }
func (c *Cache) RemoteBackend() *remote.Backend  { return c.remote }

func (c *Cache) backendFor(s *slot) backend.Backend {
	if s.isRemote {
		return c.remote
	}
	return c.local
}

// --- free list -------------------------------------------------------

// allocateSlot pops a slot off the free list, growing the array first if
// the list is empty (spec §4.2 "Growth").
func (c *Cache) allocateSlot() (int, *slot) {
	if c.slots[sentinelIndex].nextFree == sentinelIndex {
		c.grow()
	}
	idx := c.slots[sentinelIndex].nextFree
	s := c.slots[idx]
	c.slots[sentinelIndex].nextFree = s.nextFree
	s.nextFree = sentinelIndex
	return idx, s
}

// grow doubles the backing slice (minimum 32), preserving every existing
// *slot pointer and File index — the slice holds pointers precisely so
// that reallocating the backing array never invalidates an outstanding
// File (spec §4.2).
func (c *Cache) grow() {
	oldLen := len(c.slots)
	newLen := oldLen * 2
	if newLen < 32 {
		newLen = 32
	}

	grown := make([]*slot, newLen)
	copy(grown, c.slots)
	for i := oldLen; i < newLen; i++ {
		grown[i] = &slot{}
	}
	for i := oldLen; i < newLen-1; i++ {
		grown[i].nextFree = i + 1
	}
	grown[newLen-1].nextFree = sentinelIndex
	grown[sentinelIndex].nextFree = oldLen

	c.slots = grown
	if c.logger != nil {
		c.logger.Debug("vfdcache: grew slot array", "old_len", oldLen, "new_len", newLen)
	}
}

// freeSlot resets idx and pushes it back onto the free list.
func (c *Cache) freeSlot(idx int) {
	c.slots[idx] = &slot{nextFree: c.slots[sentinelIndex].nextFree}
	c.slots[sentinelIndex].nextFree = idx
}

// --- LRU ring ----------------------------------------------------------

// lruInsertHead inserts idx at the most-recent end of the ring. Only ever
// called for local slots (invariant I4: no remote slot in the ring).
func (c *Cache) lruInsertHead(idx int) {
	sentinel := c.slots[sentinelIndex]
	s := c.slots[idx]
	oldHead := sentinel.lruMore
	s.lruLess = oldHead
	s.lruMore = sentinelIndex
	sentinel.lruMore = idx
	if oldHead == sentinelIndex {
		sentinel.lruLess = idx
	} else {
		c.slots[oldHead].lruMore = idx
	}
}

func (c *Cache) lruRemove(idx int) {
	s := c.slots[idx]
	prev, next := s.lruMore, s.lruLess
	if prev == sentinelIndex {
		c.slots[sentinelIndex].lruMore = next
	} else {
		c.slots[prev].lruLess = next
	}
	if next == sentinelIndex {
		c.slots[sentinelIndex].lruLess = prev
	} else {
		c.slots[next].lruMore = prev
	}
	s.lruMore, s.lruLess = sentinelIndex, sentinelIndex
}

func (c *Cache) lruMoveToHead(idx int) {
	c.lruRemove(idx)
	c.lruInsertHead(idx)
}

// releaseLRUFile evicts the least-recently-used slot (spec §4.2
// "Eviction"): it kernel-closes the slot's handle but keeps the slot
// virtually open. Returns false iff the ring is empty.
func (c *Cache) releaseLRUFile() bool {
	tail := c.slots[sentinelIndex].lruLess
	if tail == sentinelIndex {
		return false
	}
	s := c.slots[tail]

	tell, err := c.local.Tell(s.handle)
	if err != nil {
		s.seekPos = unknownSeekPos
		if c.logger != nil {
			c.logger.Warn("vfdcache: tell failed during eviction", "path", s.path, "err", err)
		}
	} else {
		s.seekPos = tell
	}

	if err := c.local.Close(s.handle); err != nil && c.logger != nil {
		c.logger.Warn("vfdcache: close failed during eviction", "path", s.path, "err", err)
	}

	s.handle = nil
	c.lruRemove(tail)
	c.nfile--
	if c.metrics != nil {
		c.metrics.Evictions.Inc()
		c.metrics.LRURingSize.Set(float64(c.nfile))
	}
	return true
}

// evictWhileOverBudget releases LRU slots until nfile+allocatedDescs drops
// below maxSafeFDs, or the ring runs dry (spec §4.2's open and file_access
// eviction loops share this exact condition, invariant I2).
func (c *Cache) evictWhileOverBudget(allocatedDescs int) {
	for c.nfile+allocatedDescs >= c.maxSafeFDs {
		if !c.releaseLRUFile() {
			return
		}
	}
}

// --- open ----------------------------------------------------------

// Open classifies path and routes to the local or remote open path (spec
// §4.2's "open" operation). allocatedDescs is the caller's current
// allocated-desc count, needed for the nfile+nAllocatedDescs<=max_safe_fds
// budget check (invariant I2) without this package importing
// internal/allocdesc.
func (c *Cache) Open(path string, flags backend.OpenFlags, mode os.FileMode, allocatedDescs int) (int, error) {
	if c.fault != nil {
		if err := c.fault.ShouldFail("vfdcache.open"); err != nil {
			return 0, err
		}
	}

	class, err := router.Classify(path)
	if err != nil {
		return 0, err
	}
	if class.Local {
		return c.openLocal(path, flags, mode, allocatedDescs)
	}
	return c.openRemote(class, path, flags, mode, allocatedDescs)
}

func (c *Cache) openLocal(path string, flags backend.OpenFlags, mode os.FileMode, allocatedDescs int) (int, error) {
	c.evictWhileOverBudget(allocatedDescs)
	if c.nfile+allocatedDescs >= c.maxSafeFDs {
		return 0, vfderrors.New(vfderrors.CodeBudgetExhausted, "Open").WithPath(path)
	}

	h, err := c.basicOpenLocal(path, flags, mode, allocatedDescs)
	if err != nil {
		return 0, local.WrapIOError("Open", path, err)
	}

	idx, s := c.allocateSlot()
	s.path = path
	s.handle = h
	s.openFlags = backend.SanitizeFlags(flags)
	s.openMode = mode
	s.seekPos = 0
	s.state = 0

	c.lruInsertHead(idx)
	c.nfile++
	c.bumpGauges()
	if err := c.checkInvariants(); err != nil {
		panic(err)
	}
	return idx, nil
}

// basicOpenLocal mirrors fd.c's BasicOpenFile: a single open(2) attempt
// that retries exactly once, after evicting one more LRU slot, on
// EMFILE/ENFILE (spec §4.3's local open row).
func (c *Cache) basicOpenLocal(path string, flags backend.OpenFlags, mode os.FileMode, allocatedDescs int) (backend.Handle, error) {
	h, err := c.local.Open(path, flags, mode)
	if err == nil {
		return h, nil
	}
	if !isFDExhaustion(err) {
		return nil, err
	}
	if !c.releaseLRUFile() {
		return nil, err
	}
	return c.local.Open(path, flags, mode)
}

func (c *Cache) openRemote(class router.Classification, path string, flags backend.OpenFlags, mode os.FileMode, allocatedDescs int) (int, error) {
	conn, err := c.pool.Get(class.Protocol, class.Host, class.Port)
	if err != nil {
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "Open").WithPath(path).WithCause(err)
	}

	// The remote handle is acquired before the slot is allocated: the
	// remote open itself may internally open metadata VFDs (and thus
	// grow this very array), so growth must not happen in between
	// acquiring the handle and recording it (spec §4.2's "Growth").
	h, err := c.remote.OpenAt(conn, class.UnixPath, flags, mode, class.Replica)
	if err != nil {
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "Open").WithPath(path).WithCause(err)
	}

	idx, s := c.allocateSlot()
	s.path = path
	s.isRemote = true
	s.conn = conn
	s.protocol = class.Protocol
	s.host = class.Host
	s.port = class.Port
	s.replica = class.Replica
	s.handle = h
	s.openFlags = backend.SanitizeFlags(flags)
	if flags&(os.O_WRONLY|os.O_RDWR) != 0 {
		s.openFlags |= os.O_APPEND
	}
	s.openMode = mode
	s.seekPos = 0
	s.state = 0

	c.bumpGauges()
	return idx, nil
}

func (c *Cache) bumpGauges() {
	if c.metrics == nil {
		return
	}
	c.metrics.LRURingSize.Set(float64(c.nfile))
	openSlots := 0
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i].isVirtuallyOpen() {
			openSlots++
		}
	}
	c.metrics.OpenSlots.Set(float64(openSlots))
}

// --- fileAccess (re-open protocol) -----------------------------------

// fileAccess ensures idx is physically open, per spec §4.2's "file_access"
// four-step protocol, unifying the LRU-touch gate that the original keeps
// duplicated between LruInsert and FileAccess (spec §9's first open
// question): a single "is this a local slot not already at the ring head"
// check here is the only gate.
func (c *Cache) fileAccess(idx int, allocatedDescs int) error {
	s := c.slots[idx]

	if s.isPhysicallyOpen() {
		if !s.isRemote && c.slots[sentinelIndex].lruMore != idx {
			c.lruMoveToHead(idx)
		}
		return nil
	}

	c.evictWhileOverBudget(allocatedDescs)

	var h backend.Handle
	var err error
	if s.isRemote {
		var unixPath string
		unixPath, err = router.ConvertToUnixPath(s.path)
		if err == nil {
			h, err = c.remote.OpenAt(s.conn, unixPath, s.openFlags, s.openMode, s.replica)
		}
	} else {
		h, err = c.local.Open(s.path, s.openFlags, s.openMode)
	}
	if err != nil {
		if c.metrics != nil {
			c.metrics.ReopenFailures.Inc()
		}
		return vfderrors.New(vfderrors.CodeReopenFailed, "FileAccess").WithPath(s.path).WithCause(err)
	}
	s.handle = h

	if err := c.restorePosition(s); err != nil {
		c.backendFor(s).Close(h)
		s.handle = nil
		if c.metrics != nil {
			c.metrics.ReopenFailures.Inc()
		}
		return err
	}

	if !s.isRemote {
		c.lruInsertHead(idx)
		c.nfile++
	}
	c.bumpGauges()
	if err := c.checkInvariants(); err != nil {
		panic(err)
	}
	return nil
}

// restorePosition implements spec §4.2 step 3's three position-restore
// branches.
func (c *Cache) restorePosition(s *slot) error {
	isWrite := s.openFlags&(os.O_WRONLY|os.O_RDWR) != 0

	if s.isRemote && isWrite {
		// Remote write handles are always O_APPEND by this point (spec
		// §9's third open question): reopening must land exactly at the
		// position this slot last observed, or the file was modified
		// out-of-band since eviction.
		tell, err := c.remote.Tell(s.handle)
		if err != nil {
			return vfderrors.New(vfderrors.CodeBackendIO, "FileAccess").WithPath(s.path).WithCause(err)
		}
		if tell != s.seekPos {
			return vfderrors.New(vfderrors.CodeReopenFailed, "FileAccess").
				WithPath(s.path).
				WithMessage("remote append position drifted since eviction")
		}
		return nil
	}

	_, err := c.backendFor(s).Seek(s.handle, s.seekPos, backend.SeekSet)
	if err != nil {
		return vfderrors.New(vfderrors.CodeBackendIO, "FileAccess").WithPath(s.path).WithCause(err)
	}
	return nil
}

// --- read/write/seek/tell/sync/truncate -------------------------------

// Read performs a single read, retrying once on EINTR only if retryIntr is
// set (file_read_intr vs file_read, spec §4.2/§5).
func (c *Cache) Read(idx int, buf []byte, retryIntr bool, allocatedDescs int) (int, error) {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return 0, err
	}
	retried := false
	for {
		n, err := c.backendFor(s).Read(s.handle, buf)
		if err != nil {
			if retryIntr && !retried && isEINTR(err) {
				retried = true
				continue
			}
			s.seekPos = unknownSeekPos
			return n, local.WrapIOError("Read", s.path, err)
		}
		s.seekPos += int64(n)
		return n, nil
	}
}

// Write writes buf, retrying unconditionally on EINTR (spec §4.2/§5), and
// promoting a short write with a nil error to ENOSPC.
func (c *Cache) Write(idx int, buf []byte, allocatedDescs int) (int, error) {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return 0, err
	}
	for {
		n, err := c.backendFor(s).Write(s.handle, buf)
		if err != nil && isEINTR(err) {
			continue
		}
		if local.IsENOSPCCandidate(len(buf), n, err) {
			s.seekPos = unknownSeekPos
			return n, vfderrors.New(vfderrors.CodeBackendIO, "Write").
				WithPath(s.path).WithMessage("short write with no error, promoted to ENOSPC")
		}
		if err != nil {
			s.seekPos = unknownSeekPos
			return n, local.WrapIOError("Write", s.path, err)
		}
		s.seekPos += int64(n)
		return n, nil
	}
}

func (c *Cache) Seek(idx int, offset int64, whence int, allocatedDescs int) (int64, error) {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return 0, err
	}

	isWrite := s.openFlags&(os.O_WRONLY|os.O_RDWR) != 0
	if s.isRemote && isWrite {
		return c.seekRemoteAppend(s, offset, whence)
	}

	pos, err := c.backendFor(s).Seek(s.handle, offset, whence)
	if err != nil {
		s.seekPos = unknownSeekPos
		return 0, local.WrapIOError("Seek", s.path, err)
	}
	s.seekPos = pos
	return pos, nil
}

// seekRemoteAppend implements spec §4.3's seek row for a remote
// write-opened (append) handle: a remote append stream has no back-end
// cursor to move, so seek_pos is maintained purely in the slot, never by
// calling the back-end. SEEK_END is the one exception, since it needs the
// object's current size, which only a stat call can supply.
func (c *Cache) seekRemoteAppend(s *slot, offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case backend.SeekSet:
		base = 0
	case backend.SeekCur:
		base = s.seekPos
	case backend.SeekEnd:
		unixPath, err := router.ConvertToUnixPath(s.path)
		if err != nil {
			return 0, err
		}
		info, err := c.remote.StatAt(s.conn, unixPath)
		if err != nil {
			s.seekPos = unknownSeekPos
			return 0, local.WrapIOError("Seek", s.path, err)
		}
		base = info.Size
	default:
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "Seek").
			WithPath(s.path).WithMessage("unknown whence value")
	}
	s.seekPos = base + offset
	return s.seekPos, nil
}

func (c *Cache) Tell(idx int, allocatedDescs int) (int64, error) {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return 0, err
	}
	pos, err := c.backendFor(s).Tell(s.handle)
	if err != nil {
		s.seekPos = unknownSeekPos
		return 0, local.WrapIOError("Tell", s.path, err)
	}
	s.seekPos = pos
	return pos, nil
}

func (c *Cache) Sync(idx int, allocatedDescs int) error {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return err
	}
	if err := c.backendFor(s).Sync(s.handle); err != nil {
		s.seekPos = unknownSeekPos
		return local.WrapIOError("Sync", s.path, err)
	}
	return nil
}

func (c *Cache) Truncate(idx int, size int64, allocatedDescs int) error {
	s, err := c.access(idx, allocatedDescs)
	if err != nil {
		return err
	}
	if err := c.backendFor(s).Truncate(s.handle, size); err != nil {
		s.seekPos = unknownSeekPos
		return local.WrapIOError("Truncate", s.path, err)
	}
	s.seekPos = size
	return nil
}

// access validates idx and runs fileAccess, returning the now-physically-
// open slot.
func (c *Cache) access(idx int, allocatedDescs int) (*slot, error) {
	s, err := c.lookup(idx)
	if err != nil {
		return nil, err
	}
	if err := c.fileAccess(idx, allocatedDescs); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Cache) lookup(idx int) (*slot, error) {
	if idx <= sentinelIndex || idx >= len(c.slots) {
		return nil, vfderrors.New(vfderrors.CodeInvalidHandle, "lookup").WithHandle(idx)
	}
	s := c.slots[idx]
	if s.isFree() {
		return nil, vfderrors.New(vfderrors.CodeInvalidHandle, "lookup").WithHandle(idx)
	}
	return s, nil
}

// --- close / unlink ------------------------------------------------

// Close implements spec §4.2's "close" operation.
func (c *Cache) Close(idx int) error {
	s, err := c.lookup(idx)
	if err != nil {
		return err
	}

	if s.isPhysicallyOpen() {
		if !s.isRemote {
			c.lruRemove(idx)
			c.nfile--
		}
		if err := c.backendFor(s).Close(s.handle); err != nil && c.logger != nil {
			c.logger.Warn("vfdcache: close failed", "path", s.path, "err", err)
		}
		s.handle = nil
	}

	if s.state&flagTemporary != 0 {
		if err := c.unlinkPath(s); err != nil && c.logger != nil {
			c.logger.Warn("vfdcache: unlink of temporary file failed", "path", s.path, "err", err)
		}
	}

	c.freeSlot(idx)
	c.bumpGauges()
	if err := c.checkInvariants(); err != nil {
		panic(err)
	}
	return nil
}

// Unlink forces TEMPORARY then closes, per spec §4.2's "unlink" operation.
func (c *Cache) Unlink(idx int) error {
	s, err := c.lookup(idx)
	if err != nil {
		return err
	}
	s.state |= flagTemporary
	return c.Close(idx)
}

func (c *Cache) unlinkPath(s *slot) error {
	if s.isRemote {
		unixPath, err := router.ConvertToUnixPath(s.path)
		if err != nil {
			return err
		}
		return c.remote.UnlinkAt(s.conn, unixPath)
	}
	return c.local.Unlink(s.path)
}

// --- introspection used by the façade / allocdesc / tempfile ---------

// Path returns idx's virtual path, for callers (tempfile, façade) that
// need to re-derive a slot's identity without duplicating lookup logic.
func (c *Cache) Path(idx int) (string, error) {
	s, err := c.lookup(idx)
	if err != nil {
		return "", err
	}
	return s.path, nil
}

// SetTemporary marks idx TEMPORARY (del-on-close), per
// open_temporary_file's del_on_close flag (spec §4.5).
func (c *Cache) SetTemporary(idx int) error {
	s, err := c.lookup(idx)
	if err != nil {
		return err
	}
	s.state |= flagTemporary
	return nil
}

// SetCloseAtEOXact marks idx CLOSE_AT_EOXACT with the given creator
// subtransaction id (spec §4.5).
func (c *Cache) SetCloseAtEOXact(idx int, subID SubXactID) error {
	s, err := c.lookup(idx)
	if err != nil {
		return err
	}
	s.state |= flagCloseAtEOXact
	s.createSubID = subID
	return nil
}

// IsTemporary, IsCloseAtEOXact, CreateSubID, IsRemote let the transaction
// hooks and close_all_vfds inspect slot state without reaching into the
// package's private fields.
func (c *Cache) IsTemporary(idx int) bool     { return c.slots[idx].state&flagTemporary != 0 }
func (c *Cache) IsCloseAtEOXact(idx int) bool { return c.slots[idx].state&flagCloseAtEOXact != 0 }
func (c *Cache) CreateSubID(idx int) SubXactID { return c.slots[idx].createSubID }
func (c *Cache) IsRemote(idx int) bool         { return c.slots[idx].isRemote }
func (c *Cache) ReassignCreateSubID(idx int, parent SubXactID) {
	c.slots[idx].createSubID = parent
}

// EachVirtuallyOpen calls fn for every virtually-open slot's index, in
// ascending slot order, skipping the sentinel. Used by the transaction
// hooks and close_all_vfds (spec §4.5/§6), which need to scan the whole
// table rather than only the LRU ring.
func (c *Cache) EachVirtuallyOpen(fn func(idx int)) {
	for i := 1; i < len(c.slots); i++ {
		if c.slots[i].isVirtuallyOpen() {
			fn(i)
		}
	}
}

// CloseAllVFDs forces every virtually-open slot to kernel-closed state
// without freeing the slot (spec §6's close_all_vfds): used before a
// fork/exec boundary so the child does not inherit stale kernel fds.
func (c *Cache) CloseAllVFDs() {
	c.EachVirtuallyOpen(func(idx int) {
		s := c.slots[idx]
		if !s.isPhysicallyOpen() {
			return
		}
		tell, err := c.backendFor(s).Tell(s.handle)
		if err != nil {
			s.seekPos = unknownSeekPos
		} else {
			s.seekPos = tell
		}
		c.backendFor(s).Close(s.handle)
		s.handle = nil
		if !s.isRemote {
			c.lruRemove(idx)
			c.nfile--
		}
	})
	c.bumpGauges()
}

// CloseAllRemoteSlots closes every physically-open remote slot,
// swallowing back-end errors (spec §4.5's abort-time pass, fd.c's
// CloseAllHdfsFiles, run before the normal CLOSE_AT_EOXACT pass because
// closing a remote handle can itself touch metadata VFDs the normal pass
// would also try to close).
func (c *Cache) CloseAllRemoteSlots() {
	c.EachVirtuallyOpen(func(idx int) {
		s := c.slots[idx]
		if !s.isRemote || !s.isPhysicallyOpen() {
			return
		}
		c.remote.Close(s.handle)
		s.handle = nil
	})
}
