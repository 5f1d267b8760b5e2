// Package backend defines the back-end adapter contract spec §4.3 requires:
// one set of operations, two implementations (local POSIX, remote),
// dispatched by the façade based on the VFD slot's tag.
package backend

import "os"

// OpenFlags mirrors the subset of os.O_* flags the VFD layer understands.
// Kept as a plain int (not a named bit type) so callers can pass os.O_*
// constants directly, as fd.c passes raw POSIX flags.
type OpenFlags = int

// SanitizeFlags strips O_CREAT|O_TRUNC|O_EXCL from flags so the result is
// safe to use for a re-open after eviction (spec §3, VFD slot "open_flags").
func SanitizeFlags(flags OpenFlags) OpenFlags {
	return flags &^ (os.O_CREATE | os.O_TRUNC | os.O_EXCL)
}

// Whence values match io.Seeker's (SEEK_SET/SEEK_CUR/SEEK_END), reused
// directly rather than redefined.
const (
	SeekSet = 0
	SeekCur = 1
	SeekEnd = 2
)

// Backend is the contract common to the local and remote adapters, once a
// physical Handle already exists: read/write/seek/tell/truncate/sync/close,
// exactly spec §4.3's table minus Open. Path-based creation operations
// (open, unlink, mkdir, chmod, stat, listdir) are NOT part of this
// interface because the local and remote adapters need fundamentally
// different inputs to perform them — local needs only a path, remote needs
// a path plus an already-resolved pooled Connection (internal/pool). The
// façade (pkg/vfd) classifies a path once via internal/router and calls
// either local.Backend's path-based methods or remote.Backend's
// connection-bound *At methods directly; everything downstream of a
// successful open (read/write/seek/.../close, and the re-open-on-eviction
// path in internal/vfdcache) only ever needs a Handle and this interface.
type Backend interface {
	Read(h Handle, buf []byte) (int, error)
	Write(h Handle, buf []byte) (int, error)
	Seek(h Handle, offset int64, whence int) (int64, error)
	Tell(h Handle) (int64, error)
	Truncate(h Handle, size int64) error
	Sync(h Handle) error
	Close(h Handle) error

	// IsLocal reports whether this Backend participates in the LRU ring
	// (spec invariant I4: remote slots never appear in the ring).
	IsLocal() bool
}

// Handle is an opaque physical handle returned by Open. Its concrete type
// is back-end specific; callers must not inspect it, only pass it back to
// the same Backend.
type Handle interface {
	// Closed reports whether the underlying physical resource has already
	// been released (defensive against double-close during cleanup races).
	Closed() bool
}

// Info is the subset of remote/local stat metadata the VFD layer needs.
type Info struct {
	Name  string
	Size  int64
	IsDir bool
}
