// Package remote implements the remote back-end adapter of spec §4.3. The
// actual wire protocol is an out-of-scope collaborator (spec §1); this
// package defines the Connection/FileHandle contract that collaborator
// must satisfy and adapts it to the backend.Backend interface, including
// the append-only write-seek restriction and the
// close-truncate-reopen-verify sequence spec §4.3 requires.
package remote

import (
	"os"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/vfderrors"
)

// FileHandle is the per-open-file contract a remote filesystem client
// library must expose, mirroring spec §1's
// "open/read/write/seek/tell/close/sync" subset.
type FileHandle interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	// Seek is only ever called by this package for read-opened handles;
	// spec §4.3 forbids calling it for write-opened handles.
	Seek(offset int64, whence int) (int64, error)
	Tell() (int64, error)
	Sync() error
	Close() error
}

// Connection is the per-endpoint contract (spec §1's
// "connect/.../chmod/delete/mkdir/listdir/stat" subset, minus connect,
// which is the pool's Dial).
type Connection interface {
	Open(path string, flags backend.OpenFlags, mode os.FileMode, replica int) (FileHandle, error)
	Truncate(path string, size int64) error
	Chmod(path string, mode os.FileMode) error
	Delete(path string) error
	Mkdir(path string, mode os.FileMode) error
	ListDir(path string) ([]backend.Info, error)
	Stat(path string) (backend.Info, error)
}

// Pool resolves a path to a pooled Connection. Implemented by
// internal/pool.Pool; declared here as the minimal interface this package
// needs, so remote does not import pool (pool imports remote for the
// Connection type, so the reverse import would be a cycle).
type Pool interface {
	Get(protocol, host string, port int) (Connection, error)
}

// Backend is the remote adapter. It does not itself classify paths —
// callers (the façade) pass the already-classified unix path plus the
// resolved Connection.
type Backend struct {
	pool Pool
}

func New(pool Pool) *Backend {
	return &Backend{pool: pool}
}

func (b *Backend) IsLocal() bool { return false }

// Resolve looks up the pooled Connection for (protocol, host, port).
func (b *Backend) Resolve(protocol, host string, port int) (Connection, error) {
	return b.pool.Get(protocol, host, port)
}

// handle bundles the remote FileHandle with the bookkeeping Truncate and
// re-open need: the owning connection, path, and the flags/mode the file
// was opened with (sanitized, for re-open).
type handle struct {
	conn    Connection
	fh      FileHandle
	path    string
	flags   backend.OpenFlags
	mode    os.FileMode
	replica int
	closed  bool
}

func (h *handle) Closed() bool { return h.closed }

// OpenAt opens path (already converted to the remote FS's native form) on
// the given connection. Write opens are forced O_APPEND, per spec §4.2's
// "for remote write, force O_APPEND" and §9's documented rationale: a
// remote slot is re-opened by appending, never by seeking to an arbitrary
// offset and overwriting, so any write-opened remote handle that is not
// append-only is a back-end bug, not a VFD one.
func (b *Backend) OpenAt(conn Connection, path string, flags backend.OpenFlags, mode os.FileMode, replica int) (backend.Handle, error) {
	isWrite := flags&(os.O_WRONLY|os.O_RDWR) != 0
	if isWrite {
		flags |= os.O_APPEND
	}

	fh, err := conn.Open(path, flags, mode, replica)
	if err != nil {
		return nil, err
	}

	if flags&os.O_CREATE != 0 {
		if err := fh.Sync(); err != nil {
			fh.Close()
			return nil, err
		}
		if err := conn.Chmod(path, mode); err != nil {
			fh.Close()
			return nil, err
		}
	}

	return &handle{conn: conn, fh: fh, path: path, flags: backend.SanitizeFlags(flags) | boolToAppend(isWrite), mode: mode, replica: replica}, nil
}

func boolToAppend(isWrite bool) backend.OpenFlags {
	if isWrite {
		return os.O_APPEND
	}
	return 0
}

func (b *Backend) Read(h backend.Handle, buf []byte) (int, error) {
	return h.(*handle).fh.Read(buf)
}

func (b *Backend) Write(h backend.Handle, buf []byte) (int, error) {
	return h.(*handle).fh.Write(buf)
}

// Seek is only valid for read-opened remote handles, per spec §4.3: write-
// opened files have no physically supported seek.
func (b *Backend) Seek(h backend.Handle, offset int64, whence int) (int64, error) {
	hh := h.(*handle)
	if hh.flags&os.O_APPEND != 0 {
		return 0, vfderrors.New(vfderrors.CodeBackendIO, "Seek").
			WithPath(hh.path).WithMessage("seek not supported on a write-append remote handle")
	}
	return hh.fh.Seek(offset, whence)
}

func (b *Backend) Tell(h backend.Handle) (int64, error) {
	return h.(*handle).fh.Tell()
}

// Truncate implements spec §4.3's close-truncate-reopen-verify sequence.
func (b *Backend) Truncate(h backend.Handle, size int64) error {
	hh := h.(*handle)

	if err := hh.fh.Close(); err != nil {
		return err
	}

	if err := hh.conn.Truncate(hh.path, size); err != nil {
		return err
	}

	fh, err := hh.conn.Open(hh.path, hh.flags, hh.mode, hh.replica)
	if err != nil {
		return vfderrors.New(vfderrors.CodeReopenFailed, "Truncate").
			WithPath(hh.path).WithCause(err)
	}
	hh.fh = fh

	tell, err := fh.Tell()
	if err != nil {
		return vfderrors.New(vfderrors.CodeBackendIO, "Truncate").WithPath(hh.path).WithCause(err)
	}
	if tell != size {
		return vfderrors.New(vfderrors.CodePositionMismatch, "Truncate").
			WithPath(hh.path).
			WithMessage("tell() != truncated size after reopen")
	}
	return nil
}

func (b *Backend) Sync(h backend.Handle) error {
	return h.(*handle).fh.Sync()
}

func (b *Backend) Close(h backend.Handle) error {
	hh := h.(*handle)
	if hh.closed {
		return nil
	}
	err := hh.fh.Close()
	hh.closed = true
	return err
}

// UnlinkAt, MkdirAt, ChmodAt, StatAt, ListDirAt are the connection-bound
// path operations, used by the façade once it has already resolved a
// path's pooled connection via internal/pool.
func (b *Backend) UnlinkAt(conn Connection, path string) error { return conn.Delete(path) }
func (b *Backend) MkdirAt(conn Connection, path string, mode os.FileMode) error {
	return conn.Mkdir(path, mode)
}
func (b *Backend) ChmodAt(conn Connection, path string, mode os.FileMode) error {
	return conn.Chmod(path, mode)
}
func (b *Backend) StatAt(conn Connection, path string) (backend.Info, error) {
	return conn.Stat(path)
}
func (b *Backend) ListDirAt(conn Connection, path string) ([]backend.Info, error) {
	return conn.ListDir(path)
}
