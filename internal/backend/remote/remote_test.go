package remote

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/vfderrors"
)

type fakeHandle struct {
	data   []byte
	pos    int64
	synced bool
	closed bool
}

func (h *fakeHandle) Read(buf []byte) (int, error) {
	n := copy(buf, h.data[h.pos:])
	h.pos += int64(n)
	return n, nil
}
func (h *fakeHandle) Write(buf []byte) (int, error) {
	h.data = append(h.data, buf...)
	return len(buf), nil
}
func (h *fakeHandle) Seek(offset int64, whence int) (int64, error) {
	h.pos = offset
	return h.pos, nil
}
func (h *fakeHandle) Tell() (int64, error) { return h.pos, nil }
func (h *fakeHandle) Sync() error          { h.synced = true; return nil }
func (h *fakeHandle) Close() error         { h.closed = true; return nil }

type fakeConn struct {
	handles map[string]*fakeHandle
	mkdirs  []string
	chmods  []string
}

func newFakeConn() *fakeConn { return &fakeConn{handles: make(map[string]*fakeHandle)} }

func (c *fakeConn) Open(path string, flags backend.OpenFlags, mode os.FileMode, replica int) (FileHandle, error) {
	h, ok := c.handles[path]
	if !ok {
		h = &fakeHandle{}
		c.handles[path] = h
	}
	// Mimic a backend that positions a freshly (re)opened handle at the
	// current end of data, the same contract Truncate's reopen-then-verify
	// sequence relies on.
	h.pos = int64(len(h.data))
	return h, nil
}
func (c *fakeConn) Truncate(path string, size int64) error {
	h := c.handles[path]
	h.data = h.data[:size]
	return nil
}
func (c *fakeConn) Chmod(path string, mode os.FileMode) error { c.chmods = append(c.chmods, path); return nil }
func (c *fakeConn) Delete(path string) error                  { delete(c.handles, path); return nil }
func (c *fakeConn) Mkdir(path string, mode os.FileMode) error { c.mkdirs = append(c.mkdirs, path); return nil }
func (c *fakeConn) ListDir(path string) ([]backend.Info, error) { return nil, nil }
func (c *fakeConn) Stat(path string) (backend.Info, error)      { return backend.Info{}, nil }

func TestOpenAtForcesAppendOnWriteAndRunsSyncChmodOnCreate(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()

	h, err := b.OpenAt(conn, "/obj", os.O_WRONLY|os.O_CREATE, 0600, 3)
	require.NoError(t, err)

	fh := conn.handles["/obj"]
	assert.True(t, fh.synced)
	assert.Contains(t, conn.chmods, "/obj")
	assert.NotNil(t, h)
}

// Backend.Seek is a defensive guard at this layer only: a remote
// write-append handle has no back-end cursor to move, so calling Seek
// directly on it (bypassing internal/vfdcache's logical seek_pos
// tracking) is always a bug, not a supported path. internal/vfdcache's
// Cache.Seek never reaches this for a remote-write slot; it answers
// seek_pos from the slot itself instead, per spec §4.3's seek row.
func TestWriteAppendHandleRejectsDirectSeekAtBackendLayer(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()
	h, err := b.OpenAt(conn, "/obj", os.O_WRONLY, 0600, 0)
	require.NoError(t, err)

	_, err = b.Seek(h, 0, backend.SeekSet)
	require.Error(t, err)
	ve, ok := err.(*vfderrors.Error)
	require.True(t, ok)
	assert.Equal(t, vfderrors.CodeBackendIO, ve.Code)
}

func TestReadHandleSeekIsAllowed(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()
	conn.handles["/obj"] = &fakeHandle{data: []byte("hello")}

	h, err := b.OpenAt(conn, "/obj", os.O_RDONLY, 0600, 0)
	require.NoError(t, err)

	pos, err := b.Seek(h, 2, backend.SeekSet)
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
}

func TestTruncateClosesTruncatesReopensAndVerifiesTell(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()
	conn.handles["/obj"] = &fakeHandle{data: []byte("hello world")}

	h, err := b.OpenAt(conn, "/obj", os.O_RDONLY, 0600, 0)
	require.NoError(t, err)

	err = b.Truncate(h, 5)
	require.NoError(t, err)

	tell, err := b.Tell(h)
	require.NoError(t, err)
	assert.Equal(t, int64(5), tell)
}

func TestCloseIsIdempotent(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()
	h, err := b.OpenAt(conn, "/obj", os.O_WRONLY, 0600, 0)
	require.NoError(t, err)

	require.NoError(t, b.Close(h))
	require.NoError(t, b.Close(h))
}

func TestUnlinkMkdirChmodDelegateToConnection(t *testing.T) {
	b := New(nil)
	conn := newFakeConn()

	require.NoError(t, b.MkdirAt(conn, "/dir", 0700))
	assert.Contains(t, conn.mkdirs, "/dir")

	require.NoError(t, b.UnlinkAt(conn, "/obj"))
	require.NoError(t, b.ChmodAt(conn, "/obj", 0600))
	assert.Contains(t, conn.chmods, "/obj")
}
