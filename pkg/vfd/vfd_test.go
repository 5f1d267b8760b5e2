package vfd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhwyt/vfd/internal/backend"
	"github.com/hhwyt/vfd/internal/config"
)

func newTestManager(t *testing.T) *Manager {
	cfg := config.NewDefault()
	cfg.TempDir.Root = t.TempDir()
	cfg.Limits.MaxFilesPerProcess = 200

	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func TestNewManagerAppliesDefaults(t *testing.T) {
	m := newTestManager(t)
	assert.Greater(t, m.cache.MaxSafeFDs(), 0)
}

func TestPathOpenWriteReadCloseRoundTrip(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "data.bin")

	f, err := m.PathOpen(path, backend.OpenFlags(os.O_RDWR|os.O_CREATE), 0600)
	require.NoError(t, err)

	n, err := m.Write(f, []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = m.Seek(f, 0, backend.SeekSet)
	require.NoError(t, err)

	buf := make([]byte, 7)
	n, err = m.Read(f, buf)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf[:n]))

	require.NoError(t, m.Close(f))
}

func TestFileNameOpenResolvesAgainstTempRoot(t *testing.T) {
	m := newTestManager(t)

	f, err := m.FileNameOpen("relative.dat", backend.OpenFlags(os.O_RDWR|os.O_CREATE), 0600)
	require.NoError(t, err)
	require.NoError(t, m.Close(f))

	_, statErr := os.Stat(filepath.Join(m.cfg.TempDir.Root, "relative.dat"))
	assert.NoError(t, statErr)
}

func TestOpenTemporaryFileAndAtProcExitCleanup(t *testing.T) {
	m := newTestManager(t)

	f, err := m.OpenTemporaryFile("label", 0, false, true, true, false, SubXactID(1))
	require.NoError(t, err)

	_, err = m.Write(f, []byte("scratch"))
	require.NoError(t, err)

	m.AtProcExit()

	_, err = m.Tell(f)
	assert.Error(t, err, "AtProcExit should have closed the temporary file")
}

func TestAllocateFileAndFreeFile(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "stream.dat")

	s, err := m.AllocateFile(path, os.O_RDWR|os.O_CREATE, 0600, SubXactID(1))
	require.NoError(t, err)
	require.NotNil(t, s)

	_, err = s.WriteString("x")
	require.NoError(t, err)

	require.NoError(t, m.FreeFile(s))
}

func TestAllocateDirReadDirFreeDir(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "entry.txt"), []byte("x"), 0600))

	d, err := m.AllocateDir(dir, SubXactID(1))
	require.NoError(t, err)

	found := false
	for {
		name, _, ok, err := m.ReadDir(d)
		require.NoError(t, err)
		if !ok {
			break
		}
		if name == "entry.txt" {
			found = true
		}
	}
	assert.True(t, found)

	require.NoError(t, m.FreeDir(d))
}

func TestRemovePathLocalReturnsOneOnSuccess(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "victim")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))

	rc, err := m.RemovePath(path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, rc)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestMakeDirectoryLocal(t *testing.T) {
	m := newTestManager(t)
	dir := filepath.Join(t.TempDir(), "newdir")

	require.NoError(t, m.MakeDirectory(dir, 0700))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCloseAllVFDsThenReopenTransparently(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(t.TempDir(), "f")

	f, err := m.PathOpen(path, backend.OpenFlags(os.O_RDWR|os.O_CREATE), 0600)
	require.NoError(t, err)

	m.CloseAllVFDs()

	_, err = m.Write(f, []byte("y"))
	require.NoError(t, err)
	require.NoError(t, m.Close(f))
}
