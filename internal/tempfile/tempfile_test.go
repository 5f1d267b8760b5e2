package tempfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hhwyt/vfd/internal/allocdesc"
	"github.com/hhwyt/vfd/internal/backend/local"
	"github.com/hhwyt/vfd/internal/vfdcache"
)

func newTestManager(t *testing.T) (*Manager, *vfdcache.Cache, *allocdesc.Table, string) {
	root := t.TempDir()
	lb := local.New(local.SyncFdatasync, nil, nil)
	cache := vfdcache.New(lb, nil, nil, nil, nil, nil)
	cache.SetMaxSafeFDs(100)
	allocated := allocdesc.New(lb, nil, nil, nil)
	m := New(cache, allocated, root, nil, nil)
	return m, cache, allocated, root
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix("pgsql_tmp_1234.0"))
	assert.False(t, HasPrefix("other_file"))
}

func TestOpenTemporaryFileCreatesDirectoryOnDemand(t *testing.T) {
	m, cache, _, root := newTestManager(t)

	idx, err := m.OpenTemporaryFile("mylabel", 0, false, true, true, false, vfdcache.SubXactID(1))
	require.NoError(t, err)

	path, err := cache.Path(idx)
	require.NoError(t, err)
	assert.Contains(t, path, TempFilesDir)
	assert.True(t, cache.IsTemporary(idx))

	_, err = os.Stat(filepath.Join(root, TempFilesDir))
	require.NoError(t, err)

	require.NoError(t, cache.Close(idx))
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "del-on-close temp file should be unlinked after Close")
}

func TestOpenTemporaryFileUniqueNamesDoNotCollide(t *testing.T) {
	m, cache, _, _ := newTestManager(t)

	idx1, err := m.OpenTemporaryFile("", 0, true, true, false, false, vfdcache.SubXactID(1))
	require.NoError(t, err)
	idx2, err := m.OpenTemporaryFile("", 0, true, true, false, false, vfdcache.SubXactID(1))
	require.NoError(t, err)

	p1, _ := cache.Path(idx1)
	p2, _ := cache.Path(idx2)
	assert.NotEqual(t, p1, p2)

	require.NoError(t, cache.Close(idx1))
	require.NoError(t, cache.Close(idx2))
}

func TestAtEOSubXactReassignsOnCommitAndClosesOnAbort(t *testing.T) {
	m, cache, _, _ := newTestManager(t)

	committed, err := m.OpenTemporaryFile("keep", 0, false, true, false, true, vfdcache.SubXactID(2))
	require.NoError(t, err)
	aborted, err := m.OpenTemporaryFile("drop", 0, false, true, false, true, vfdcache.SubXactID(3))
	require.NoError(t, err)

	m.AtEOSubXact(true, vfdcache.SubXactID(2), vfdcache.SubXactID(1))
	assert.Equal(t, vfdcache.SubXactID(1), cache.CreateSubID(committed))

	m.AtEOSubXact(false, vfdcache.SubXactID(3), vfdcache.SubXactID(1))
	_, err = cache.Tell(aborted, 0)
	assert.Error(t, err, "aborted subtransaction's CLOSE_AT_EOXACT file should be closed")

	require.NoError(t, cache.Close(committed))
}

func TestAtEOXactClosesEveryCloseAtEOXactSlot(t *testing.T) {
	m, cache, _, _ := newTestManager(t)

	idx, err := m.OpenTemporaryFile("x", 0, false, true, false, true, vfdcache.SubXactID(1))
	require.NoError(t, err)

	m.AtEOXact()
	_, err = cache.Tell(idx, 0)
	assert.Error(t, err)
}

func TestRemovePgTempFilesSweepsOrphans(t *testing.T) {
	m, _, _, root := newTestManager(t)
	tmpDir := filepath.Join(root, TempFilesDir)
	require.NoError(t, os.MkdirAll(tmpDir, 0700))

	orphan := filepath.Join(tmpDir, "pgsql_tmp_orphan_1")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0600))
	stranger := filepath.Join(tmpDir, "not_a_temp_file")
	require.NoError(t, os.WriteFile(stranger, []byte("y"), 0600))

	require.NoError(t, m.RemovePgTempFiles())

	_, err := os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(stranger)
	assert.NoError(t, err, "non-matching entries must be left alone")
}

func TestRemovePgTempFilesToleratesMissingDirectory(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	require.NoError(t, m.RemovePgTempFiles())
}
