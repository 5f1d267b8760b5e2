package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultValidates(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsZeroMaxFilesPerProcess(t *testing.T) {
	cfg := NewDefault()
	cfg.Limits.MaxFilesPerProcess = 0
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSyncMethod(t *testing.T) {
	cfg := NewDefault()
	cfg.Limits.SyncMethod = "bogus"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyTempRoot(t *testing.T) {
	cfg := NewDefault()
	cfg.TempDir.Root = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveReplicaOrTimeout(t *testing.T) {
	cfg := NewDefault()
	cfg.Remote.DefaultReplica = 0
	assert.Error(t, cfg.Validate())

	cfg = NewDefault()
	cfg.Remote.DialTimeout = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadParsesYAMLAndAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vfd.yaml")
	contents := "limits:\n  max_files_per_process: 500\n  sync_method: fsync\ntemp_dir:\n  root: \"/data\"\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.Limits.MaxFilesPerProcess)
	assert.Equal(t, "fsync", cfg.Limits.SyncMethod)
	assert.Equal(t, "/data", cfg.TempDir.Root)
	// Remote section was absent from the YAML; Load starts from NewDefault
	// and yaml.Unmarshal only overwrites keys it finds, so the Remote
	// defaults survive and validation still passes.
	assert.NoError(t, cfg.Validate())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
