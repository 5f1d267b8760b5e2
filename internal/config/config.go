// Package config loads the finalized configuration the VFD layer is
// initialized with: max_files_per_process, the temp-file root, and
// per-protocol remote dial settings. Configuration loading itself is named
// an out-of-scope collaborator by spec §1 ("the core reads a finalized
// max_files_per_process") — this package is the thing that produces that
// finalized value for a standalone binary; a caller embedding the VFD
// layer inside a larger process may simply construct a Configuration
// literal instead of calling Load.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// Configuration is the complete set of tunables for a vfd.Manager.
type Configuration struct {
	Limits  LimitsConfig  `yaml:"limits"`
	TempDir TempDirConfig `yaml:"temp_dir"`
	Remote  RemoteConfig  `yaml:"remote"`
	Logging LoggingConfig `yaml:"logging"`
}

// LimitsConfig bounds how many kernel descriptors this process may hold.
type LimitsConfig struct {
	// MaxFilesPerProcess is the ceiling set_max_safe_fds probes against.
	MaxFilesPerProcess int `yaml:"max_files_per_process"`
	// SyncMethod selects how the local back-end durably flushes a write:
	// "fsync", "fdatasync", or "writethrough" (pg_fsync / pg_fsync_no_writethrough
	// / pg_fsync_writethrough in fd.c).
	SyncMethod string `yaml:"sync_method"`
}

// TempDirConfig locates the temp-file root.
type TempDirConfig struct {
	// Root is the directory under which "<PG_TEMP_FILES_DIR>" is created,
	// e.g. a database's data directory.
	Root string `yaml:"root"`
}

// RemoteConfig carries a default replica count, one dial timeout, and
// per-protocol dial settings keyed by protocol name. Only Protocols is
// read when dialing (pkg/vfd's default s3 dialer); DefaultReplica and
// DialTimeout are validated but not otherwise used.
type RemoteConfig struct {
	DefaultReplica int                      `yaml:"default_replica"`
	DialTimeout    time.Duration            `yaml:"dial_timeout"`
	Protocols      map[string]ProtocolConfig `yaml:"protocols"`
}

// ProtocolConfig is per-protocol remote dial configuration, e.g. S3
// endpoint/region/bucket for "s3://".
type ProtocolConfig struct {
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	Bucket   string `yaml:"bucket"`
}

// LoggingConfig names a log level and output format. vfd.NewManager does
// not read it: the default collaborators.Logger always writes text at
// INFO level.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// NewDefault returns the configuration spec §6 names as defaults:
// max_files_per_process=1000, FD_MINFREE/NUM_RESERVED_FDS live in
// internal/budget as constants rather than here since they are not
// operator-tunable.
func NewDefault() *Configuration {
	return &Configuration{
		Limits: LimitsConfig{
			MaxFilesPerProcess: 1000,
			SyncMethod:         "fdatasync",
		},
		TempDir: TempDirConfig{
			Root: ".",
		},
		Remote: RemoteConfig{
			DefaultReplica: 3,
			DialTimeout:    10 * time.Second,
			Protocols:      make(map[string]ProtocolConfig),
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}

// Load reads and unmarshals a YAML configuration file on top of
// NewDefault, so defaults apply to every key the file omits.
func Load(path string) (*Configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency, following
// the teacher's Validate-method-chain style.
func (c *Configuration) Validate() error {
	if err := c.Limits.validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}
	if err := c.TempDir.validate(); err != nil {
		return fmt.Errorf("temp_dir: %w", err)
	}
	if err := c.Remote.validate(); err != nil {
		return fmt.Errorf("remote: %w", err)
	}
	return nil
}

func (l LimitsConfig) validate() error {
	if l.MaxFilesPerProcess <= 0 {
		return fmt.Errorf("max_files_per_process must be positive, got %d", l.MaxFilesPerProcess)
	}
	switch l.SyncMethod {
	case "fsync", "fdatasync", "writethrough":
	default:
		return fmt.Errorf("unknown sync_method %q", l.SyncMethod)
	}
	return nil
}

func (t TempDirConfig) validate() error {
	if t.Root == "" {
		return fmt.Errorf("root must not be empty")
	}
	if !filepath.IsAbs(t.Root) && t.Root != "." {
		// Relative roots are allowed (interpreted relative to the process'
		// working directory, mirroring LocalPathNameOpenFile's contract),
		// but must still be a clean path.
		if filepath.Clean(t.Root) != t.Root {
			return fmt.Errorf("root %q is not a clean path", t.Root)
		}
	}
	return nil
}

func (r RemoteConfig) validate() error {
	if r.DefaultReplica <= 0 {
		return fmt.Errorf("default_replica must be positive, got %d", r.DefaultReplica)
	}
	if r.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}
	return nil
}
