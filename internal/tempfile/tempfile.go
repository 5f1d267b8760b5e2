// Package tempfile implements the temp-file manager of spec §4.5:
// naming, creation, transaction-scoped cleanup, and the startup orphan
// sweep, grounded on fd.c's OpenTemporaryFile/PathNameCreateTemporaryFile
// and the CLOSE_AT_EOXACT bookkeeping in AtEOXact_Files/AtEOSubXact_Files.
package tempfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/hhwyt/vfd/internal/allocdesc"
	"github.com/hhwyt/vfd/internal/collaborators"
	"github.com/hhwyt/vfd/internal/metrics"
	"github.com/hhwyt/vfd/internal/vfdcache"
	"github.com/hhwyt/vfd/internal/vfderrors"
)

// TempFilesDir and TempFilePrefix are the persistent-layout constants
// spec §6 names ("<temp-root>/pgsql_tmp/pgsql_tmp_<label>...").
const (
	TempFilesDir   = "pgsql_tmp"
	TempFilePrefix = "pgsql_tmp"
)

// HasPrefix is the temp-file-name predicate (fd.c's HasTempFilePrefix)
// used by the orphan sweep's directory-entry filter. No slot-level check
// of invariant I6 uses it.
func HasPrefix(name string) bool {
	return strings.HasPrefix(name, TempFilePrefix+"_")
}

// Manager owns the in-process uniqueness counter and drives the VFD cache
// and allocated-desc table through the cleanup hooks of spec §4.5/§6. It
// is deliberately not global state (fd.c's tempFileCounter is a static):
// two Managers in the same process must not share a counter.
type Manager struct {
	cache     *vfdcache.Cache
	allocated *allocdesc.Table
	tempRoot  string
	counter   int64

	logger  collaborators.Logger
	metrics *metrics.Collector
}

// New constructs a Manager rooted at tempRoot (the configured temp
// directory, spec §6's <temp-root>).
func New(cache *vfdcache.Cache, allocated *allocdesc.Table, tempRoot string, logger collaborators.Logger, m *metrics.Collector) *Manager {
	return &Manager{cache: cache, allocated: allocated, tempRoot: tempRoot, logger: logger, metrics: m}
}

func (m *Manager) dir() string {
	return filepath.Join(m.tempRoot, TempFilesDir)
}

// buildName implements spec §4.5's naming rule. The unique form appends
// "_<pid>_<extent>.<counter>"; the non-unique form is just "_<extent>",
// a predictable, process-shareable name.
func (m *Manager) buildName(label string, extent int, unique bool) string {
	if label == "" {
		label = uuid.NewString()
	}
	if !unique {
		return fmt.Sprintf("%s_%s_%d", TempFilePrefix, label, extent)
	}
	m.counter++
	return fmt.Sprintf("%s_%s_%d_%d.%d", TempFilePrefix, label, os.Getpid(), extent, m.counter)
}

// OpenTemporaryFile implements spec §4.5/§6's open_temporary_file.
func (m *Manager) OpenTemporaryFile(label string, extent int, unique, create, delOnClose, closeAtEOXact bool, subID vfdcache.SubXactID) (int, error) {
	name := m.buildName(label, extent, unique)
	path := filepath.Join(m.dir(), name)

	flags := os.O_RDWR
	if create {
		flags |= os.O_TRUNC | os.O_CREATE
	}

	idx, err := m.cache.Open(path, flags, 0600, m.allocated.Count())
	if err != nil {
		if !isENOENT(err) {
			return 0, err
		}
		if mkErr := os.Mkdir(m.dir(), 0700); mkErr != nil && !os.IsExist(mkErr) {
			return 0, vfderrors.New(vfderrors.CodeBackendIO, "OpenTemporaryFile").
				WithPath(path).WithMessage("could not create temp directory").WithCause(mkErr)
		}
		idx, err = m.cache.Open(path, flags, 0600, m.allocated.Count())
		if err != nil {
			return 0, vfderrors.New(vfderrors.CodeBackendIO, "OpenTemporaryFile").
				WithPath(path).WithMessage("open failed even after creating temp directory").WithCause(err)
		}
	}

	if delOnClose {
		m.cache.SetTemporary(idx)
	}
	if closeAtEOXact {
		m.cache.SetCloseAtEOXact(idx, subID)
	}

	if m.metrics != nil {
		m.metrics.TempFilesCreated.Inc()
	}
	return idx, nil
}

func isENOENT(err error) bool {
	return errors.Is(err, unix.ENOENT) || os.IsNotExist(err)
}

// AtEOSubXact implements spec §4.5's per-subtransaction end: every slot
// and allocated-desc entry created by mySubID and marked CLOSE_AT_EOXACT
// is reassigned to parentSubID on commit, or closed on abort.
func (m *Manager) AtEOSubXact(isCommit bool, mySubID, parentSubID vfdcache.SubXactID) {
	var toClose []int
	m.cache.EachVirtuallyOpen(func(idx int) {
		if m.cache.IsCloseAtEOXact(idx) && m.cache.CreateSubID(idx) == mySubID {
			if isCommit {
				m.cache.ReassignCreateSubID(idx, parentSubID)
			} else {
				toClose = append(toClose, idx)
			}
		}
	})
	for _, idx := range toClose {
		if err := m.cache.Close(idx); err != nil && m.logger != nil {
			m.logger.Warn("tempfile: AtEOSubXact close failed", "idx", idx, "err", err)
		}
	}

	var descsToClose []allocdesc.Desc
	m.allocated.EachToken(func(d allocdesc.Desc) {
		subID, err := m.allocated.CreateSubID(d)
		if err != nil || subID != mySubID {
			return
		}
		if isCommit {
			m.allocated.ReassignCreateSubID(d, parentSubID)
		} else {
			descsToClose = append(descsToClose, d)
		}
	})
	for _, d := range descsToClose {
		m.allocated.FreeAny(d)
	}
}

// AtEOXact implements spec §4.5's top-level transaction end: close every
// CLOSE_AT_EOXACT slot and every allocated desc, regardless of which
// subtransaction created it.
func (m *Manager) AtEOXact() {
	var toClose []int
	m.cache.EachVirtuallyOpen(func(idx int) {
		if m.cache.IsCloseAtEOXact(idx) {
			toClose = append(toClose, idx)
		}
	})
	for _, idx := range toClose {
		if err := m.cache.Close(idx); err != nil && m.logger != nil {
			m.logger.Warn("tempfile: AtEOXact close failed", "idx", idx, "err", err)
		}
	}

	var descs []allocdesc.Desc
	m.allocated.EachToken(func(d allocdesc.Desc) { descs = append(descs, d) })
	for _, d := range descs {
		m.allocated.FreeAny(d)
	}
}

// AtXactCancel implements spec §4.5's abort path: remote handles are
// closed first, in a pass that swallows back-end errors (fd.c's
// CloseAllHdfsFiles, run ahead of the normal pass because closing a
// remote handle can itself touch metadata VFDs the normal pass would
// also try to close), then the normal top-level close pass runs.
func (m *Manager) AtXactCancel() {
	m.cache.CloseAllRemoteSlots()
	m.AtEOXact()
}

// AtProcExit implements spec §4.5/§6's process-exit hook: close every
// slot with TEMPORARY or CLOSE_AT_EOXACT set, and every allocated desc.
func (m *Manager) AtProcExit() {
	var toClose []int
	m.cache.EachVirtuallyOpen(func(idx int) {
		if m.cache.IsTemporary(idx) || m.cache.IsCloseAtEOXact(idx) {
			toClose = append(toClose, idx)
		}
	})
	for _, idx := range toClose {
		if err := m.cache.Close(idx); err != nil && m.logger != nil {
			m.logger.Warn("tempfile: AtProcExit close failed", "idx", idx, "err", err)
		}
	}

	var descs []allocdesc.Desc
	m.allocated.EachToken(func(d allocdesc.Desc) { descs = append(descs, d) })
	for _, d := range descs {
		m.allocated.FreeAny(d)
	}
}

// RemovePgTempFiles implements spec §4.5/§6's orphan sweep: every entry
// in the temp subdirectory matching HasPrefix is unlinked; everything
// else is logged and left alone.
func (m *Manager) RemovePgTempFiles() error {
	entries, err := os.ReadDir(m.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return vfderrors.New(vfderrors.CodeBackendIO, "RemovePgTempFiles").WithPath(m.dir()).WithCause(err)
	}

	for _, e := range entries {
		if !HasPrefix(e.Name()) {
			if m.logger != nil {
				m.logger.Info("tempfile: orphan sweep found non-matching entry, leaving it", "name", e.Name())
			}
			continue
		}
		full := filepath.Join(m.dir(), e.Name())
		if err := os.Remove(full); err != nil {
			if m.logger != nil {
				m.logger.Warn("tempfile: orphan sweep failed to remove entry", "name", e.Name(), "err", err)
			}
		} else if m.metrics != nil {
			m.metrics.TempFilesCleaned.Inc()
		}
	}
	return nil
}
