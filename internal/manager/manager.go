// Package manager implements the filter manager: the registry of named
// Bloom filters, the take/return reference-counting discipline that
// guards concurrent access to each one, the hot set consumed by a
// background flusher, and the create/drop/flush/unmap/check/set
// operations exposed to callers.
//
// Lock acquisition order, honored by every call site that holds more
// than one of these at once: create serializer -> registry lock ->
// handle reader/writer lock -> hot lock.
package manager

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bloomd/bloomd/internal/bloomfilter"
	"github.com/bloomd/bloomd/internal/bloomlog"
	"github.com/bloomd/bloomd/internal/config"
	"github.com/bloomd/bloomd/internal/observability"
)

// dirPrefix is the fixed prefix of an on-disk filter directory's name.
const dirPrefix = "bloomd."

// minDirNameLen is the shortest legal on-disk directory name: the
// prefix plus at least one character of filter name.
const minDirNameLen = len(dirPrefix) + 1

// Manager owns the registry of filter handles, the create serializer,
// and the hot set.
type Manager struct {
	cfg     config.ManagerConfig
	metrics observability.MetricsRecorder

	mu      sync.Mutex // registry lock: guards filters, refCount, isActive
	filters map[string]*handle

	createMu sync.Mutex // create serializer

	hot hotSet
}

// New constructs a Manager and runs discovery against cfg.DataDir
// before returning, so the manager never admits a concurrent caller
// before its registry reflects on-disk state.
func New(cfg config.ManagerConfig, metrics observability.MetricsRecorder) *Manager {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	m := &Manager{
		cfg:     cfg,
		metrics: metrics,
		filters: make(map[string]*handle),
	}
	m.discover()
	return m
}

// discover scans cfg.DataDir once, at construction, for existing filter
// directories and loads each one. It is deliberately not safe to call
// concurrently with any other Manager method; New calls it before
// returning, when no caller can yet hold a reference to m.
func (m *Manager) discover() {
	entries, err := os.ReadDir(m.cfg.DataDir)
	if err != nil {
		bloomlog.WARN("discovery: scan %s failed: %v", m.cfg.DataDir, err)
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if len(name) < minDirNameLen || !strings.HasPrefix(name, dirPrefix) {
			continue
		}
		filterName := strings.TrimPrefix(name, dirPrefix)
		if err := m.addFilter(filterName, nil, false); err != nil {
			bloomlog.WARN("discovery: load %s failed: %v", name, err)
		}
	}
}

// defaultParams returns override if non-nil, else the manager's default
// Bloom filter parameters.
func (m *Manager) defaultParams(override *bloomfilter.Params) bloomfilter.Params {
	if override != nil {
		return *override
	}
	return bloomfilter.Params{
		ExpectedItems:     m.cfg.ExpectedItems,
		FalsePositiveRate: m.cfg.FalsePositiveRate,
	}
}

func (m *Manager) filterDir(name string) string {
	return filepath.Join(m.cfg.DataDir, dirPrefix+name)
}

// addFilter initializes and registers a new handle for name. Shared by
// Create and discover; createIfAbsent is true for Create (the directory
// may not exist yet) and false for discover (the directory must already
// be there, since we are iterating it).
func (m *Manager) addFilter(name string, override *bloomfilter.Params, createIfAbsent bool) error {
	params := m.defaultParams(override)
	f, err := bloomfilter.Init(params, m.filterDir(name), createIfAbsent)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCreateFailed, err)
	}

	h := newHandle(f)

	m.mu.Lock()
	m.filters[name] = h
	m.mu.Unlock()
	return nil
}

// take resolves name to a handle and increments its reference count.
// Returns ErrNoSuchFilter if name is absent or inactive.
func (m *Manager) take(name string) (*handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.filters[name]
	if !ok || !h.isActive {
		return nil, ErrNoSuchFilter
	}
	h.refCount++
	return h, nil
}

// returnHandle decrements name's reference count and, if it reaches
// zero, unlinks the handle and destroys the underlying filter outside
// the registry lock.
func (m *Manager) returnHandle(name string) {
	m.mu.Lock()
	h, ok := m.filters[name]
	if !ok {
		m.mu.Unlock()
		// The caller is required to hold a reference, so the name must
		// still resolve. A miss here is a programming error, not a
		// basis for destruction (see the open question this resolves
		// in DESIGN.md).
		bloomlog.BUG("return: %q not found in registry", name)
		return
	}

	h.refCount--
	destroy := h.refCount <= 0
	if destroy {
		delete(m.filters, name)
	}
	m.mu.Unlock()

	if destroy {
		if err := h.filter.Destroy(); err != nil {
			bloomlog.ERR("destroy %q: %v", name, err)
		}
	}
}

func (m *Manager) markHot(name string) {
	m.hot.mark(name)
}

// DrainHot atomically swaps out the hot set and returns the names that
// had been marked since the last drain. Intended for the background
// flusher.
func (m *Manager) DrainHot() []string {
	return m.hot.drain()
}

// NumFilters returns the current registry size.
func (m *Manager) NumFilters() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.filters)
	m.metrics.RecordNumFilters(n)
	return n
}

// Create registers a new filter under name. override, if non-nil,
// replaces the manager's default Bloom filter parameters for this
// filter only.
func (m *Manager) Create(name string, override *bloomfilter.Params) error {
	start := time.Now()
	err := m.create(name, override)
	m.metrics.RecordOperation("create", time.Since(start), err)
	return err
}

func (m *Manager) create(name string, override *bloomfilter.Params) error {
	m.createMu.Lock()
	defer m.createMu.Unlock()

	m.mu.Lock()
	_, exists := m.filters[name]
	m.mu.Unlock()
	if exists {
		return ErrAlreadyExists
	}

	return m.addFilter(name, override, true)
}

// Drop marks name inactive and releases the manager's own reference.
// The handle is destroyed once every in-flight operation on name has
// returned.
func (m *Manager) Drop(name string) error {
	start := time.Now()
	err := m.drop(name)
	m.metrics.RecordOperation("drop", time.Since(start), err)
	return err
}

func (m *Manager) drop(name string) error {
	h, err := m.take(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	h.refCount--
	h.isActive = false
	m.mu.Unlock()

	m.returnHandle(name)
	return nil
}

// Check probes keys against name's filter and reports, for each one in
// order, whether it may be present.
func (m *Manager) Check(name string, keys [][]byte) ([]bool, error) {
	start := time.Now()
	m.metrics.RecordBatchSize("check", len(keys))
	results, err := m.keyedOp(name, keys, false)
	m.metrics.RecordOperation("check", time.Since(start), err)
	return results, err
}

// Set adds keys to name's filter and reports, for each one in order,
// whether it was newly added.
func (m *Manager) Set(name string, keys [][]byte) ([]bool, error) {
	start := time.Now()
	m.metrics.RecordBatchSize("set", len(keys))
	results, err := m.keyedOp(name, keys, true)
	m.metrics.RecordOperation("set", time.Since(start), err)
	return results, err
}

func (m *Manager) keyedOp(name string, keys [][]byte, write bool) ([]bool, error) {
	h, err := m.take(name)
	if err != nil {
		return nil, err
	}

	if write {
		h.rw.Lock()
	} else {
		h.rw.RLock()
	}

	out := make([]bool, len(keys))
	for i, k := range keys {
		if write {
			out[i] = h.filter.Add(k)
		} else {
			out[i] = h.filter.Contains(k)
		}
	}

	if write {
		h.rw.Unlock()
	} else {
		h.rw.RUnlock()
	}

	m.markHot(name)
	m.returnHandle(name)
	return out, nil
}

// Flush invokes the underlying filter's flush. It takes the handle's
// reader lock, not the writer lock: the underlying filter serializes
// its own write discipline internally, and from the manager's view
// flush does not mutate externally observable state.
func (m *Manager) Flush(name string) error {
	start := time.Now()
	err := m.flushOrUnmap(name, false)
	m.metrics.RecordOperation("flush", time.Since(start), err)
	return err
}

// Unmap releases the underlying filter's in-memory buffers while
// leaving it registered; a later operation transparently reopens it.
func (m *Manager) Unmap(name string) error {
	start := time.Now()
	err := m.flushOrUnmap(name, true)
	m.metrics.RecordOperation("unmap", time.Since(start), err)
	return err
}

func (m *Manager) flushOrUnmap(name string, unmap bool) error {
	h, err := m.take(name)
	if err != nil {
		return err
	}

	var opErr error
	if unmap {
		h.rw.Lock()
		opErr = h.filter.Close()
		h.rw.Unlock()
	} else {
		h.rw.RLock()
		opErr = h.filter.Flush()
		h.rw.RUnlock()
	}

	if !unmap {
		m.markHot(name)
	}
	m.returnHandle(name)
	return opErr
}

// Teardown closes and destroys every registered filter. It assumes all
// external callers have quiesced; a refcount still above the registry's
// own reference at this point indicates a caller never returned its
// reference.
func (m *Manager) Teardown() {
	m.mu.Lock()
	filters := m.filters
	m.filters = make(map[string]*handle)
	m.mu.Unlock()

	for name, h := range filters {
		if h.refCount > 1 {
			bloomlog.BUG("teardown: %q still has %d outstanding references", name, h.refCount-1)
		}
		if err := h.filter.Destroy(); err != nil {
			bloomlog.ERR("teardown: destroy %q: %v", name, err)
		}
	}
}
