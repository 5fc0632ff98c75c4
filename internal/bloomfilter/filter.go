// Package bloomfilter implements the probabilistic set-membership
// structure consumed by the filter manager. It is the manager's
// "underlying filter": it owns its own on-disk representation and has
// no knowledge of names, registries, or reference counts.
package bloomfilter

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/bloomd/bloomd/internal/bloomlog"
)

const (
	dataFileName = "filter.dat"
	magic        = uint32(0xB10042D)
	formatVer    = uint32(1)
	headerSize   = 4 + 4 + 8 + 4 + 8 // magic, version, numBits, numHashes, itemCount
)

// Params sizes a new filter: how many items it is expected to hold and
// the target false-positive rate at that load.
type Params struct {
	ExpectedItems     uint64
	FalsePositiveRate float64
}

// Filter is a bit-array Bloom filter backed by a directory on disk.
// Reads and writes of the bit array are not safe for concurrent use by
// themselves: the manager serializes those through its handle's
// reader/writer lock (many concurrent Contains/Flush, or one exclusive
// Add/Close). The lazy reopen in ensureOpen and the write-back in Flush
// can run concurrently even under the handle's reader lock (many
// readers may race to reopen a filter that was just unmapped, or to
// flush it), so both are serialized by their own mutex.
type Filter struct {
	dir    string
	params Params

	reopenMu sync.Mutex // guards the lazy reopen in ensureOpen and the write-back in Flush/Close

	numBits   uint64
	numHashes uint32
	itemCount uint64

	words []uint64 // len = ceil(numBits/64), nil when closed/unmapped
	file  *os.File // nil when closed/unmapped
	dirty bool
}

// Init opens the filter rooted at dir. If dir does not contain a filter
// file and createIfAbsent is false, Init fails. If createIfAbsent is
// true and dir is absent, a new filter is created, staged under a
// temporary sibling directory and atomically renamed into place so a
// crash mid-create never leaves a partially written dir for discovery
// to trip over.
func Init(params Params, dir string, createIfAbsent bool) (*Filter, error) {
	if _, err := os.Stat(filepath.Join(dir, dataFileName)); err == nil {
		return open(dir)
	} else if !os.IsNotExist(err) && err != nil {
		return nil, fmt.Errorf("bloomfilter: stat %s: %w", dir, err)
	}

	if !createIfAbsent {
		return nil, fmt.Errorf("bloomfilter: %s: no filter data present", dir)
	}
	return create(params, dir)
}

func sizeFor(params Params) (numBits uint64, numHashes uint32) {
	n := params.ExpectedItems
	p := params.FalsePositiveRate
	if n == 0 {
		n = 1
	}
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	k := math.Round(m / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint64(m), uint32(k)
}

func create(params Params, dir string) (*Filter, error) {
	numBits, numHashes := sizeFor(params)

	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("bloomfilter: create parent %s: %w", parent, err)
	}

	staged := filepath.Join(parent, ".staging-"+uuid.New().String())
	if err := os.MkdirAll(staged, 0o755); err != nil {
		return nil, fmt.Errorf("bloomfilter: create staging dir: %w", err)
	}

	f := &Filter{
		dir:       dir,
		params:    params,
		numBits:   numBits,
		numHashes: numHashes,
		words:     make([]uint64, wordCount(numBits)),
	}

	file, err := os.OpenFile(filepath.Join(staged, dataFileName), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		os.RemoveAll(staged)
		return nil, fmt.Errorf("bloomfilter: create data file: %w", err)
	}
	f.file = file

	if err := f.writeAll(); err != nil {
		f.file.Close()
		os.RemoveAll(staged)
		return nil, fmt.Errorf("bloomfilter: write initial data: %w", err)
	}

	if err := os.Rename(staged, dir); err != nil {
		f.file.Close()
		os.RemoveAll(staged)
		return nil, fmt.Errorf("bloomfilter: stage rename into %s: %w", dir, err)
	}

	return f, nil
}

func open(dir string) (*Filter, error) {
	file, err := os.OpenFile(filepath.Join(dir, dataFileName), os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bloomfilter: open %s: %w", dir, err)
	}

	f := &Filter{dir: dir, file: file}
	if err := f.readAll(); err != nil {
		file.Close()
		return nil, err
	}
	return f, nil
}

func wordCount(numBits uint64) uint64 {
	return (numBits + 63) / 64
}

func (f *Filter) readAll() error {
	header := make([]byte, headerSize)
	if _, err := f.file.ReadAt(header, 0); err != nil {
		return fmt.Errorf("bloomfilter: read header: %w", err)
	}
	gotMagic := binary.BigEndian.Uint32(header[0:4])
	if gotMagic != magic {
		return fmt.Errorf("bloomfilter: %s: bad magic", f.dir)
	}
	ver := binary.BigEndian.Uint32(header[4:8])
	if ver != formatVer {
		return fmt.Errorf("bloomfilter: %s: unsupported format version %d", f.dir, ver)
	}
	f.numBits = binary.BigEndian.Uint64(header[8:16])
	f.numHashes = binary.BigEndian.Uint32(header[16:20])
	f.itemCount = binary.BigEndian.Uint64(header[20:28])

	n := wordCount(f.numBits)
	buf := make([]byte, n*8)
	if n > 0 {
		if _, err := f.file.ReadAt(buf, headerSize); err != nil {
			return fmt.Errorf("bloomfilter: read bit array: %w", err)
		}
	}
	words := make([]uint64, n)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(buf[i*8 : i*8+8])
	}
	f.words = words
	return nil
}

// writeAll persists the header and the entire bit array. Called on
// create and on every Flush/Close while dirty.
func (f *Filter) writeAll() error {
	header := make([]byte, headerSize)
	binary.BigEndian.PutUint32(header[0:4], magic)
	binary.BigEndian.PutUint32(header[4:8], formatVer)
	binary.BigEndian.PutUint64(header[8:16], f.numBits)
	binary.BigEndian.PutUint32(header[16:20], f.numHashes)
	binary.BigEndian.PutUint64(header[20:28], f.itemCount)
	if _, err := f.file.WriteAt(header, 0); err != nil {
		return err
	}

	buf := make([]byte, len(f.words)*8)
	for i, w := range f.words {
		binary.BigEndian.PutUint64(buf[i*8:i*8+8], w)
	}
	if len(buf) > 0 {
		if _, err := f.file.WriteAt(buf, headerSize); err != nil {
			return err
		}
	}
	f.dirty = false
	return nil
}

// ensureOpen lazily reopens the filter after Close/Unmap. It is safe to
// call from multiple goroutines at once (many concurrent Check/Flush
// calls share only the handle's reader lock): reopenMu serializes the
// actual reopen so only one goroutine opens the file and populates the
// bit array, and no goroutine ever observes a torn or partially
// assigned struct. Losers of the race see f.file already set and
// return immediately without opening a second file handle.
func (f *Filter) ensureOpen() error {
	f.reopenMu.Lock()
	defer f.reopenMu.Unlock()

	if f.file != nil {
		return nil
	}
	reopened, err := open(f.dir)
	if err != nil {
		return err
	}
	f.numBits = reopened.numBits
	f.numHashes = reopened.numHashes
	f.itemCount = reopened.itemCount
	f.words = reopened.words
	f.file = reopened.file
	return nil
}

func (f *Filter) positions(key []byte) []uint64 {
	h1, h2 := probeHashes(key)
	positions := make([]uint64, f.numHashes)
	for i := uint32(0); i < f.numHashes; i++ {
		combined := uint64(h1) + uint64(i)*uint64(h2)
		positions[i] = combined % f.numBits
	}
	return positions
}

func (f *Filter) get(pos uint64) bool {
	return f.words[pos/64]&(1<<(pos%64)) != 0
}

func (f *Filter) set(pos uint64) (wasSet bool) {
	idx, bit := pos/64, uint(pos%64)
	wasSet = f.words[idx]&(1<<bit) != 0
	f.words[idx] |= 1 << bit
	return wasSet
}

// Contains reports whether key may have been added. False positives are
// possible; false negatives are not.
func (f *Filter) Contains(key []byte) bool {
	if err := f.ensureOpen(); err != nil {
		return false
	}
	for _, pos := range f.positions(key) {
		if !f.get(pos) {
			return false
		}
	}
	return true
}

// Add sets the bits for key. It returns true if key was newly added
// (at least one of its bits was previously unset), false if every bit
// was already set (key was already present, or this is a collision).
func (f *Filter) Add(key []byte) bool {
	if err := f.ensureOpen(); err != nil {
		return false
	}
	newlyAdded := false
	for _, pos := range f.positions(key) {
		if !f.set(pos) {
			newlyAdded = true
		}
	}
	if newlyAdded {
		f.itemCount++
		f.dirty = true
	}
	return newlyAdded
}

// Flush persists the bit array to disk if dirty. Idempotent between
// writes.
func (f *Filter) Flush() error {
	if err := f.ensureOpen(); err != nil {
		return err
	}
	f.reopenMu.Lock()
	defer f.reopenMu.Unlock()
	if f.file == nil {
		return nil
	}
	return f.flushLocked()
}

// flushLocked persists the bit array to disk if dirty, assuming the
// filter is already open and reopenMu is held. Shared by Flush and
// Close, which both hold reopenMu and must not recurse into ensureOpen.
func (f *Filter) flushLocked() error {
	if !f.dirty {
		return nil
	}
	return f.writeAll()
}

// Close flushes any dirty state and releases the in-memory bit array
// and file handle, but leaves the on-disk directory intact. A
// subsequent Contains/Add transparently reopens via ensureOpen.
//
// The manager's Unmap invokes Close while holding the handle's writer
// lock, and the manager calls Destroy (which calls Close) only once the
// last reference is gone or at teardown; either way no Contains/Add/Flush
// is in flight, so the reopenMu acquisition here is purely defensive: it
// keeps the file/words transition consistent with ensureOpen's view even
// if that invariant is ever relaxed.
func (f *Filter) Close() error {
	f.reopenMu.Lock()
	defer f.reopenMu.Unlock()

	if f.file == nil {
		return nil
	}
	if err := f.flushLocked(); err != nil {
		return err
	}
	err := f.file.Close()
	f.file = nil
	f.words = nil
	return err
}

// Destroy closes the filter and removes its on-disk directory.
func (f *Filter) Destroy() error {
	if err := f.Close(); err != nil {
		bloomlog.ERR("destroy %s: close failed: %v", f.dir, err)
	}
	if err := os.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("bloomfilter: destroy %s: %w", f.dir, err)
	}
	return nil
}
