package store

import (
	"os"
	"sync"

	"github.com/blockscan/blockscan/errors"
)

// flushThreshold is the pending-write size at which a file flushes itself.
const flushThreshold = 1 << 20

// FixedSizeFile is an append-only file of equal-sized records. Records can be
// patched in place after they are written, whether or not they have reached
// disk yet. Appends and patches may come from different goroutines.
type FixedSizeFile struct {
	mu sync.RWMutex

	f          *os.File
	recordSize int

	// flushed is the number of bytes on disk; buf holds appended bytes
	// that have not been flushed yet.
	flushed uint64
	buf     []byte

	count uint64
}

func NewFixedSizeFile(path string, recordSize int) (*FixedSizeFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.NewStorageError("failed to open %s", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.NewStorageError("failed to stat %s", path, err)
	}

	size := uint64(fi.Size())
	if size%uint64(recordSize) != 0 {
		_ = f.Close()
		return nil, errors.NewStorageError("%s size %d is not a multiple of the record size %d", path, size, recordSize)
	}

	return &FixedSizeFile{
		f:          f,
		recordSize: recordSize,
		flushed:    size,
		count:      size / uint64(recordSize),
	}, nil
}

// Append writes one record and returns its index.
func (f *FixedSizeFile) Append(record []byte) (uint64, error) {
	if len(record) != f.recordSize {
		return 0, errors.NewInvalidArgumentError("record is %d bytes, want %d", len(record), f.recordSize)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	idx := f.count
	f.buf = append(f.buf, record...)
	f.count++

	if len(f.buf) >= flushThreshold {
		if err := f.flushLocked(); err != nil {
			return 0, err
		}
	}

	return idx, nil
}

// Read copies record idx into out.
func (f *FixedSizeFile) Read(idx uint64, out []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if idx >= f.count {
		return errors.NewStorageError("record %d out of range, have %d", idx, f.count)
	}

	return f.readLocked(idx*uint64(f.recordSize), out)
}

// Patch overwrites len(data) bytes at fieldOffset within record idx.
func (f *FixedSizeFile) Patch(idx uint64, fieldOffset int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if idx >= f.count {
		return errors.NewStorageError("record %d out of range, have %d", idx, f.count)
	}

	return f.patchLocked(idx*uint64(f.recordSize)+uint64(fieldOffset), data)
}

// Count returns the number of records appended so far.
func (f *FixedSizeFile) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.count
}

// Truncate discards every record from idx onwards.
func (f *FixedSizeFile) Truncate(idx uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	size := idx * uint64(f.recordSize)
	if err := f.f.Truncate(int64(size)); err != nil {
		return errors.NewStorageError("failed to truncate %s", f.f.Name(), err)
	}

	f.flushed = size
	f.count = idx

	return nil
}

// Flush writes pending records to disk.
func (f *FixedSizeFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.flushLocked()
}

func (f *FixedSizeFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	return f.f.Close()
}

func (f *FixedSizeFile) flushLocked() error {
	if len(f.buf) == 0 {
		return nil
	}

	if _, err := f.f.WriteAt(f.buf, int64(f.flushed)); err != nil {
		return errors.NewStorageError("failed to flush %s", f.f.Name(), err)
	}

	f.flushed += uint64(len(f.buf))
	f.buf = f.buf[:0]

	return nil
}

func (f *FixedSizeFile) readLocked(off uint64, out []byte) error {
	n := copyPending(out, off, f.flushed, f.buf)
	if n == len(out) {
		return nil
	}

	if _, err := f.f.ReadAt(out[:len(out)-n], int64(off)); err != nil {
		return errors.NewStorageError("failed to read %s at %d", f.f.Name(), off, err)
	}

	return nil
}

func (f *FixedSizeFile) patchLocked(off uint64, data []byte) error {
	if off >= f.flushed {
		copy(f.buf[off-f.flushed:], data)
		return nil
	}

	if _, err := f.f.WriteAt(data, int64(off)); err != nil {
		return errors.NewStorageError("failed to patch %s at %d", f.f.Name(), off, err)
	}

	return nil
}

// copyPending fills the tail of out from the pending buffer when the read
// range extends past the flushed watermark. It returns the number of bytes
// taken from the buffer; the caller reads the rest from disk. Records never
// straddle the watermark because flushes happen on record boundaries.
func copyPending(out []byte, off, flushed uint64, buf []byte) int {
	if off >= flushed {
		return copy(out, buf[off-flushed:])
	}

	return 0
}
