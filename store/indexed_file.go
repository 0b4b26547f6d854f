package store

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/blockscan/blockscan/errors"
)

// IndexedFile is an append-only file of variable-sized records with a u64
// offset sidecar, so record n can be located in constant time. Offsets are
// also kept in memory for the lifetime of the file. Like FixedSizeFile,
// records can be patched in place before they reach disk.
type IndexedFile struct {
	mu sync.RWMutex

	f   *os.File
	idx *os.File

	flushed uint64
	buf     []byte

	idxFlushed uint64
	idxBuf     []byte

	// offsets[n] is the start of record n; a final entry holds the end of
	// the last record so every record length is offsets[n+1]-offsets[n].
	offsets []uint64
}

func NewIndexedFile(path, idxPath string) (*IndexedFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.NewStorageError("failed to open %s", path, err)
	}

	idx, err := os.OpenFile(idxPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		_ = f.Close()
		return nil, errors.NewStorageError("failed to open %s", idxPath, err)
	}

	offsets, err := loadOffsets(idx)
	if err != nil {
		_ = f.Close()
		_ = idx.Close()

		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		_ = idx.Close()

		return nil, errors.NewStorageError("failed to stat %s", path, err)
	}

	end := uint64(fi.Size())
	if len(offsets) > 0 && offsets[len(offsets)-1] > end {
		_ = f.Close()
		_ = idx.Close()

		return nil, errors.NewStorageError("%s index points past the end of %s", idxPath, path)
	}

	return &IndexedFile{
		f:          f,
		idx:        idx,
		flushed:    end,
		idxFlushed: uint64(len(offsets)) * 8,
		offsets:    append(offsets, end),
	}, nil
}

func loadOffsets(idx *os.File) ([]uint64, error) {
	fi, err := idx.Stat()
	if err != nil {
		return nil, errors.NewStorageError("failed to stat %s", idx.Name(), err)
	}

	if fi.Size()%8 != 0 {
		return nil, errors.NewStorageError("%s size %d is not a multiple of 8", idx.Name(), fi.Size())
	}

	buf := make([]byte, fi.Size())
	if _, err := io.ReadFull(io.NewSectionReader(idx, 0, fi.Size()), buf); err != nil {
		return nil, errors.NewStorageError("failed to read %s", idx.Name(), err)
	}

	offsets := make([]uint64, 0, len(buf)/8+1)
	for i := 0; i < len(buf); i += 8 {
		offsets = append(offsets, binary.LittleEndian.Uint64(buf[i:]))
	}

	return offsets, nil
}

// Append writes one record and returns its index and start offset.
func (f *IndexedFile) Append(record []byte) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := uint64(len(f.offsets) - 1)
	off := f.offsets[n]

	f.buf = append(f.buf, record...)
	f.idxBuf = binary.LittleEndian.AppendUint64(f.idxBuf, off)
	f.offsets = append(f.offsets, off+uint64(len(record)))

	if len(f.buf) >= flushThreshold {
		if err := f.flushLocked(); err != nil {
			return 0, 0, err
		}
	}

	return n, off, nil
}

// Read returns a copy of record n.
func (f *IndexedFile) Read(n uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n >= uint64(len(f.offsets)-1) {
		return nil, errors.NewStorageError("record %d out of range, have %d", n, len(f.offsets)-1)
	}

	off := f.offsets[n]
	out := make([]byte, f.offsets[n+1]-off)

	if err := f.readLocked(off, out); err != nil {
		return nil, err
	}

	return out, nil
}

// ReadAt copies length bytes starting at an absolute file offset, which may
// fall inside a record.
func (f *IndexedFile) ReadAt(off uint64, out []byte) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.readLocked(off, out)
}

// Offset returns the start offset of record n.
func (f *IndexedFile) Offset(n uint64) (uint64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if n >= uint64(len(f.offsets)-1) {
		return 0, errors.NewStorageError("record %d out of range, have %d", n, len(f.offsets)-1)
	}

	return f.offsets[n], nil
}

// PatchUint32 overwrites four bytes at an absolute file offset.
func (f *IndexedFile) PatchUint32(off uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)

	f.mu.Lock()
	defer f.mu.Unlock()

	if off >= f.flushed {
		copy(f.buf[off-f.flushed:], b[:])
		return nil
	}

	if _, err := f.f.WriteAt(b[:], int64(off)); err != nil {
		return errors.NewStorageError("failed to patch %s at %d", f.f.Name(), off, err)
	}

	return nil
}

// Count returns the number of records appended so far.
func (f *IndexedFile) Count() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return uint64(len(f.offsets) - 1)
}

// Truncate discards every record from n onwards.
func (f *IndexedFile) Truncate(n uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	if n >= uint64(len(f.offsets)) {
		return nil
	}

	end := f.offsets[n]
	if err := f.f.Truncate(int64(end)); err != nil {
		return errors.NewStorageError("failed to truncate %s", f.f.Name(), err)
	}

	if err := f.idx.Truncate(int64(n * 8)); err != nil {
		return errors.NewStorageError("failed to truncate %s", f.idx.Name(), err)
	}

	f.flushed = end
	f.idxFlushed = n * 8
	f.offsets = append(f.offsets[:n], end)

	return nil
}

// Flush writes pending records and index entries to disk.
func (f *IndexedFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.flushLocked()
}

func (f *IndexedFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	if err := f.f.Close(); err != nil {
		return err
	}

	return f.idx.Close()
}

func (f *IndexedFile) flushLocked() error {
	if len(f.buf) > 0 {
		if _, err := f.f.WriteAt(f.buf, int64(f.flushed)); err != nil {
			return errors.NewStorageError("failed to flush %s", f.f.Name(), err)
		}

		f.flushed += uint64(len(f.buf))
		f.buf = f.buf[:0]
	}

	if len(f.idxBuf) > 0 {
		if _, err := f.idx.WriteAt(f.idxBuf, int64(f.idxFlushed)); err != nil {
			return errors.NewStorageError("failed to flush %s", f.idx.Name(), err)
		}

		f.idxFlushed += uint64(len(f.idxBuf))
		f.idxBuf = f.idxBuf[:0]
	}

	return nil
}

func (f *IndexedFile) readLocked(off uint64, out []byte) error {
	if off >= f.flushed {
		copy(out, f.buf[off-f.flushed:])
		return nil
	}

	if off+uint64(len(out)) <= f.flushed {
		if _, err := f.f.ReadAt(out, int64(off)); err != nil {
			return errors.NewStorageError("failed to read %s at %d", f.f.Name(), off, err)
		}

		return nil
	}

	disk := f.flushed - off
	if _, err := f.f.ReadAt(out[:disk], int64(off)); err != nil {
		return errors.NewStorageError("failed to read %s at %d", f.f.Name(), off, err)
	}

	copy(out[disk:], f.buf)

	return nil
}
