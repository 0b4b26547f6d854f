package store

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/blockscan/blockscan/errors"
)

// ArbitraryFile is an append-only file of length-prefixed blobs. Each blob is
// framed as a u32 length followed by the data; the caller keeps the returned
// offset to read the blob back.
type ArbitraryFile struct {
	mu sync.RWMutex

	f       *os.File
	flushed uint64
	buf     []byte
}

func NewArbitraryFile(path string) (*ArbitraryFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, errors.NewStorageError("failed to open %s", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, errors.NewStorageError("failed to stat %s", path, err)
	}

	return &ArbitraryFile{
		f:       f,
		flushed: uint64(fi.Size()),
	}, nil
}

// Append frames and writes one blob, returning its start offset.
func (f *ArbitraryFile) Append(data []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	off := f.flushed + uint64(len(f.buf))

	f.buf = binary.LittleEndian.AppendUint32(f.buf, uint32(len(data)))
	f.buf = append(f.buf, data...)

	if len(f.buf) >= flushThreshold {
		if err := f.flushLocked(); err != nil {
			return 0, err
		}
	}

	return off, nil
}

// Read returns the blob framed at off.
func (f *ArbitraryFile) Read(off uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var lenBuf [4]byte
	if err := f.readLocked(off, lenBuf[:]); err != nil {
		return nil, err
	}

	out := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
	if err := f.readLocked(off+4, out); err != nil {
		return nil, err
	}

	return out, nil
}

// Size returns the current end offset of the file including pending writes.
func (f *ArbitraryFile) Size() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.flushed + uint64(len(f.buf))
}

// Truncate discards everything from off onwards.
func (f *ArbitraryFile) Truncate(off uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	if err := f.f.Truncate(int64(off)); err != nil {
		return errors.NewStorageError("failed to truncate %s", f.f.Name(), err)
	}

	f.flushed = off

	return nil
}

// Flush writes pending blobs to disk.
func (f *ArbitraryFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.flushLocked()
}

func (f *ArbitraryFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.flushLocked(); err != nil {
		return err
	}

	return f.f.Close()
}

func (f *ArbitraryFile) flushLocked() error {
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

func (f *ArbitraryFile) readLocked(off uint64, out []byte) error {
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
