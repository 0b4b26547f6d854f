// Package addressstate assigns dense per-partition numbers to every distinct
// script payload the chain produces. A shared bloom filter answers
// definitely-new so the common case (a never-seen address) skips the map
// lookup. Numbers start at 1; 0 means unassigned.
package addressstate

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash"
	"github.com/greatroar/blobloom"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/ulogger"
)

const (
	checkpointFile = "addrstate.dat"

	// filterCapacity sizes the shared bloom filter. At one billion keys
	// and 1% false positives the filter costs about 1.2 GB.
	filterCapacity = 1 << 30
	filterFPRate   = 0.01
)

type partition struct {
	counter uint32
	ids     map[string]uint32
}

type State struct {
	logger   ulogger.Logger
	settings *settings.Settings

	partitions [model.NumAddressTypes]partition
	filter     *blobloom.Filter

	writers [model.NumAddressTypes]*store.IndexedFile

	txSinceSave uint64
}

func New(logger ulogger.Logger, tSettings *settings.Settings) (*State, error) {
	s := &State{
		logger:   logger,
		settings: tSettings,
		filter: blobloom.NewOptimized(blobloom.Config{
			Capacity: filterCapacity,
			FPRate:   filterFPRate,
		}),
	}

	dir := filepath.Join(tSettings.DataFolder, "parsed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("failed to create %s", dir, err)
	}

	for t := 0; t < model.NumAddressTypes; t++ {
		s.partitions[t].ids = make(map[string]uint32)

		name := model.AddressType(t).String()

		w, err := store.NewIndexedFile(
			filepath.Join(dir, "addresses_"+name+".dat"),
			filepath.Join(dir, "addresses_"+name+".idx"),
		)
		if err != nil {
			return nil, err
		}

		s.writers[t] = w
	}

	return s, nil
}

// Resolve returns the registry number for a script payload, allocating one
// and appending the partition record when the payload is new.
func (s *State) Resolve(typ model.AddressType, payload []byte, creationTxNum uint32) (uint32, bool, error) {
	fp := model.ScriptFingerprint(typ, payload)
	h := xxhash.Sum64(fp)
	p := &s.partitions[typ]

	if s.filter.Has(h) {
		if num, ok := p.ids[string(fp)]; ok {
			return num, false, nil
		}
	}

	p.counter++
	num := p.counter
	p.ids[string(fp)] = num
	s.filter.Add(h)

	record := make([]byte, 0, 8+len(payload))
	record = binary.LittleEndian.AppendUint32(record, creationTxNum)
	record = binary.LittleEndian.AppendUint32(record, uint32(len(payload)))
	record = append(record, payload...)

	if _, _, err := s.writers[typ].Append(record); err != nil {
		return 0, false, err
	}

	return num, true, nil
}

// Lookup returns the number for a payload without allocating, 0 when absent.
func (s *State) Lookup(typ model.AddressType, payload []byte) uint32 {
	fp := model.ScriptFingerprint(typ, payload)

	if !s.filter.Has(xxhash.Sum64(fp)) {
		return 0
	}

	return s.partitions[typ].ids[string(fp)]
}

// Count returns the number of addresses registered in a partition.
func (s *State) Count(typ model.AddressType) uint32 {
	return s.partitions[typ].counter
}

// TotalCount returns the number of addresses across all partitions.
func (s *State) TotalCount() uint64 {
	var total uint64
	for t := 0; t < model.NumAddressTypes; t++ {
		total += uint64(s.partitions[t].counter)
	}

	return total
}

// ReadAddress returns the creation txNum and payload of address num in a
// partition.
func (s *State) ReadAddress(typ model.AddressType, num uint32) (uint32, []byte, error) {
	if num == 0 || num > s.partitions[typ].counter {
		return 0, nil, errors.NewInvalidArgumentError("address %d out of range for %s", num, typ)
	}

	buf, err := s.writers[typ].Read(uint64(num - 1))
	if err != nil {
		return 0, nil, err
	}

	if len(buf) < 8 {
		return 0, nil, errors.NewStorageError("address record %d/%s is %d bytes", num, typ, len(buf))
	}

	creationTxNum := binary.LittleEndian.Uint32(buf[0:])
	payloadLen := binary.LittleEndian.Uint32(buf[4:])

	if uint32(len(buf)-8) != payloadLen {
		return 0, nil, errors.NewStorageError("address record %d/%s payload length mismatch", num, typ)
	}

	return creationTxNum, buf[8:], nil
}

// TxProcessed advances the checkpoint counter and reports whether a
// checkpoint is due.
func (s *State) TxProcessed() bool {
	s.txSinceSave++

	return s.settings.Ingest.CheckpointInterval > 0 && s.txSinceSave >= s.settings.Ingest.CheckpointInterval
}

// Save checkpoints the counters and id tables.
func (s *State) Save() error {
	path := filepath.Join(s.settings.DataFolder, checkpointFile)

	f, err := os.Create(path)
	if err != nil {
		return errors.NewStorageError("failed to create %s", path, err)
	}
	defer f.Close()

	for t := 0; t < model.NumAddressTypes; t++ {
		p := &s.partitions[t]

		var header [8]byte

		binary.LittleEndian.PutUint32(header[0:], p.counter)
		binary.LittleEndian.PutUint32(header[4:], uint32(len(p.ids)))

		if _, err := f.Write(header[:]); err != nil {
			return errors.NewStorageError("failed to write %s", path, err)
		}

		for fp, num := range p.ids {
			entry := make([]byte, 0, 8+len(fp))
			entry = binary.LittleEndian.AppendUint32(entry, uint32(len(fp)))
			entry = append(entry, fp...)
			entry = binary.LittleEndian.AppendUint32(entry, num)

			if _, err := f.Write(entry); err != nil {
				return errors.NewStorageError("failed to write %s", path, err)
			}
		}
	}

	for t := 0; t < model.NumAddressTypes; t++ {
		if err := s.writers[t].Flush(); err != nil {
			return err
		}
	}

	s.txSinceSave = 0
	s.logger.Infof("checkpointed address registry: %d addresses", s.TotalCount())

	return nil
}

// Load restores the last checkpoint and rebuilds the bloom filter. A missing
// file is a fresh start.
func (s *State) Load() error {
	path := filepath.Join(s.settings.DataFolder, checkpointFile)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.NewStorageError("failed to open %s", path, err)
	}
	defer f.Close()

	r := newReader(f)

	for t := 0; t < model.NumAddressTypes; t++ {
		p := &s.partitions[t]

		counter, err := r.uint32()
		if err != nil {
			return errors.NewStorageError("failed to read %s", path, err)
		}

		entries, err := r.uint32()
		if err != nil {
			return errors.NewStorageError("failed to read %s", path, err)
		}

		p.counter = counter
		p.ids = make(map[string]uint32, entries)

		for i := uint32(0); i < entries; i++ {
			fpLen, err := r.uint32()
			if err != nil {
				return errors.NewStorageError("failed to read %s", path, err)
			}

			fp := make([]byte, fpLen)
			if _, err := io.ReadFull(r.r, fp); err != nil {
				return errors.NewStorageError("failed to read %s", path, err)
			}

			num, err := r.uint32()
			if err != nil {
				return errors.NewStorageError("failed to read %s", path, err)
			}

			p.ids[string(fp)] = num
			s.filter.Add(xxhash.Sum64(fp))
		}
	}

	s.logger.Infof("loaded address registry: %d addresses", s.TotalCount())

	return nil
}

// Flush forces the partition files to disk.
func (s *State) Flush() error {
	for t := 0; t < model.NumAddressTypes; t++ {
		if err := s.writers[t].Flush(); err != nil {
			return err
		}
	}

	return nil
}

func (s *State) Close() error {
	var firstErr error

	for t := 0; t < model.NumAddressTypes; t++ {
		if err := s.writers[t].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

type reader struct {
	r io.Reader
}

func newReader(r io.Reader) *reader {
	return &reader{r: r}
}

func (r *reader) uint32() (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r.r, b[:]); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(b[:]), nil
}
