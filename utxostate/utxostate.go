// Package utxostate tracks every unspent output between blocks. The set is
// keyed by outpoint and lives in a swiss map; it is checkpointed to disk at
// the configured transaction interval so an interrupted run can resume.
package utxostate

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/dolthub/swiss"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/ulogger"
)

const (
	checkpointFile = "utxos.dat"

	outPointSize = chainhash.HashSize + 2
	entrySize    = 4 + 8 + 1
)

// OutPoint is the flattened map key: 32-byte tx hash plus a 16-bit output
// index.
type OutPoint [outPointSize]byte

func NewOutPoint(hash *chainhash.Hash, index uint32) OutPoint {
	var op OutPoint

	copy(op[:], hash[:])
	binary.LittleEndian.PutUint16(op[chainhash.HashSize:], uint16(index))

	return op
}

// Entry describes the output an outpoint refers to.
type Entry struct {
	ProducingTxNum uint32
	Value          uint64
	AddressType    model.AddressType
}

type State struct {
	logger   ulogger.Logger
	settings *settings.Settings

	utxos *swiss.Map[OutPoint, Entry]

	// txSinceSave drives the optional checkpoint.
	txSinceSave uint64
}

func New(logger ulogger.Logger, tSettings *settings.Settings) *State {
	return &State{
		logger:   logger,
		settings: tSettings,
		utxos:    swiss.NewMap[OutPoint, Entry](1 << 20),
	}
}

// Add records a freshly created output. A duplicate outpoint means the
// pipeline double-processed a transaction.
func (s *State) Add(op OutPoint, e Entry) error {
	if _, ok := s.utxos.Get(op); ok {
		return errors.NewProcessingError("outpoint %x added twice", op[:])
	}

	s.utxos.Put(op, e)

	return nil
}

// Spend removes and returns the entry for op. A miss is fatal: the chain
// being ingested spends an output that was never created.
func (s *State) Spend(op OutPoint) (Entry, error) {
	e, ok := s.utxos.Get(op)
	if !ok {
		return Entry{}, errors.NewUTXOMissError("spend of unknown outpoint %x", op[:])
	}

	s.utxos.Delete(op)

	return e, nil
}

// Size returns the number of unspent outputs.
func (s *State) Size() int {
	return s.utxos.Count()
}

// TxProcessed advances the checkpoint counter and reports whether a
// checkpoint is due.
func (s *State) TxProcessed() bool {
	s.txSinceSave++

	return s.settings.Ingest.CheckpointInterval > 0 && s.txSinceSave >= s.settings.Ingest.CheckpointInterval
}

// Save writes the whole set to the checkpoint file and resets the counter.
func (s *State) Save() error {
	path := filepath.Join(s.settings.DataFolder, checkpointFile)

	f, err := os.Create(path)
	if err != nil {
		return errors.NewStorageError("failed to create %s", path, err)
	}
	defer f.Close()

	count := s.utxos.Count()

	var header [8]byte

	binary.LittleEndian.PutUint64(header[:], uint64(count))

	if _, err := f.Write(header[:]); err != nil {
		return errors.NewStorageError("failed to write %s", path, err)
	}

	const batch = (outPointSize + entrySize) * 4096

	buf := make([]byte, 0, batch)

	var writeErr error

	s.utxos.Iter(func(op OutPoint, e Entry) bool {
		buf = append(buf, op[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, e.ProducingTxNum)
		buf = binary.LittleEndian.AppendUint64(buf, e.Value)
		buf = append(buf, byte(e.AddressType))

		if len(buf) >= batch {
			if _, err := f.Write(buf); err != nil {
				writeErr = errors.NewStorageError("failed to write %s", path, err)
				return true
			}

			buf = buf[:0]
		}

		return false
	})

	if writeErr != nil {
		return writeErr
	}

	if len(buf) > 0 {
		if _, err := f.Write(buf); err != nil {
			return errors.NewStorageError("failed to write %s", path, err)
		}
	}

	s.txSinceSave = 0
	s.logger.Infof("checkpointed %d utxos", count)

	return nil
}

// Load restores the last checkpoint. A missing file is a fresh start.
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

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return errors.NewStorageError("failed to read %s", path, err)
	}

	count := binary.LittleEndian.Uint64(header[:])

	s.utxos = swiss.NewMap[OutPoint, Entry](uint32(count) + 1)

	rec := make([]byte, outPointSize+entrySize)

	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(f, rec); err != nil {
			return errors.NewStorageError("failed to read utxo %d from %s", i, path, err)
		}

		var op OutPoint

		copy(op[:], rec[:outPointSize])

		s.utxos.Put(op, Entry{
			ProducingTxNum: binary.LittleEndian.Uint32(rec[outPointSize:]),
			Value:          binary.LittleEndian.Uint64(rec[outPointSize+4:]),
			AddressType:    model.AddressType(rec[outPointSize+12]),
		})
	}

	s.logger.Infof("loaded %d utxos from checkpoint", count)

	return nil
}
