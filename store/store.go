// Package store persists the parsed chain as columnar files: fixed-size
// block rows, variable-size transaction rows located through an offset
// sidecar, a hash column, per-transaction sequence number groups and the raw
// coinbase scripts. Input and output rows are patched in place as spends and
// address numbers resolve.
package store

import (
	"encoding/binary"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/ulogger"
)

const (
	blocksFile    = "blocks.dat"
	txsFile       = "txs.dat"
	txsIndexFile  = "txs.idx"
	hashesFile    = "txhashes.dat"
	seqFile       = "sequence.dat"
	seqIndexFile  = "sequence.idx"
	coinbasesFile = "coinbases.dat"
)

type Store struct {
	logger ulogger.Logger
	dir    string

	blocks    *FixedSizeFile
	txs       *IndexedFile
	hashes    *FixedSizeFile
	sequences *IndexedFile
	coinbases *ArbitraryFile
}

// TxRow is a fully decoded transaction row.
type TxRow struct {
	Header  TxHeaderRecord
	Inputs  []InoutRecord
	Outputs []InoutRecord
}

func New(logger ulogger.Logger, tSettings *settings.Settings) (*Store, error) {
	dir := filepath.Join(tSettings.DataFolder, "parsed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.NewStorageError("failed to create %s", dir, err)
	}

	s := &Store{
		logger: logger,
		dir:    dir,
	}

	var err error

	if s.blocks, err = NewFixedSizeFile(filepath.Join(dir, blocksFile), BlockRecordSize); err != nil {
		return nil, err
	}

	if s.txs, err = NewIndexedFile(filepath.Join(dir, txsFile), filepath.Join(dir, txsIndexFile)); err != nil {
		return nil, err
	}

	if s.hashes, err = NewFixedSizeFile(filepath.Join(dir, hashesFile), chainhash.HashSize); err != nil {
		return nil, err
	}

	if s.sequences, err = NewIndexedFile(filepath.Join(dir, seqFile), filepath.Join(dir, seqIndexFile)); err != nil {
		return nil, err
	}

	if s.coinbases, err = NewArbitraryFile(filepath.Join(dir, coinbasesFile)); err != nil {
		return nil, err
	}

	if s.hashes.Count() != s.txs.Count() || s.sequences.Count() != s.txs.Count() {
		return nil, errors.NewStorageError("column counts disagree: %d txs, %d hashes, %d sequence groups",
			s.txs.Count(), s.hashes.Count(), s.sequences.Count())
	}

	logger.Infof("opened store in %s: %d blocks, %d txs", dir, s.blocks.Count(), s.txs.Count())

	return s, nil
}

// AppendBlock writes one block row and returns its index.
func (s *Store) AppendBlock(r *BlockRecord) (uint64, error) {
	return s.blocks.Append(r.Bytes())
}

// ReadBlock returns block row n.
func (s *Store) ReadBlock(n uint64) (*BlockRecord, error) {
	buf := make([]byte, BlockRecordSize)
	if err := s.blocks.Read(n, buf); err != nil {
		return nil, err
	}

	r := &BlockRecord{}
	r.FromBytes(buf)

	return r, nil
}

// AppendTx writes one serialized transaction row, returning the assigned
// transaction number and the row's start offset in the tx file.
func (s *Store) AppendTx(row []byte) (uint64, uint64, error) {
	return s.txs.Append(row)
}

// ReadTx decodes transaction row txNum.
func (s *Store) ReadTx(txNum uint64) (*TxRow, error) {
	buf, err := s.txs.Read(txNum)
	if err != nil {
		return nil, err
	}

	if len(buf) < TxHeaderSize {
		return nil, errors.NewStorageError("tx row %d is %d bytes, shorter than a header", txNum, len(buf))
	}

	row := &TxRow{}
	row.Header.FromBytes(buf)

	want := TxRowSize(int(row.Header.InputCount), int(row.Header.OutputCount))
	if len(buf) != want {
		return nil, errors.NewStorageError("tx row %d is %d bytes, want %d", txNum, len(buf), want)
	}

	row.Inputs = make([]InoutRecord, row.Header.InputCount)
	for i := range row.Inputs {
		row.Inputs[i].FromBytes(buf[TxHeaderSize+i*InoutSize:])
	}

	row.Outputs = make([]InoutRecord, row.Header.OutputCount)
	base := TxHeaderSize + int(row.Header.InputCount)*InoutSize

	for i := range row.Outputs {
		row.Outputs[i].FromBytes(buf[base+i*InoutSize:])
	}

	return row, nil
}

// TxOffset returns the start offset of transaction row txNum.
func (s *Store) TxOffset(txNum uint64) (uint64, error) {
	return s.txs.Offset(txNum)
}

// OutputRecordOffset locates output outIdx of transaction txNum. The row's
// input count is read back from its header to skip past the input records.
func (s *Store) OutputRecordOffset(txNum uint64, outIdx uint32) (uint64, error) {
	off, err := s.txs.Offset(txNum)
	if err != nil {
		return 0, err
	}

	var counts [4]byte
	if err := s.txs.ReadAt(off+12, counts[:]); err != nil {
		return 0, err
	}

	inputCount := binary.LittleEndian.Uint16(counts[0:])
	outputCount := binary.LittleEndian.Uint16(counts[2:])

	if outIdx >= uint32(outputCount) {
		return 0, errors.NewProcessingError("tx %d has %d outputs, output %d spent", txNum, outputCount, outIdx)
	}

	return OutputOffset(off, int(inputCount), int(outIdx)), nil
}

// PatchOutputLinkedTxNum marks the output row at recordOffset as spent by
// spendingTxNum.
func (s *Store) PatchOutputLinkedTxNum(recordOffset uint64, spendingTxNum uint32) error {
	return s.txs.PatchUint32(recordOffset+inoutLinkedTxNumOffset, spendingTxNum)
}

// PatchInoutToAddressNum assigns the registry address number to the input or
// output row at recordOffset.
func (s *Store) PatchInoutToAddressNum(recordOffset uint64, addressNum uint32) error {
	return s.txs.PatchUint32(recordOffset+inoutToAddressNumOffset, addressNum)
}

// ReadInoutAt decodes the single input or output row at recordOffset.
func (s *Store) ReadInoutAt(recordOffset uint64) (*InoutRecord, error) {
	buf := make([]byte, InoutSize)
	if err := s.txs.ReadAt(recordOffset, buf); err != nil {
		return nil, err
	}

	r := &InoutRecord{}
	r.FromBytes(buf)

	return r, nil
}

// AppendTxHash writes the hash column entry for the next transaction.
func (s *Store) AppendTxHash(hash *chainhash.Hash) error {
	_, err := s.hashes.Append(hash[:])
	return err
}

// ReadTxHash returns the hash of transaction txNum.
func (s *Store) ReadTxHash(txNum uint64) (*chainhash.Hash, error) {
	var h chainhash.Hash
	if err := s.hashes.Read(txNum, h[:]); err != nil {
		return nil, err
	}

	return &h, nil
}

// AppendSequences writes the sequence number group for the next transaction.
// The group covers the wire inputs, so a coinbase contributes one entry even
// though its input list is cleared downstream.
func (s *Store) AppendSequences(seqs []uint32) error {
	buf := make([]byte, 0, len(seqs)*4)
	for _, seq := range seqs {
		buf = binary.LittleEndian.AppendUint32(buf, seq)
	}

	_, _, err := s.sequences.Append(buf)

	return err
}

// ReadSequences returns the sequence number group of transaction txNum.
func (s *Store) ReadSequences(txNum uint64) ([]uint32, error) {
	buf, err := s.sequences.Read(txNum)
	if err != nil {
		return nil, err
	}

	if len(buf)%4 != 0 {
		return nil, errors.NewStorageError("sequence group %d is %d bytes, not a multiple of 4", txNum, len(buf))
	}

	seqs := make([]uint32, 0, len(buf)/4)
	for i := 0; i < len(buf); i += 4 {
		seqs = append(seqs, binary.LittleEndian.Uint32(buf[i:]))
	}

	return seqs, nil
}

// AppendCoinbase writes one coinbase script, returning its offset for the
// block row.
func (s *Store) AppendCoinbase(script []byte) (uint64, error) {
	return s.coinbases.Append(script)
}

// ReadCoinbase returns the coinbase script at off.
func (s *Store) ReadCoinbase(off uint64) ([]byte, error) {
	return s.coinbases.Read(off)
}

// BlockCount returns the number of block rows.
func (s *Store) BlockCount() uint64 {
	return s.blocks.Count()
}

// TxCount returns the number of transaction rows.
func (s *Store) TxCount() uint64 {
	return s.txs.Count()
}

// TruncateToBlock discards every block row from blockCount onwards together
// with the transaction rows, hashes, sequence groups and coinbase scripts
// they own. Used when the persisted tip is no longer on the chain.
func (s *Store) TruncateToBlock(blockCount uint64) error {
	if blockCount >= s.blocks.Count() {
		return nil
	}

	// The first discarded block row tells us where its columns start.
	first, err := s.ReadBlock(blockCount)
	if err != nil {
		return err
	}

	txCount := uint64(first.FirstTxNum)

	if err := s.blocks.Truncate(blockCount); err != nil {
		return err
	}

	if err := s.txs.Truncate(txCount); err != nil {
		return err
	}

	if err := s.hashes.Truncate(txCount); err != nil {
		return err
	}

	if err := s.sequences.Truncate(txCount); err != nil {
		return err
	}

	if err := s.coinbases.Truncate(first.CoinbaseOffset); err != nil {
		return err
	}

	s.logger.Warnf("truncated store to %d blocks, %d txs", blockCount, txCount)

	return nil
}

// FlushTxFile forces the transaction column to disk so concurrent readers
// see every row appended so far.
func (s *Store) FlushTxFile() error {
	return s.txs.Flush()
}

// Flush forces every column to disk.
func (s *Store) Flush() error {
	for _, f := range []interface{ Flush() error }{s.blocks, s.txs, s.hashes, s.sequences, s.coinbases} {
		if err := f.Flush(); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) Close() error {
	var firstErr error

	for _, f := range []interface{ Close() error }{s.blocks, s.txs, s.hashes, s.sequences, s.coinbases} {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// EncodeTxRow serializes a transaction into its row form. Input rows carry
// the linkage fields resolved so far; output rows start unlinked.
func EncodeTxRow(tx *model.RawTransaction) []byte {
	header := TxHeaderRecord{
		SizeBytes:   tx.SizeBytes,
		Locktime:    tx.Locktime,
		Version:     tx.Version,
		InputCount:  uint16(len(tx.Inputs)),
		OutputCount: uint16(len(tx.Outputs)),
	}
	if tx.IsSegwit {
		header.Segwit = 1
	}

	buf := make([]byte, 0, TxRowSize(len(tx.Inputs), len(tx.Outputs)))
	buf = header.AppendTo(buf)

	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		r := InoutRecord{
			LinkedTxNum:  in.LinkedTxNum,
			ToAddressNum: in.ToAddressNum,
			AddressType:  in.AddressType,
			Value:        in.Value,
		}
		buf = r.AppendTo(buf)
	}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]
		r := InoutRecord{
			ToAddressNum: out.ToAddressNum,
			AddressType:  out.Script.AddressType(),
			Value:        out.Value,
		}
		buf = r.AppendTo(buf)
	}

	return buf
}
