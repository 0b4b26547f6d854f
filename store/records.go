package store

import (
	"encoding/binary"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/blockscan/blockscan/model"
)

// Record sizes and intra-record field offsets for the columnar files. These
// are persisted on disk and must not change.
const (
	BlockRecordSize = 68
	TxHeaderSize    = 17
	InoutSize       = 17

	inoutLinkedTxNumOffset  = 0
	inoutToAddressNumOffset = 4
)

// BlockRecord is one row of the block file.
type BlockRecord struct {
	FirstTxNum uint32
	TxCount    uint32
	Height     uint32

	Hash chainhash.Hash

	Version uint32
	Time    uint32
	Bits    uint32
	Nonce   uint32

	// CoinbaseOffset locates the coinbase script in the coinbase file.
	CoinbaseOffset uint64
}

func (r *BlockRecord) Bytes() []byte {
	buf := make([]byte, 0, BlockRecordSize)

	buf = binary.LittleEndian.AppendUint32(buf, r.FirstTxNum)
	buf = binary.LittleEndian.AppendUint32(buf, r.TxCount)
	buf = binary.LittleEndian.AppendUint32(buf, r.Height)
	buf = append(buf, r.Hash[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, r.Version)
	buf = binary.LittleEndian.AppendUint32(buf, r.Time)
	buf = binary.LittleEndian.AppendUint32(buf, r.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, r.Nonce)
	buf = binary.LittleEndian.AppendUint64(buf, r.CoinbaseOffset)

	return buf
}

func (r *BlockRecord) FromBytes(buf []byte) {
	r.FirstTxNum = binary.LittleEndian.Uint32(buf[0:])
	r.TxCount = binary.LittleEndian.Uint32(buf[4:])
	r.Height = binary.LittleEndian.Uint32(buf[8:])
	copy(r.Hash[:], buf[12:44])
	r.Version = binary.LittleEndian.Uint32(buf[44:])
	r.Time = binary.LittleEndian.Uint32(buf[48:])
	r.Bits = binary.LittleEndian.Uint32(buf[52:])
	r.Nonce = binary.LittleEndian.Uint32(buf[56:])
	r.CoinbaseOffset = binary.LittleEndian.Uint64(buf[60:])
}

// TxHeaderRecord is the fixed prefix of a transaction row in the tx file,
// followed by InputCount input rows and OutputCount output rows.
type TxHeaderRecord struct {
	SizeBytes uint32
	Locktime  uint32
	Version   int32

	InputCount  uint16
	OutputCount uint16

	Segwit uint8
}

func (r *TxHeaderRecord) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, r.SizeBytes)
	buf = binary.LittleEndian.AppendUint32(buf, r.Locktime)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Version))
	buf = binary.LittleEndian.AppendUint16(buf, r.InputCount)
	buf = binary.LittleEndian.AppendUint16(buf, r.OutputCount)
	buf = append(buf, r.Segwit)

	return buf
}

func (r *TxHeaderRecord) FromBytes(buf []byte) {
	r.SizeBytes = binary.LittleEndian.Uint32(buf[0:])
	r.Locktime = binary.LittleEndian.Uint32(buf[4:])
	r.Version = int32(binary.LittleEndian.Uint32(buf[8:]))
	r.InputCount = binary.LittleEndian.Uint16(buf[12:])
	r.OutputCount = binary.LittleEndian.Uint16(buf[14:])
	r.Segwit = buf[16]
}

// InoutRecord is one input or output row. For an input, LinkedTxNum is the
// transaction that created the spent output and Value/AddressType describe
// it. For an output, LinkedTxNum is zero until the output is spent, when it
// is patched to the spending transaction.
type InoutRecord struct {
	LinkedTxNum  uint32
	ToAddressNum uint32
	AddressType  model.AddressType
	Value        uint64
}

func (r *InoutRecord) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, r.LinkedTxNum)
	buf = binary.LittleEndian.AppendUint32(buf, r.ToAddressNum)
	buf = append(buf, byte(r.AddressType))
	buf = binary.LittleEndian.AppendUint64(buf, r.Value)

	return buf
}

func (r *InoutRecord) FromBytes(buf []byte) {
	r.LinkedTxNum = binary.LittleEndian.Uint32(buf[0:])
	r.ToAddressNum = binary.LittleEndian.Uint32(buf[4:])
	r.AddressType = model.AddressType(buf[8])
	r.Value = binary.LittleEndian.Uint64(buf[9:])
}

// InputOffset returns the file offset of input i of the transaction row that
// starts at txOffset.
func InputOffset(txOffset uint64, i int) uint64 {
	return txOffset + TxHeaderSize + uint64(i)*InoutSize
}

// OutputOffset returns the file offset of output i of a transaction row with
// inputCount inputs starting at txOffset.
func OutputOffset(txOffset uint64, inputCount, i int) uint64 {
	return txOffset + TxHeaderSize + uint64(inputCount+i)*InoutSize
}

// TxRowSize returns the serialized size of a transaction row.
func TxRowSize(inputCount, outputCount int) int {
	return TxHeaderSize + (inputCount+outputCount)*InoutSize
}
