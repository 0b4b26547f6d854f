package model

import (
	"encoding/binary"
	"io"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// BlockInfo describes one block found by the chain index. Location is either
// a (FileNum, Offset) pair into the blkNNNNN container files, or FileNum -1
// for blocks that are fetched over RPC by hash.
type BlockInfo struct {
	Hash   chainhash.Hash
	Header wire.BlockHeader

	// Size is the serialized block length as framed in the container file.
	Size uint32

	TxCount     uint32
	InputCount  uint32
	OutputCount uint32

	// Height is -1 until assigned by the chain index.
	Height int32

	FileNum int32
	Offset  uint64
}

const blockInfoSize = 32 + 80 + 4 + 4 + 4 + 4 + 4 + 4 + 8

// WriteTo serializes the BlockInfo for the chain index state file.
func (b *BlockInfo) WriteTo(w io.Writer) error {
	buf := make([]byte, 0, blockInfoSize)

	buf = append(buf, b.Hash[:]...)
	buf = appendHeader(buf, &b.Header)
	buf = binary.LittleEndian.AppendUint32(buf, b.Size)
	buf = binary.LittleEndian.AppendUint32(buf, b.TxCount)
	buf = binary.LittleEndian.AppendUint32(buf, b.InputCount)
	buf = binary.LittleEndian.AppendUint32(buf, b.OutputCount)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.Height))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(b.FileNum))
	buf = binary.LittleEndian.AppendUint64(buf, b.Offset)

	_, err := w.Write(buf)

	return err
}

// ReadFrom deserializes a BlockInfo written by WriteTo.
func (b *BlockInfo) ReadFrom(r io.Reader) error {
	buf := make([]byte, blockInfoSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}

	copy(b.Hash[:], buf[:32])

	if err := readHeader(buf[32:112], &b.Header); err != nil {
		return err
	}

	b.Size = binary.LittleEndian.Uint32(buf[112:])
	b.TxCount = binary.LittleEndian.Uint32(buf[116:])
	b.InputCount = binary.LittleEndian.Uint32(buf[120:])
	b.OutputCount = binary.LittleEndian.Uint32(buf[124:])
	b.Height = int32(binary.LittleEndian.Uint32(buf[128:]))
	b.FileNum = int32(binary.LittleEndian.Uint32(buf[132:]))
	b.Offset = binary.LittleEndian.Uint64(buf[136:])

	return nil
}

func appendHeader(buf []byte, h *wire.BlockHeader) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Version))
	buf = append(buf, h.PrevBlock[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.Timestamp.Unix()))
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	buf = binary.LittleEndian.AppendUint32(buf, h.Nonce)

	return buf
}

func readHeader(buf []byte, h *wire.BlockHeader) error {
	h.Version = int32(binary.LittleEndian.Uint32(buf[0:]))
	copy(h.PrevBlock[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	h.Timestamp = timeFromUnix(binary.LittleEndian.Uint32(buf[68:]))
	h.Bits = binary.LittleEndian.Uint32(buf[72:])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:])

	return nil
}
