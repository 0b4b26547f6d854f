package chainindex

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
)

// scanBlockFile reads every block framed in one blkNNNNN.dat container.
// A wrong or zero magic ends the file cleanly (the node preallocates and
// zero-fills); a parse failure inside a frame is corruption and fatal.
func scanBlockFile(path string, fileNum int32, magic wire.BitcoinNet) ([]*model.BlockInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError("failed to open %s", path, err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 1<<20)

	var (
		blocks []*model.BlockInfo
		offset uint64
	)

	for {
		var frame [8]byte

		_, err := io.ReadFull(r, frame[:])
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return blocks, nil
		}

		if err != nil {
			return nil, errors.NewStorageError("failed to read frame in %s", path, err)
		}

		if wire.BitcoinNet(binary.LittleEndian.Uint32(frame[0:])) != magic {
			return blocks, nil
		}

		size := binary.LittleEndian.Uint32(frame[4:])

		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, errors.NewCorruptBlockError("truncated block at %s offset %d", path, offset, err)
		}

		info, err := scanBlock(body, fileNum, offset+8, size)
		if err != nil {
			return nil, errors.NewCorruptBlockError("bad block at %s offset %d", path, offset, err)
		}

		blocks = append(blocks, info)
		offset += 8 + uint64(size)
	}
}

// scanBlock walks the serialized block counting transactions, inputs and
// outputs without keeping the transactions. The coinbase's null input is not
// counted.
func scanBlock(body []byte, fileNum int32, offset uint64, size uint32) (*model.BlockInfo, error) {
	if len(body) < 80 {
		return nil, errors.NewCorruptBlockError("block body is %d bytes", len(body))
	}

	info := &model.BlockInfo{
		Hash:    chainhash.DoubleHashH(body[:80]),
		Size:    size,
		Height:  -1,
		FileNum: fileNum,
		Offset:  offset,
	}

	if err := readHeader(body[:80], &info.Header); err != nil {
		return nil, err
	}

	c := &cursor{buf: body, pos: 80}

	txCount, err := c.varint()
	if err != nil {
		return nil, err
	}

	for i := uint64(0); i < txCount; i++ {
		inputs, outputs, err := c.skipTx()
		if err != nil {
			return nil, err
		}

		info.InputCount += inputs
		info.OutputCount += outputs
	}

	info.TxCount = uint32(txCount)
	info.InputCount--

	return info, nil
}

func readHeader(buf []byte, h *wire.BlockHeader) error {
	h.Version = int32(binary.LittleEndian.Uint32(buf[0:]))
	copy(h.PrevBlock[:], buf[4:36])
	copy(h.MerkleRoot[:], buf[36:68])
	h.Timestamp = unixTime(binary.LittleEndian.Uint32(buf[68:]))
	h.Bits = binary.LittleEndian.Uint32(buf[72:])
	h.Nonce = binary.LittleEndian.Uint32(buf[76:])

	return nil
}

type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) need(n int) error {
	if c.pos+n > len(c.buf) {
		return errors.NewCorruptBlockError("want %d bytes at %d, have %d", n, c.pos, len(c.buf))
	}

	return nil
}

func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}

	c.pos += n

	return nil
}

func (c *cursor) varint() (uint64, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}

	d := c.buf[c.pos]
	c.pos++

	switch d {
	case 0xfd:
		if err := c.need(2); err != nil {
			return 0, err
		}

		v := binary.LittleEndian.Uint16(c.buf[c.pos:])
		c.pos += 2

		return uint64(v), nil

	case 0xfe:
		if err := c.need(4); err != nil {
			return 0, err
		}

		v := binary.LittleEndian.Uint32(c.buf[c.pos:])
		c.pos += 4

		return uint64(v), nil

	case 0xff:
		if err := c.need(8); err != nil {
			return 0, err
		}

		v := binary.LittleEndian.Uint64(c.buf[c.pos:])
		c.pos += 8

		return v, nil

	default:
		return uint64(d), nil
	}
}

func (c *cursor) varBytes() error {
	n, err := c.varint()
	if err != nil {
		return err
	}

	return c.skip(int(n))
}

// skipTx advances past one serialized transaction, returning its input and
// output counts. Handles the BIP-144 marker/flag extension.
func (c *cursor) skipTx() (uint32, uint32, error) {
	if err := c.skip(4); err != nil { // version
		return 0, 0, err
	}

	inputs, err := c.varint()
	if err != nil {
		return 0, 0, err
	}

	segwit := false
	if inputs == 0 {
		// BIP-144 marker; the next byte is the flag.
		if err := c.skip(1); err != nil {
			return 0, 0, err
		}

		segwit = true

		if inputs, err = c.varint(); err != nil {
			return 0, 0, err
		}
	}

	for i := uint64(0); i < inputs; i++ {
		if err := c.skip(36); err != nil { // outpoint
			return 0, 0, err
		}

		if err := c.varBytes(); err != nil { // scriptSig
			return 0, 0, err
		}

		if err := c.skip(4); err != nil { // sequence
			return 0, 0, err
		}
	}

	outputs, err := c.varint()
	if err != nil {
		return 0, 0, err
	}

	for i := uint64(0); i < outputs; i++ {
		if err := c.skip(8); err != nil { // value
			return 0, 0, err
		}

		if err := c.varBytes(); err != nil { // pkScript
			return 0, 0, err
		}
	}

	if segwit {
		for i := uint64(0); i < inputs; i++ {
			items, err := c.varint()
			if err != nil {
				return 0, 0, err
			}

			for j := uint64(0); j < items; j++ {
				if err := c.varBytes(); err != nil {
					return 0, 0, err
				}
			}
		}
	}

	if err := c.skip(4); err != nil { // locktime
		return 0, 0, err
	}

	return uint32(inputs), uint32(outputs), nil
}
