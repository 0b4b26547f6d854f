package store

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockscan/blockscan/model"
)

func TestBlockRecordRoundTrip(t *testing.T) {
	r := &BlockRecord{
		FirstTxNum:     100,
		TxCount:        25,
		Height:         500,
		Hash:           chainhash.Hash{0xde, 0xad},
		Version:        0x20000000,
		Time:           1600000000,
		Bits:           0x1d00ffff,
		Nonce:          987654321,
		CoinbaseOffset: 1 << 33,
	}

	buf := r.Bytes()
	require.Len(t, buf, BlockRecordSize)

	got := &BlockRecord{}
	got.FromBytes(buf)

	assert.Equal(t, r, got)
}

func TestTxHeaderRecordRoundTrip(t *testing.T) {
	r := &TxHeaderRecord{
		SizeBytes:   250,
		Locktime:    650000,
		Version:     2,
		InputCount:  3,
		OutputCount: 2,
		Segwit:      1,
	}

	buf := r.AppendTo(nil)
	require.Len(t, buf, TxHeaderSize)

	got := &TxHeaderRecord{}
	got.FromBytes(buf)

	assert.Equal(t, r, got)
}

func TestInoutRecordRoundTrip(t *testing.T) {
	r := &InoutRecord{
		LinkedTxNum:  77,
		ToAddressNum: 12,
		AddressType:  model.AddressTypeScriptHash,
		Value:        21_000_000_0000_0000,
	}

	buf := r.AppendTo(nil)
	require.Len(t, buf, InoutSize)

	got := &InoutRecord{}
	got.FromBytes(buf)

	assert.Equal(t, r, got)
}

func TestRowOffsets(t *testing.T) {
	const txOffset = 1000

	assert.Equal(t, uint64(txOffset+TxHeaderSize), InputOffset(txOffset, 0))
	assert.Equal(t, uint64(txOffset+TxHeaderSize+2*InoutSize), InputOffset(txOffset, 2))

	// Outputs follow the inputs within the row.
	assert.Equal(t, InputOffset(txOffset, 3), OutputOffset(txOffset, 3, 0))
	assert.Equal(t, uint64(txOffset+TxHeaderSize+4*InoutSize), OutputOffset(txOffset, 3, 1))

	assert.Equal(t, TxHeaderSize+5*InoutSize, TxRowSize(3, 2))
}
