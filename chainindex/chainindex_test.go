package chainindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/ulogger"
)

const testMagic = wire.MainNet

func newTestSettings(t *testing.T) *settings.Settings {
	t.Helper()

	return &settings.Settings{
		DataFolder: t.TempDir(),
		Ingest: &settings.IngestSettings{
			BlockDir:     t.TempDir(),
			BlockMagic:   testMagic,
			IndexWorkers: 2,
		},
	}
}

func testCoinbase(height byte) *wire.MsgTx {
	msg := wire.NewMsgTx(wire.TxVersion)
	msg.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Index: wire.MaxPrevOutIndex},
		SignatureScript:  []byte{0x01, height},
		Sequence:         wire.MaxTxInSequenceNum,
	})
	msg.AddTxOut(wire.NewTxOut(50_0000_0000, []byte{0x51}))

	return msg
}

func testBlock(prev chainhash.Hash, nonce uint32, extraTxs ...*wire.MsgTx) *wire.MsgBlock {
	block := &wire.MsgBlock{
		Header: wire.BlockHeader{
			Version:   1,
			PrevBlock: prev,
			Timestamp: time.Unix(1600000000, 0),
			Bits:      0x1d00ffff,
			Nonce:     nonce,
		},
	}

	if err := block.AddTransaction(testCoinbase(byte(nonce))); err != nil {
		panic(err)
	}

	for _, tx := range extraTxs {
		if err := block.AddTransaction(tx); err != nil {
			panic(err)
		}
	}

	return block
}

func writeBlockFile(t *testing.T, dir string, fileNum int, blocks ...*wire.MsgBlock) {
	t.Helper()

	path := filepath.Join(dir, fmt.Sprintf("blk%05d.dat", fileNum))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	for _, block := range blocks {
		writeFrame(t, f, block)
	}

	// Nodes preallocate container files; trailing zeroes end the scan.
	_, err = f.Write(make([]byte, 16))
	require.NoError(t, err)
}

func writeFrame(t *testing.T, f *os.File, block *wire.MsgBlock) {
	t.Helper()

	var frame [8]byte

	binary.LittleEndian.PutUint32(frame[0:], uint32(testMagic))
	binary.LittleEndian.PutUint32(frame[4:], uint32(block.SerializeSize()))

	_, err := f.Write(frame[:])
	require.NoError(t, err)

	require.NoError(t, block.Serialize(f))
}

func TestUpdateAssignsHeights(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)
	b1 := testBlock(genesis.BlockHash(), 1)
	b2 := testBlock(b1.BlockHash(), 2)
	orphan := testBlock(chainhash.Hash{0xff}, 99)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, b1, orphan, b2)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))

	assert.Equal(t, 4, index.BlockCount())

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	require.Len(t, chain, 3, "the orphan never makes it into the chain")
	assert.Equal(t, genesis.BlockHash(), chain[0].Hash)
	assert.Equal(t, b1.BlockHash(), chain[1].Hash)
	assert.Equal(t, b2.BlockHash(), chain[2].Hash)

	for h, info := range chain {
		assert.Equal(t, int32(h), info.Height)
	}
}

func TestGenerateChainMaxHeight(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)
	b1 := testBlock(genesis.BlockHash(), 1)
	b2 := testBlock(b1.BlockHash(), 2)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, b1, b2)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))

	chain, err := index.GenerateChain(1)
	require.NoError(t, err)

	require.Len(t, chain, 2)
	assert.Equal(t, b1.BlockHash(), chain[1].Hash)
}

func TestGenerateChainPicksLongestFork(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)
	short := testBlock(genesis.BlockHash(), 10)
	long1 := testBlock(genesis.BlockHash(), 20)
	long2 := testBlock(long1.BlockHash(), 21)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, short, long1, long2)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	require.Len(t, chain, 3)
	assert.Equal(t, long1.BlockHash(), chain[1].Hash)
	assert.Equal(t, long2.BlockHash(), chain[2].Hash)
}

func TestScanCountsInputsAndOutputs(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)

	spend := wire.NewMsgTx(wire.TxVersion)
	spend.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{Hash: chainhash.Hash{0x01}, Index: 0},
		SignatureScript:  []byte{0x01, 0x2a},
	})
	spend.AddTxOut(wire.NewTxOut(100, []byte{0x51}))
	spend.AddTxOut(wire.NewTxOut(200, []byte{0x52}))

	b1 := testBlock(genesis.BlockHash(), 1, spend)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, b1)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)
	require.Len(t, chain, 2)

	// The coinbase's null input is not counted.
	assert.Equal(t, uint32(2), chain[1].TxCount)
	assert.Equal(t, uint32(1), chain[1].InputCount)
	assert.Equal(t, uint32(3), chain[1].OutputCount)

	assert.Equal(t, uint32(1), chain[0].TxCount)
	assert.Equal(t, uint32(0), chain[0].InputCount)
}

func TestSaveLoadAndResume(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)
	b1 := testBlock(genesis.BlockHash(), 1)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, b1)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))
	require.NoError(t, index.Save())

	// A second container file appears before the next run.
	b2 := testBlock(b1.BlockHash(), 2)
	writeBlockFile(t, tSettings.Ingest.BlockDir, 1, b2)

	resumed := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, resumed.Load())
	assert.Equal(t, 2, resumed.BlockCount())

	require.NoError(t, resumed.Update(context.Background()))
	assert.Equal(t, 3, resumed.BlockCount())

	chain, err := resumed.GenerateChain(0)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, b2.BlockHash(), chain[2].Hash)
	assert.Equal(t, int32(1), chain[2].FileNum)
}

func TestUpdateTruncatedBlockIsCorrupt(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)

	path := filepath.Join(tSettings.Ingest.BlockDir, "blk00000.dat")

	f, err := os.Create(path)
	require.NoError(t, err)

	var frame [8]byte

	binary.LittleEndian.PutUint32(frame[0:], uint32(testMagic))
	binary.LittleEndian.PutUint32(frame[4:], uint32(genesis.SerializeSize()))

	_, err = f.Write(frame[:])
	require.NoError(t, err)

	// Write only part of the promised block body.
	var body [40]byte
	_, err = f.Write(body[:])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)

	err = index.Update(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCorruptBlockSentinel))
}

func TestUpdateNoBlockFiles(t *testing.T) {
	tSettings := newTestSettings(t)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)

	err := index.Update(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConfigurationSentinel))
}

func TestSplitPoint(t *testing.T) {
	tSettings := newTestSettings(t)

	genesis := testBlock(chainhash.Hash{}, 0)
	b1 := testBlock(genesis.BlockHash(), 1)
	b2 := testBlock(b1.BlockHash(), 2)

	writeBlockFile(t, tSettings.Ingest.BlockDir, 0, genesis, b1, b2)

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.Update(context.Background()))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	st, err := store.New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, err)
	defer st.Close()

	// Empty store: nothing persisted agrees trivially.
	split, err := SplitPoint(chain, st)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), split)

	_, err = st.AppendBlock(&store.BlockRecord{Height: 0, Hash: chain[0].Hash})
	require.NoError(t, err)
	_, err = st.AppendBlock(&store.BlockRecord{Height: 1, Hash: chain[1].Hash})
	require.NoError(t, err)

	split, err = SplitPoint(chain, st)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), split, "persisted prefix matches")

	// Replace the persisted tip with a block that was reorged away.
	require.NoError(t, st.TruncateToBlock(1))

	_, err = st.AppendBlock(&store.BlockRecord{Height: 1, Hash: chainhash.Hash{0xde, 0xad}})
	require.NoError(t, err)

	split, err = SplitPoint(chain, st)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), split, "split counts the leading blocks that still agree")
}
