package chainindex

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockscan/blockscan/ulogger"
)

// fakeNode serves a header chain the way a node's RPC would.
type fakeNode struct {
	blocks []*wire.MsgBlock

	hashCalls int
}

func (n *fakeNode) GetBlockCount() (int64, error) {
	return int64(len(n.blocks)) - 1, nil
}

func (n *fakeNode) GetBlockHash(height int64) (*chainhash.Hash, error) {
	n.hashCalls++

	hash := n.blocks[height].BlockHash()

	return &hash, nil
}

func (n *fakeNode) GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error) {
	for _, block := range n.blocks {
		if block.BlockHash() == *hash {
			header := block.Header
			return &header, nil
		}
	}

	return nil, assert.AnError
}

func testHeaderChain(length int) []*wire.MsgBlock {
	blocks := make([]*wire.MsgBlock, 0, length)
	prev := chainhash.Hash{}

	for i := 0; i < length; i++ {
		block := testBlock(prev, uint32(i))
		blocks = append(blocks, block)
		prev = block.BlockHash()
	}

	return blocks
}

func TestUpdateFromRPCFresh(t *testing.T) {
	tSettings := newTestSettings(t)
	node := &fakeNode{blocks: testHeaderChain(5)}

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.UpdateFromRPC(context.Background(), node))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	require.Len(t, chain, 5)

	for h, info := range chain {
		assert.Equal(t, node.blocks[h].BlockHash(), info.Hash)
		assert.Equal(t, int32(h), info.Height)
		assert.Equal(t, int32(-1), info.FileNum, "RPC blocks are fetched by hash")
	}
}

func TestUpdateFromRPCIncremental(t *testing.T) {
	tSettings := newTestSettings(t)
	node := &fakeNode{blocks: testHeaderChain(4)}

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.UpdateFromRPC(context.Background(), node))

	// The node extends its chain by two blocks.
	tip := node.blocks[len(node.blocks)-1]
	b4 := testBlock(tip.BlockHash(), 100)
	b5 := testBlock(b4.BlockHash(), 101)
	node.blocks = append(node.blocks, b4, b5)

	require.NoError(t, index.UpdateFromRPC(context.Background(), node))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	require.Len(t, chain, 6)
	assert.Equal(t, b5.BlockHash(), chain[5].Hash)
}

func TestUpdateFromRPCReorg(t *testing.T) {
	tSettings := newTestSettings(t)
	node := &fakeNode{blocks: testHeaderChain(4)}

	index := New(ulogger.NewVerboseTestLogger(t), tSettings)
	require.NoError(t, index.UpdateFromRPC(context.Background(), node))

	// The node reorgs the top two blocks onto a different branch.
	fork1 := testBlock(node.blocks[1].BlockHash(), 200)
	fork2 := testBlock(fork1.BlockHash(), 201)
	fork3 := testBlock(fork2.BlockHash(), 202)
	node.blocks = append(node.blocks[:2], fork1, fork2, fork3)

	require.NoError(t, index.UpdateFromRPC(context.Background(), node))

	chain, err := index.GenerateChain(0)
	require.NoError(t, err)

	require.Len(t, chain, 5)
	assert.Equal(t, node.blocks[1].BlockHash(), chain[1].Hash)
	assert.Equal(t, fork1.BlockHash(), chain[2].Hash)
	assert.Equal(t, fork3.BlockHash(), chain[4].Hash)
}
