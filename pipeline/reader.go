package pipeline

import (
	"bytes"
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/store"
)

const progressLogInterval = 1000

// genesisCoinbaseHash is the synthetic hash given to the genesis coinbase in
// RPC mode, where the node cannot serve the transaction itself.
var genesisCoinbaseHash = chainhash.Hash{0x01}

// runReader is stage 1: it fetches each block of the chain, parses its
// transactions and feeds them to the hasher. Per block it also writes the
// sequence groups, the coinbase script and the block row.
func (p *Pipeline) runReader(ctx context.Context, chain []*model.BlockInfo) {
	defer p.readerDone.Store(true)

	files := newFileCache(p.settings)
	defer files.closeAll()

	txNum := uint32(p.store.TxCount())

	for i, info := range chain {
		if p.failed.Load() {
			return
		}

		if err := ctx.Err(); err != nil {
			p.fail(errors.NewServiceError("ingest interrupted at height %d", info.Height, err))
			return
		}

		block, err := p.fetchBlock(files, info)
		if err != nil {
			p.fail(err)
			return
		}

		next, err := p.processBlock(files, info, block, txNum)
		if err != nil {
			p.fail(err)
			return
		}

		txNum = next

		prometheusPipelineBlocksIngested.Inc()

		if (i+1)%progressLogInterval == 0 {
			p.logger.Infof("read %d/%d blocks, %d txs", i+1, len(chain), txNum)
		}
	}
}

func (p *Pipeline) fetchBlock(files *fileCache, info *model.BlockInfo) (*wire.MsgBlock, error) {
	if info.FileNum < 0 {
		block, err := p.rpc.GetBlock(&info.Hash)
		if err != nil {
			return nil, errors.NewServiceError("getblock %s failed", info.Hash, err)
		}

		return block, nil
	}

	f, err := files.get(info.FileNum)
	if err != nil {
		return nil, err
	}

	body := make([]byte, info.Size)
	if _, err := f.ReadAt(body, int64(info.Offset)); err != nil {
		return nil, errors.NewStorageError("failed to read block %s from file %d", info.Hash, info.FileNum, err)
	}

	block := &wire.MsgBlock{}
	if err := block.Deserialize(bytes.NewReader(body)); err != nil {
		return nil, errors.NewCorruptBlockError("failed to parse block %s", info.Hash, err)
	}

	return block, nil
}

func (p *Pipeline) processBlock(files *fileCache, info *model.BlockInfo, block *wire.MsgBlock, txNum uint32) (uint32, error) {
	if len(block.Transactions) == 0 || !model.IsCoinbase(block.Transactions[0]) {
		return 0, errors.NewCorruptBlockError("block %s has no coinbase", info.Hash)
	}

	segwit := blockIsSegwit(block.Transactions[0])
	firstTxNum := txNum
	coinbase := block.Transactions[0].TxIn[0].SignatureScript

	for _, msg := range block.Transactions {
		tx := p.nextBuffer(files)

		seqs := make([]uint32, len(msg.TxIn))
		for i, in := range msg.TxIn {
			seqs[i] = in.Sequence
		}

		if err := p.store.AppendSequences(seqs); err != nil {
			return 0, err
		}

		tx.FromMsgTx(msg, txNum, uint32(info.Height), segwit)

		if info.FileNum < 0 && info.Height == 0 && tx.IsCoinbase {
			tx.Hash = genesisCoinbaseHash
		}

		files.noteTx(info.FileNum, txNum)

		p.push(p.hashQ, "hash", tx, nil)

		txNum++
	}

	coinbaseOffset, err := p.store.AppendCoinbase(coinbase)
	if err != nil {
		return 0, err
	}

	_, err = p.store.AppendBlock(&store.BlockRecord{
		FirstTxNum:     firstTxNum,
		TxCount:        uint32(len(block.Transactions)),
		Height:         uint32(info.Height),
		Hash:           info.Hash,
		Version:        uint32(block.Header.Version),
		Time:           uint32(block.Header.Timestamp.Unix()),
		Bits:           block.Header.Bits,
		Nonce:          block.Header.Nonce,
		CoinbaseOffset: coinbaseOffset,
	})
	if err != nil {
		return 0, err
	}

	return txNum, nil
}

// nextBuffer recycles a retired transaction from the free list when one is
// available. The retired txNum doubles as the watermark that lets finished
// container files close.
func (p *Pipeline) nextBuffer(files *fileCache) *model.RawTransaction {
	if v := p.freeQ.Dequeue(); v != nil {
		tx := *v

		files.closeFinished(tx.TxNum)
		tx.Reset()

		return tx
	}

	return &model.RawTransaction{}
}

// blockIsSegwit inspects the coinbase outputs last to first for the witness
// commitment that marks the whole block segwit-active.
func blockIsSegwit(coinbase *wire.MsgTx) bool {
	for i := len(coinbase.TxOut) - 1; i >= 0; i-- {
		nd, ok := model.ClassifyScript(coinbase.TxOut[i].PkScript).(model.NullDataScript)
		if ok && nd.IsSegwitCommitment() {
			return true
		}
	}

	return false
}
