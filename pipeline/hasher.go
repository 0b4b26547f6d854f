package pipeline

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// runHasher is stage 2: it fills in each transaction's canonical hash (the
// double SHA-256 of the non-witness serialization) and appends it to the
// hash column. A hash already set by the reader is kept as-is.
func (p *Pipeline) runHasher() {
	defer p.hasherDone.Store(true)

	var zero chainhash.Hash

	for {
		tx := p.pop(p.hashQ, &p.readerDone)
		if tx == nil {
			return
		}

		if p.failed.Load() {
			continue
		}

		if tx.Hash == zero {
			tx.Hash = tx.Msg.TxHash()
		}

		if err := p.store.AppendTxHash(&tx.Hash); err != nil {
			p.fail(err)
			continue
		}

		p.push(p.utxoQ, "utxo", tx, nil)
	}
}
