package pipeline

import (
	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/utxostate"
)

// runUTXOResolver is stage 3: it resolves every input against the unspent
// set, records the new outputs and writes the transaction row. The row only
// becomes visible to stage 4 once it is fully appended.
func (p *Pipeline) runUTXOResolver() {
	defer p.utxoDone.Store(true)

	for {
		tx := p.pop(p.utxoQ, &p.hasherDone)
		if tx == nil {
			return
		}

		if p.failed.Load() {
			continue
		}

		if err := p.resolveTx(tx); err != nil {
			p.fail(err)
			continue
		}

		prometheusPipelineUTXOSetSize.Set(float64(p.utxo.Size()))

		if p.utxo.TxProcessed() {
			if err := p.utxo.Save(); err != nil {
				p.fail(err)
				continue
			}
		}

		// Flushing when stage 4's queue is full makes every row it will
		// read durable before it unblocks.
		p.push(p.addrQ, "addr", tx, func() {
			if err := p.store.FlushTxFile(); err != nil {
				p.fail(err)
			}
		})
	}
}

func (p *Pipeline) resolveTx(tx *model.RawTransaction) error {
	for i := range tx.Inputs {
		in := &tx.Inputs[i]

		entry, err := p.utxo.Spend(utxostate.NewOutPoint(&in.PrevOut.Hash, in.PrevOut.Index))
		if err != nil {
			return errors.NewUTXOMissError("tx %d input %d", tx.TxNum, i, err)
		}

		in.LinkedTxNum = entry.ProducingTxNum
		in.AddressType = entry.AddressType
		in.Value = entry.Value
	}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]

		if !out.Script.AddressType().Spendable() {
			continue
		}

		err := p.utxo.Add(utxostate.NewOutPoint(&tx.Hash, uint32(i)), utxostate.Entry{
			ProducingTxNum: tx.TxNum,
			Value:          out.Value,
			AddressType:    out.Script.AddressType(),
		})
		if err != nil {
			return err
		}
	}

	txNum, _, err := p.store.AppendTx(store.EncodeTxRow(tx))
	if err != nil {
		return err
	}

	if txNum != uint64(tx.TxNum) {
		return errors.NewProcessingError("tx row %d written out of order, expected %d", txNum, tx.TxNum)
	}

	return nil
}
