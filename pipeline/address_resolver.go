package pipeline

import (
	"github.com/btcsuite/btcd/txscript"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/store"
)

// runAddressResolver is stage 4: it assigns registry numbers to every
// output, copies them onto the inputs that spend them, finalizes the
// spent-by back-pointers and collects the addresses revealed by script-hash
// spends. Processed buffers small enough to recycle return to the reader.
func (p *Pipeline) runAddressResolver() {
	for {
		tx := p.pop(p.addrQ, &p.utxoDone)
		if tx == nil {
			return
		}

		if p.failed.Load() {
			continue
		}

		if err := p.resolveAddresses(tx); err != nil {
			p.fail(err)
			continue
		}

		prometheusPipelineTxsIngested.Inc()
		prometheusPipelineAddressCount.Set(float64(p.addr.TotalCount()))

		if p.addr.TxProcessed() {
			if err := p.addr.Save(); err != nil {
				p.fail(err)
				continue
			}
		}

		if tx.SizeBytes <= p.settings.Ingest.RecycleThreshold {
			p.freeQ.Enqueue(tx)
		}
	}
}

func (p *Pipeline) resolveAddresses(tx *model.RawTransaction) error {
	txOff, err := p.store.TxOffset(uint64(tx.TxNum))
	if err != nil {
		return err
	}

	for i := range tx.Inputs {
		if err := p.resolveInput(tx, txOff, i); err != nil {
			return err
		}
	}

	for i := range tx.Outputs {
		out := &tx.Outputs[i]

		num, _, err := p.addr.Resolve(out.Script.AddressType(), out.Script.Payload(), tx.TxNum)
		if err != nil {
			return err
		}

		out.ToAddressNum = num

		if err := p.store.PatchInoutToAddressNum(store.OutputOffset(txOff, len(tx.Inputs), i), num); err != nil {
			return err
		}
	}

	return nil
}

// resolveInput reads the producing output's row to learn the spent address,
// patches it onto this input, finalizes the output's spent-by pointer and
// registers any script revealed by the spend.
func (p *Pipeline) resolveInput(tx *model.RawTransaction, txOff uint64, i int) error {
	in := &tx.Inputs[i]

	outOff, err := p.store.OutputRecordOffset(uint64(in.LinkedTxNum), in.PrevOut.Index)
	if err != nil {
		return err
	}

	spent, err := p.store.ReadInoutAt(outOff)
	if err != nil {
		return err
	}

	if spent.ToAddressNum == 0 {
		return errors.NewProcessingError("tx %d input %d spends an output with no address", tx.TxNum, i)
	}

	in.ToAddressNum = spent.ToAddressNum

	if err := p.store.PatchInoutToAddressNum(store.InputOffset(txOff, i), spent.ToAddressNum); err != nil {
		return err
	}

	if err := p.store.PatchOutputLinkedTxNum(outOff, tx.TxNum); err != nil {
		return err
	}

	return p.processReveal(tx, in, spent)
}

// processReveal registers the script exposed by spending a script-hash
// output. The first spend reveals the preimage; the outer address number is
// reported to the caller.
func (p *Pipeline) processReveal(tx *model.RawTransaction, in *model.RawInput, spent *store.InoutRecord) error {
	var preimage []byte

	switch spent.AddressType {
	case model.AddressTypeScriptHash:
		preimage = lastPush(in.ScriptSig)

	case model.AddressTypeWitnessScriptHash:
		if len(in.Witness) > 0 {
			preimage = in.Witness[len(in.Witness)-1]
		}

	default:
		return nil
	}

	if len(preimage) == 0 {
		return nil
	}

	inner := model.ClassifyScript(preimage)

	_, isNew, err := p.addr.Resolve(inner.AddressType(), inner.Payload(), tx.TxNum)
	if err != nil {
		return err
	}

	if isNew {
		p.revealed = append(p.revealed, spent.ToAddressNum)
	}

	return nil
}

// lastPush returns the final data push of a signature script, nil when the
// script does not parse or pushes nothing.
func lastPush(scriptSig []byte) []byte {
	pushes, err := txscript.PushedData(scriptSig)
	if err != nil || len(pushes) == 0 {
		return nil
	}

	return pushes[len(pushes)-1]
}
