package model

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// RawOutPoint identifies the output an input spends.
type RawOutPoint struct {
	Hash  chainhash.Hash
	Index uint32
}

// RawInput is one transaction input plus the linkage fields filled in by the
// UTXO and address resolution stages. LinkedTxNum and Value come from the
// spent output; ToAddressNum is assigned by the address registry.
type RawInput struct {
	PrevOut   RawOutPoint
	ScriptSig []byte
	Witness   [][]byte
	Sequence  uint32

	AddressType  AddressType
	LinkedTxNum  uint32
	ToAddressNum uint32
	Value        uint64
}

// RawOutput is one transaction output with its classified script.
type RawOutput struct {
	Value  uint64
	Script ScriptOutput

	// ToAddressNum is assigned by the address registry. The spending
	// transaction's number is patched into the on-disk output row, not
	// into this struct.
	ToAddressNum uint32
}

// RawTransaction carries a transaction through the pipeline. It is pooled;
// Reset prepares an instance for reuse without dropping the backing slices.
type RawTransaction struct {
	TxNum       uint32
	BlockHeight uint32

	// SizeBytes is the full serialized size including witness data.
	SizeBytes uint32

	Version  int32
	Locktime uint32

	IsSegwit   bool
	IsCoinbase bool

	Hash chainhash.Hash

	// Coinbase holds the coinbase input script, captured before the
	// inputs are cleared for the rest of the pipeline.
	Coinbase []byte

	Inputs  []RawInput
	Outputs []RawOutput

	// Msg is the decoded wire transaction, kept until the hash is
	// computed from its non-witness serialization.
	Msg *wire.MsgTx
}

// Reset clears the transaction for reuse from a free list.
func (tx *RawTransaction) Reset() {
	tx.TxNum = 0
	tx.BlockHeight = 0
	tx.SizeBytes = 0
	tx.Version = 0
	tx.Locktime = 0
	tx.IsSegwit = false
	tx.IsCoinbase = false
	tx.Hash = chainhash.Hash{}
	tx.Coinbase = nil
	tx.Inputs = tx.Inputs[:0]
	tx.Outputs = tx.Outputs[:0]
	tx.Msg = nil
}

// FromMsgTx fills the transaction from a decoded wire message, classifying
// every output script. segwit is the block-level activation flag, not
// witness presence in this transaction. The coinbase input script is
// captured and the inputs cleared so downstream stages never try to resolve
// the null outpoint.
func (tx *RawTransaction) FromMsgTx(msg *wire.MsgTx, txNum, height uint32, segwit bool) {
	tx.TxNum = txNum
	tx.BlockHeight = height
	tx.Version = msg.Version
	tx.Locktime = msg.LockTime
	tx.IsSegwit = segwit
	tx.IsCoinbase = IsCoinbase(msg)
	tx.Msg = msg
	tx.SizeBytes = uint32(msg.SerializeSize())

	if cap(tx.Inputs) < len(msg.TxIn) {
		tx.Inputs = make([]RawInput, 0, len(msg.TxIn))
	}
	tx.Inputs = tx.Inputs[:0]

	for _, in := range msg.TxIn {
		tx.Inputs = append(tx.Inputs, RawInput{
			PrevOut: RawOutPoint{
				Hash:  in.PreviousOutPoint.Hash,
				Index: in.PreviousOutPoint.Index,
			},
			ScriptSig: in.SignatureScript,
			Witness:   in.Witness,
			Sequence:  in.Sequence,
		})
	}

	if tx.IsCoinbase {
		tx.Coinbase = msg.TxIn[0].SignatureScript
		tx.Inputs = tx.Inputs[:0]
	}

	if cap(tx.Outputs) < len(msg.TxOut) {
		tx.Outputs = make([]RawOutput, 0, len(msg.TxOut))
	}
	tx.Outputs = tx.Outputs[:0]

	for _, out := range msg.TxOut {
		tx.Outputs = append(tx.Outputs, RawOutput{
			Value:  uint64(out.Value),
			Script: ClassifyScript(out.PkScript),
		})
	}
}

// SegwitCommitmentIndex scans the outputs last to first for the BIP-141
// witness commitment, returning -1 when none is present. Only meaningful on
// the coinbase transaction.
func (tx *RawTransaction) SegwitCommitmentIndex() int {
	for i := len(tx.Outputs) - 1; i >= 0; i-- {
		nd, ok := tx.Outputs[i].Script.(NullDataScript)
		if ok && nd.IsSegwitCommitment() {
			return i
		}
	}

	return -1
}

// IsCoinbase reports whether msg carries the null coinbase input.
func IsCoinbase(msg *wire.MsgTx) bool {
	if len(msg.TxIn) != 1 {
		return false
	}

	prev := &msg.TxIn[0].PreviousOutPoint

	return prev.Index == wire.MaxPrevOutIndex && prev.Hash == chainhash.Hash{}
}

func timeFromUnix(u uint32) time.Time {
	return time.Unix(int64(u), 0)
}
