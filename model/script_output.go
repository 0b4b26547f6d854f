package model

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/txscript"
)

// segwitCommitmentMagic is the BIP-141 commitment tag carried in a coinbase
// null-data output.
var segwitCommitmentMagic = []byte{0xaa, 0x21, 0xa9, 0xed}

// ScriptOutput is the decoded form of an output script, one variant per
// address type. Payload returns the bytes that identify the address within
// its partition (the registry fingerprint).
type ScriptOutput interface {
	AddressType() AddressType
	Payload() []byte
}

type NonstandardScript struct {
	Raw []byte
}

func (s NonstandardScript) AddressType() AddressType { return AddressTypeNonstandard }
func (s NonstandardScript) Payload() []byte          { return s.Raw }

type PubkeyScript struct {
	Pubkey []byte
}

func (s PubkeyScript) AddressType() AddressType { return AddressTypePubkey }
func (s PubkeyScript) Payload() []byte          { return s.Pubkey }

type PubkeyHashScript struct {
	Hash []byte
}

func (s PubkeyHashScript) AddressType() AddressType { return AddressTypePubkeyHash }
func (s PubkeyHashScript) Payload() []byte          { return s.Hash }

type ScriptHashScript struct {
	Hash []byte
}

func (s ScriptHashScript) AddressType() AddressType { return AddressTypeScriptHash }
func (s ScriptHashScript) Payload() []byte          { return s.Hash }

type MultisigScript struct {
	Raw []byte
}

func (s MultisigScript) AddressType() AddressType { return AddressTypeMultisig }
func (s MultisigScript) Payload() []byte          { return s.Raw }

type NullDataScript struct {
	Data []byte
}

func (s NullDataScript) AddressType() AddressType { return AddressTypeNullData }
func (s NullDataScript) Payload() []byte          { return s.Data }

// IsSegwitCommitment reports whether this null-data output carries the
// BIP-141 witness commitment: the 4-byte tag followed by a 32-byte
// commitment hash.
func (s NullDataScript) IsSegwitCommitment() bool {
	return len(s.Data) >= 36 && bytes.Equal(s.Data[:4], segwitCommitmentMagic)
}

type WitnessPubkeyHashScript struct {
	Hash []byte
}

func (s WitnessPubkeyHashScript) AddressType() AddressType { return AddressTypeWitnessPubkeyHash }
func (s WitnessPubkeyHashScript) Payload() []byte          { return s.Hash }

type WitnessScriptHashScript struct {
	Hash []byte
}

func (s WitnessScriptHashScript) AddressType() AddressType { return AddressTypeWitnessScriptHash }
func (s WitnessScriptHashScript) Payload() []byte          { return s.Hash }

type WitnessUnknownScript struct {
	Version byte
	Program []byte
}

func (s WitnessUnknownScript) AddressType() AddressType { return AddressTypeWitnessUnknown }

func (s WitnessUnknownScript) Payload() []byte {
	p := make([]byte, 0, 1+len(s.Program))
	p = append(p, s.Version)
	p = append(p, s.Program...)

	return p
}

// ClassifyScript decodes a raw output script into its ScriptOutput variant.
// Scripts matching no known template classify as nonstandard; they remain
// spendable.
func ClassifyScript(pkScript []byte) ScriptOutput {
	switch txscript.GetScriptClass(pkScript) {
	case txscript.PubKeyTy:
		// <pubkey> OP_CHECKSIG
		return PubkeyScript{Pubkey: pkScript[1 : 1+pkScript[0]]}

	case txscript.PubKeyHashTy:
		// OP_DUP OP_HASH160 <20> OP_EQUALVERIFY OP_CHECKSIG
		return PubkeyHashScript{Hash: pkScript[3:23]}

	case txscript.ScriptHashTy:
		// OP_HASH160 <20> OP_EQUAL
		return ScriptHashScript{Hash: pkScript[2:22]}

	case txscript.MultiSigTy:
		return MultisigScript{Raw: pkScript}

	case txscript.NullDataTy:
		data, err := txscript.PushedData(pkScript)
		if err != nil || len(data) == 0 {
			return NullDataScript{Data: nil}
		}

		return NullDataScript{Data: flatten(data)}

	case txscript.WitnessV0PubKeyHashTy:
		// OP_0 <20>
		return WitnessPubkeyHashScript{Hash: pkScript[2:22]}

	case txscript.WitnessV0ScriptHashTy:
		// OP_0 <32>
		return WitnessScriptHashScript{Hash: pkScript[2:34]}

	case txscript.WitnessV1TaprootTy:
		return WitnessUnknownScript{Version: 1, Program: pkScript[2:34]}

	default:
		return NonstandardScript{Raw: pkScript}
	}
}

// ScriptFingerprint is the registry key for a script payload: the address
// type byte followed by the payload bytes.
func ScriptFingerprint(typ AddressType, payload []byte) []byte {
	fp := make([]byte, 0, 1+len(payload))
	fp = append(fp, byte(typ))
	fp = append(fp, payload...)

	return fp
}

// SequenceBytes encodes a sequence number group entry.
func SequenceBytes(seq uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], seq)

	return b[:]
}

func flatten(pushes [][]byte) []byte {
	size := 0
	for _, p := range pushes {
		size += len(p)
	}

	out := make([]byte, 0, size)
	for _, p := range pushes {
		out = append(out, p...)
	}

	return out
}
