package model

// AddressType partitions the address registry. The numeric values are
// persisted in Inout records and must not be reordered.
type AddressType uint8

const (
	AddressTypeNonstandard AddressType = iota
	AddressTypePubkey
	AddressTypePubkeyHash
	AddressTypeScriptHash
	AddressTypeMultisig
	AddressTypeNullData
	AddressTypeWitnessPubkeyHash
	AddressTypeWitnessScriptHash
	AddressTypeWitnessUnknown

	NumAddressTypes = int(AddressTypeWitnessUnknown) + 1
)

var addressTypeNames = [NumAddressTypes]string{
	"nonstandard",
	"pubkey",
	"pubkeyhash",
	"scripthash",
	"multisig",
	"nulldata",
	"witness_pubkeyhash",
	"witness_scripthash",
	"witness_unknown",
}

func (t AddressType) String() string {
	if int(t) < len(addressTypeNames) {
		return addressTypeNames[t]
	}

	return "invalid"
}

// Spendable reports whether an output of this type can appear in the UTXO
// set. Provably unspendable null-data outputs are excluded; nonstandard
// scripts stay spendable.
func (t AddressType) Spendable() bool {
	return t != AddressTypeNullData
}
