package addressstate

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/ulogger"
)

func newTestState(t *testing.T, dataFolder string) *State {
	t.Helper()

	s, err := New(ulogger.NewVerboseTestLogger(t), &settings.Settings{
		DataFolder: dataFolder,
		Ingest: &settings.IngestSettings{
			CheckpointInterval: 2,
		},
	})
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestResolveAssignsDenseNumbers(t *testing.T) {
	s := newTestState(t, t.TempDir())

	for i := 0; i < 5; i++ {
		payload := bytes.Repeat([]byte{byte(i)}, 20)

		num, isNew, err := s.Resolve(model.AddressTypePubkeyHash, payload, uint32(i))
		require.NoError(t, err)
		assert.True(t, isNew)
		assert.Equal(t, uint32(i+1), num, "numbers are dense from 1")
	}

	// Resolving a known payload returns the same number without allocating.
	num, isNew, err := s.Resolve(model.AddressTypePubkeyHash, bytes.Repeat([]byte{0x02}, 20), 99)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, uint32(3), num)

	assert.Equal(t, uint32(5), s.Count(model.AddressTypePubkeyHash))
	assert.Equal(t, uint64(5), s.TotalCount())
}

func TestResolvePartitionsAreIndependent(t *testing.T) {
	s := newTestState(t, t.TempDir())

	payload := bytes.Repeat([]byte{0xaa}, 20)

	n1, isNew, err := s.Resolve(model.AddressTypePubkeyHash, payload, 1)
	require.NoError(t, err)
	assert.True(t, isNew)

	// The identical payload in another partition is a different address.
	n2, isNew, err := s.Resolve(model.AddressTypeScriptHash, payload, 2)
	require.NoError(t, err)
	assert.True(t, isNew)

	assert.Equal(t, uint32(1), n1)
	assert.Equal(t, uint32(1), n2)
}

func TestLookup(t *testing.T) {
	s := newTestState(t, t.TempDir())

	payload := bytes.Repeat([]byte{0x55}, 20)

	assert.Equal(t, uint32(0), s.Lookup(model.AddressTypePubkeyHash, payload))

	num, _, err := s.Resolve(model.AddressTypePubkeyHash, payload, 10)
	require.NoError(t, err)

	assert.Equal(t, num, s.Lookup(model.AddressTypePubkeyHash, payload))
}

func TestReadAddress(t *testing.T) {
	s := newTestState(t, t.TempDir())

	payload := bytes.Repeat([]byte{0x77}, 20)

	num, _, err := s.Resolve(model.AddressTypeScriptHash, payload, 42)
	require.NoError(t, err)

	creationTxNum, got, err := s.ReadAddress(model.AddressTypeScriptHash, num)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), creationTxNum)
	assert.Equal(t, payload, got)

	_, _, err = s.ReadAddress(model.AddressTypeScriptHash, 0)
	assert.Error(t, err)

	_, _, err = s.ReadAddress(model.AddressTypeScriptHash, num+1)
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestState(t, dir)

	type key struct {
		typ     model.AddressType
		payload string
	}

	want := map[key]uint32{}

	for i := 0; i < 50; i++ {
		typ := model.AddressType(i % model.NumAddressTypes)
		payload := bytes.Repeat([]byte{byte(i)}, 20)

		num, isNew, err := s.Resolve(typ, payload, uint32(i))
		require.NoError(t, err)
		require.True(t, isNew)

		want[key{typ, string(payload)}] = num
	}

	require.NoError(t, s.Save())
	require.NoError(t, s.Close())

	restored := newTestState(t, dir)
	require.NoError(t, restored.Load())

	assert.Equal(t, uint64(50), restored.TotalCount())

	// Known payloads keep their numbers across the restart.
	for k, num := range want {
		got, isNew, err := restored.Resolve(k.typ, []byte(k.payload), 999)
		require.NoError(t, err)
		assert.False(t, isNew)
		assert.Equal(t, num, got)
	}

	// New payloads continue the partition counters.
	fresh := bytes.Repeat([]byte{0xfe}, 20)

	num, isNew, err := restored.Resolve(model.AddressTypeNonstandard, fresh, 1000)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, restored.Count(model.AddressTypeNonstandard), num)
}

func TestTxProcessedInterval(t *testing.T) {
	s := newTestState(t, t.TempDir())

	assert.False(t, s.TxProcessed())
	assert.True(t, s.TxProcessed())

	require.NoError(t, s.Save())
	assert.False(t, s.TxProcessed())
}
