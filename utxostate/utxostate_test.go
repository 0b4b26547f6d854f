package utxostate

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/ulogger"
)

func newTestState(t *testing.T, dataFolder string) *State {
	t.Helper()

	return New(ulogger.NewVerboseTestLogger(t), &settings.Settings{
		DataFolder: dataFolder,
		Ingest: &settings.IngestSettings{
			CheckpointInterval: 3,
		},
	})
}

func TestAddSpend(t *testing.T) {
	s := newTestState(t, t.TempDir())

	hash := chainhash.Hash{0x01}
	op := NewOutPoint(&hash, 0)

	entry := Entry{
		ProducingTxNum: 5,
		Value:          5000,
		AddressType:    model.AddressTypePubkeyHash,
	}

	require.NoError(t, s.Add(op, entry))
	assert.Equal(t, 1, s.Size())

	got, err := s.Spend(op)
	require.NoError(t, err)
	assert.Equal(t, entry, got)
	assert.Equal(t, 0, s.Size())

	// Spending twice is a miss.
	_, err = s.Spend(op)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUTXOMissSentinel))
}

func TestAddDuplicate(t *testing.T) {
	s := newTestState(t, t.TempDir())

	hash := chainhash.Hash{0x02}
	op := NewOutPoint(&hash, 1)

	require.NoError(t, s.Add(op, Entry{ProducingTxNum: 1}))

	err := s.Add(op, Entry{ProducingTxNum: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrProcessingSentinel))
}

func TestOutPointIndexes(t *testing.T) {
	hash := chainhash.Hash{0x03}

	// Different output indexes of the same tx are distinct keys.
	assert.NotEqual(t, NewOutPoint(&hash, 0), NewOutPoint(&hash, 1))

	other := chainhash.Hash{0x04}
	assert.NotEqual(t, NewOutPoint(&hash, 0), NewOutPoint(&other, 0))
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := newTestState(t, dir)

	entries := map[uint32]Entry{}

	for i := uint32(0); i < 100; i++ {
		hash := chainhash.Hash{byte(i), byte(i >> 8)}
		e := Entry{
			ProducingTxNum: i,
			Value:          uint64(i) * 1000,
			AddressType:    model.AddressType(i % uint32(model.NumAddressTypes)),
		}

		require.NoError(t, s.Add(NewOutPoint(&hash, i%4), e))

		entries[i] = e
	}

	require.NoError(t, s.Save())

	restored := newTestState(t, dir)
	require.NoError(t, restored.Load())

	assert.Equal(t, 100, restored.Size())

	for i := uint32(0); i < 100; i++ {
		hash := chainhash.Hash{byte(i), byte(i >> 8)}

		got, err := restored.Spend(NewOutPoint(&hash, i%4))
		require.NoError(t, err)
		assert.Equal(t, entries[i], got)
	}
}

func TestLoadMissingIsFreshStart(t *testing.T) {
	s := newTestState(t, t.TempDir())

	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Size())
}

func TestTxProcessedInterval(t *testing.T) {
	s := newTestState(t, t.TempDir())

	assert.False(t, s.TxProcessed())
	assert.False(t, s.TxProcessed())
	assert.True(t, s.TxProcessed(), "third transaction reaches the interval")

	// Save resets the counter.
	require.NoError(t, s.Save())
	assert.False(t, s.TxProcessed())
}
