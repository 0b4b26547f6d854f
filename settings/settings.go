// Package settings holds the runtime configuration for blockscan. Values are
// read from gocore config keys with sensible defaults so a bare environment
// still works for local parsing.
package settings

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

type Settings struct {
	ClientName     string
	DataFolder     string
	LogLevel       string
	ChainCfgParams *chaincfg.Params

	Ingest *IngestSettings
	RPC    *RPCSettings
}

type IngestSettings struct {
	// BlockDir is the directory holding the node's blkNNNNN.dat files.
	BlockDir string

	// BlockMagic frames every block in a container file.
	BlockMagic wire.BitcoinNet

	// MaxBlockHeight truncates the generated chain; 0 means no limit.
	MaxBlockHeight uint32

	// ErrorOnReorg aborts the run when the persisted tip is no longer on
	// the upstream chain instead of re-ingesting from the split point.
	ErrorOnReorg bool

	QueueCapacity     int64
	QueuePollInterval time.Duration

	// IndexWorkers caps the number of block files scanned concurrently.
	IndexWorkers int

	// CheckpointInterval is the number of transactions between optional
	// saves of the UTXO set and address registry.
	CheckpointInterval uint64

	// RecycleThreshold is the max serialized size of a transaction buffer
	// that is returned to the free list instead of being dropped.
	RecycleThreshold uint32

	// OpenFileCacheSize bounds the reader's cache of open block files.
	OpenFileCacheSize int
}

type RPCSettings struct {
	Enabled  bool
	Host     string
	User     string
	Password string
}

func NewSettings() *Settings {
	params := chainParams(getString("network", "mainnet"))

	return &Settings{
		ClientName:     getString("clientName", "blockscan"),
		DataFolder:     getString("dataFolder", "data"),
		LogLevel:       getString("logLevel", "info"),
		ChainCfgParams: params,
		Ingest: &IngestSettings{
			BlockDir:           getString("ingest_blockDir", "blocks"),
			BlockMagic:         params.Net,
			MaxBlockHeight:     uint32(getInt("ingest_maxBlockHeight", 0)),
			ErrorOnReorg:       getBool("ingest_errorOnReorg", false),
			QueueCapacity:      int64(getInt("pipeline_queueCapacity", 10000)),
			QueuePollInterval:  getDuration("pipeline_queuePollInterval", 100*time.Millisecond),
			IndexWorkers:       getInt("chainindex_workers", 20),
			CheckpointInterval: uint64(getInt("pipeline_checkpointInterval", 1_000_000)),
			RecycleThreshold:   uint32(getInt("pipeline_recycleThreshold", 800)),
			OpenFileCacheSize:  getInt("ingest_openFileCacheSize", 16),
		},
		RPC: &RPCSettings{
			Enabled:  getBool("rpc_enabled", false),
			Host:     getString("rpc_host", "localhost:8332"),
			User:     getString("rpc_user", ""),
			Password: getString("rpc_password", ""),
		},
	}
}

func chainParams(network string) *chaincfg.Params {
	switch network {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
