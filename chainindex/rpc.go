package chainindex

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
)

// RPCClient is the slice of the node RPC surface the index needs.
type RPCClient interface {
	GetBlockCount() (int64, error)
	GetBlockHash(height int64) (*chainhash.Hash, error)
	GetBlockHeader(hash *chainhash.Hash) (*wire.BlockHeader, error)
}

// NewRPCClient connects to the configured node over HTTP POST.
func NewRPCClient(tSettings *settings.Settings) (*rpcclient.Client, error) {
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         tSettings.RPC.Host,
		User:         tSettings.RPC.User,
		Pass:         tSettings.RPC.Password,
		HTTPPostMode: true,
		DisableTLS:   true,
	}, nil)
	if err != nil {
		return nil, errors.NewServiceError("failed to connect to node at %s", tSettings.RPC.Host, err)
	}

	return client, nil
}

// UpdateFromRPC brings the index up to the node's tip. The split point with
// the locally known chain is found by binary search over block hashes, so a
// restart only fetches headers the node added since.
func (c *ChainIndex) UpdateFromRPC(ctx context.Context, client RPCClient) error {
	tip, err := client.GetBlockCount()
	if err != nil {
		return errors.NewServiceError("getblockcount failed", err)
	}

	local, err := c.localChain()
	if err != nil {
		return err
	}

	split, err := findSplit(client, local, tip)
	if err != nil {
		return err
	}

	c.mu.Lock()
	for _, info := range local[split+1:] {
		delete(c.blocks, info.Hash)
	}
	c.mu.Unlock()

	c.logger.Infof("fetching headers %d..%d from node", split+1, tip)

	for h := split + 1; h <= tip; h++ {
		if err := ctx.Err(); err != nil {
			return errors.NewServiceError("chain index update interrupted", err)
		}

		hash, err := client.GetBlockHash(h)
		if err != nil {
			return errors.NewServiceError("getblockhash %d failed", h, err)
		}

		header, err := client.GetBlockHeader(hash)
		if err != nil {
			return errors.NewServiceError("getblockheader %s failed", hash, err)
		}

		info := &model.BlockInfo{
			Hash:    *hash,
			Header:  *header,
			Height:  int32(h),
			FileNum: -1,
		}

		c.mu.Lock()
		c.blocks[info.Hash] = info
		c.mu.Unlock()
	}

	c.updateHeights()

	return nil
}

func (c *ChainIndex) localChain() ([]*model.BlockInfo, error) {
	if c.BlockCount() == 0 {
		return nil, nil
	}

	chain, err := c.GenerateChain(0)
	if err != nil {
		return nil, err
	}

	return chain, nil
}

// findSplit returns the highest local height whose hash the node agrees on,
// or -1 when nothing matches.
func findSplit(client RPCClient, local []*model.BlockInfo, tip int64) (int64, error) {
	hi := int64(len(local)) - 1
	if tip < hi {
		hi = tip
	}

	lo := int64(0)
	split := int64(-1)

	for lo <= hi {
		mid := (lo + hi) / 2

		hash, err := client.GetBlockHash(mid)
		if err != nil {
			return 0, errors.NewServiceError("getblockhash %d failed", mid, err)
		}

		if *hash == local[mid].Hash {
			split = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}

	return split, nil
}
