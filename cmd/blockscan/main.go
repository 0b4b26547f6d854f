// blockscan ingests a node's raw block files (or its RPC feed) into the
// columnar analysis store.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/blockscan/blockscan/addressstate"
	"github.com/blockscan/blockscan/chainindex"
	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/pipeline"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/ulogger"
	"github.com/blockscan/blockscan/utxostate"
)

func main() {
	app := &cli.App{
		Name:  "blockscan",
		Usage: "offline blockchain analysis ingestion engine",
		Commands: []*cli.Command{
			ingestCommand(),
			addressesCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "ingest new blocks into the columnar store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "datadir", Usage: "directory for the columnar store and state files"},
			&cli.StringFlag{Name: "blockdir", Usage: "directory holding the node's blkNNNNN.dat files"},
			&cli.UintFlag{Name: "max-height", Usage: "stop after this height (0 = chain tip)"},
			&cli.BoolFlag{Name: "rpc", Usage: "fetch blocks over RPC instead of reading block files"},
			&cli.BoolFlag{Name: "error-on-reorg", Usage: "abort instead of re-ingesting when the persisted tip was reorged away"},
		},
		Action: runIngest,
	}
}

func runIngest(c *cli.Context) error {
	tSettings := settings.NewSettings()

	if v := c.String("datadir"); v != "" {
		tSettings.DataFolder = v
	}

	if v := c.String("blockdir"); v != "" {
		tSettings.Ingest.BlockDir = v
	}

	if v := c.Uint("max-height"); v != 0 {
		tSettings.Ingest.MaxBlockHeight = uint32(v)
	}

	if c.Bool("rpc") {
		tSettings.RPC.Enabled = true
	}

	if c.Bool("error-on-reorg") {
		tSettings.Ingest.ErrorOnReorg = true
	}

	logger := ulogger.New("blockscan", ulogger.WithLevel(tSettings.LogLevel))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := os.MkdirAll(tSettings.DataFolder, 0o755); err != nil {
		return errors.NewStorageError("failed to create %s", tSettings.DataFolder, err)
	}

	start := time.Now()

	st, err := store.New(logger.New("store"), tSettings)
	if err != nil {
		return err
	}
	defer st.Close()

	chain, fetcher, err := buildChain(ctx, logger, tSettings, st)
	if err != nil {
		return err
	}

	utxo := utxostate.New(logger.New("utxostate"), tSettings)
	if err := utxo.Load(); err != nil {
		return err
	}

	addr, err := addressstate.New(logger.New("addressstate"), tSettings)
	if err != nil {
		return err
	}
	defer addr.Close()

	if err := addr.Load(); err != nil {
		return err
	}

	blocksBefore := st.BlockCount()
	txsBefore := st.TxCount()

	revealed, err := pipeline.New(logger.New("pipeline"), tSettings, st, utxo, addr, fetcher).Run(ctx, chain)
	if err != nil {
		return err
	}

	logger.Infof("ingested %d blocks, %d txs, %d revealed addresses in %s",
		st.BlockCount()-blocksBefore, st.TxCount()-txsBefore, len(revealed), time.Since(start))

	return nil
}

// buildChain updates the chain index from the configured source, handles a
// reorg of the persisted suffix and returns the chain to ingest.
func buildChain(ctx context.Context, logger ulogger.Logger, tSettings *settings.Settings, st *store.Store) ([]*model.BlockInfo, pipeline.BlockFetcher, error) {
	index := chainindex.New(logger.New("chainindex"), tSettings)

	if err := index.Load(); err != nil {
		return nil, nil, err
	}

	var fetcher pipeline.BlockFetcher

	if tSettings.RPC.Enabled {
		client, err := chainindex.NewRPCClient(tSettings)
		if err != nil {
			return nil, nil, err
		}

		if err := index.UpdateFromRPC(ctx, client); err != nil {
			return nil, nil, err
		}

		fetcher = client
	} else {
		if err := index.Update(ctx); err != nil {
			return nil, nil, err
		}
	}

	if err := index.Save(); err != nil {
		return nil, nil, err
	}

	chain, err := index.GenerateChain(tSettings.Ingest.MaxBlockHeight)
	if err != nil {
		return nil, nil, err
	}

	split, err := chainindex.SplitPoint(chain, st)
	if err != nil {
		return nil, nil, err
	}

	if split < st.BlockCount() {
		if tSettings.Ingest.ErrorOnReorg {
			return nil, nil, errors.NewReorgError("persisted tip at height %d is no longer on the chain, split at %d",
				st.BlockCount()-1, split)
		}

		logger.Warnf("reorg: discarding persisted blocks from height %d", split)

		if err := st.TruncateToBlock(split); err != nil {
			return nil, nil, err
		}
	}

	return chain, fetcher, nil
}
