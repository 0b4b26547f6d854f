// Package chainindex discovers blocks, assigns heights and produces the
// ordered chain the pipeline ingests. Blocks come either from the node's
// blkNNNNN.dat container files or over RPC. The index is persisted so later
// runs resume from the newest container file instead of rescanning all of
// them.
package chainindex

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/ulogger"
)

const stateFile = "chainindex.dat"

type ChainIndex struct {
	logger   ulogger.Logger
	settings *settings.Settings

	mu     sync.Mutex
	blocks map[chainhash.Hash]*model.BlockInfo

	// newestFile is the highest container file scanned so far; it is
	// rescanned on the next update because the node appends to it.
	newestFile int32
}

func New(logger ulogger.Logger, tSettings *settings.Settings) *ChainIndex {
	return &ChainIndex{
		logger:     logger,
		settings:   tSettings,
		blocks:     make(map[chainhash.Hash]*model.BlockInfo),
		newestFile: -1,
	}
}

// BlockCount returns the number of indexed blocks.
func (c *ChainIndex) BlockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.blocks)
}

// Update scans the container files in the configured block directory,
// starting from the persisted resume point, and reassigns heights.
func (c *ChainIndex) Update(ctx context.Context) error {
	first := c.newestFile
	if first < 0 {
		first = 0
	}

	// The newest file is rescanned in full; forget its blocks first so
	// the scan repopulates them.
	c.mu.Lock()
	for hash, info := range c.blocks {
		if info.FileNum >= first {
			delete(c.blocks, hash)
		}
	}
	c.mu.Unlock()

	paths := c.containerFiles(first)
	if len(paths) == 0 && len(c.blocks) == 0 {
		return errors.NewConfigurationError("no block files found in %s", c.settings.Ingest.BlockDir)
	}

	c.logger.Infof("scanning %d block files from file %d", len(paths), first)

	start := time.Now()

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.settings.Ingest.IndexWorkers)
		scanErr  error
		scanErrM sync.Mutex
	)

	for i, path := range paths {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		sem <- struct{}{}

		go func(fileNum int32, path string) {
			defer wg.Done()
			defer func() { <-sem }()

			blocks, err := scanBlockFile(path, fileNum, c.settings.Ingest.BlockMagic)
			if err != nil {
				scanErrM.Lock()
				if scanErr == nil {
					scanErr = err
				}
				scanErrM.Unlock()

				return
			}

			c.mu.Lock()
			for _, info := range blocks {
				c.blocks[info.Hash] = info
			}
			c.mu.Unlock()
		}(first+int32(i), path)
	}

	wg.Wait()

	if scanErr != nil {
		return scanErr
	}

	if err := ctx.Err(); err != nil {
		return errors.NewServiceError("chain index update interrupted", err)
	}

	c.newestFile = first + int32(len(paths)) - 1

	c.updateHeights()

	c.logger.Infof("chain index holds %d blocks after %s", len(c.blocks), time.Since(start))

	return nil
}

func (c *ChainIndex) containerFiles(first int32) []string {
	var paths []string

	for n := first; ; n++ {
		path := filepath.Join(c.settings.Ingest.BlockDir, fmt.Sprintf("blk%05d.dat", n))
		if _, err := os.Stat(path); err != nil {
			break
		}

		paths = append(paths, path)
	}

	return paths
}

// updateHeights walks the parent/child graph breadth-first from the genesis
// predecessor (the zero hash). Blocks whose ancestry does not reach genesis
// keep height -1 and never make it into a generated chain.
func (c *ChainIndex) updateHeights() {
	c.mu.Lock()
	defer c.mu.Unlock()

	children := make(map[chainhash.Hash][]*model.BlockInfo, len(c.blocks))
	for _, info := range c.blocks {
		info.Height = -1
		children[info.Header.PrevBlock] = append(children[info.Header.PrevBlock], info)
	}

	var zero chainhash.Hash

	queue := make([]*model.BlockInfo, 0, len(c.blocks))

	for _, root := range children[zero] {
		root.Height = 0
		queue = append(queue, root)
	}

	for len(queue) > 0 {
		parent := queue[0]
		queue = queue[1:]

		for _, child := range children[parent.Hash] {
			child.Height = parent.Height + 1
			queue = append(queue, child)
		}
	}
}

// GenerateChain returns the best chain in height order: it walks back from
// the highest block to genesis. A non-zero maxHeight truncates the result.
func (c *ChainIndex) GenerateChain(maxHeight uint32) ([]*model.BlockInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *model.BlockInfo

	for _, info := range c.blocks {
		if info.Height < 0 {
			continue
		}

		if best == nil || info.Height > best.Height {
			best = info
		}
	}

	if best == nil {
		return nil, errors.NewBlockNotFoundError("no block connects to genesis")
	}

	chain := make([]*model.BlockInfo, best.Height+1)

	var zero chainhash.Hash

	for info := best; ; {
		chain[info.Height] = info

		if info.Header.PrevBlock == zero {
			break
		}

		parent, ok := c.blocks[info.Header.PrevBlock]
		if !ok {
			return nil, errors.NewBlockNotFoundError("missing parent %s of block %s", info.Header.PrevBlock, info.Hash)
		}

		info = parent
	}

	if maxHeight > 0 && uint32(len(chain)) > maxHeight+1 {
		chain = chain[:maxHeight+1]
	}

	return chain, nil
}

// SplitPoint compares the generated chain against the rows already persisted
// and returns the number of leading blocks they agree on. A split below the
// persisted tip means the old tip was reorged away.
func SplitPoint(chain []*model.BlockInfo, st *store.Store) (uint64, error) {
	persisted := st.BlockCount()

	n := persisted
	if uint64(len(chain)) < n {
		n = uint64(len(chain))
	}

	for i := uint64(0); i < n; i++ {
		rec, err := st.ReadBlock(i)
		if err != nil {
			return 0, err
		}

		if rec.Hash != chain[i].Hash {
			return i, nil
		}
	}

	return n, nil
}

// Load restores the persisted index. A missing state file is a fresh start.
func (c *ChainIndex) Load() error {
	path := filepath.Join(c.settings.DataFolder, stateFile)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return errors.NewStorageError("failed to open %s", path, err)
	}
	defer f.Close()

	var countBuf [4]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return errors.NewStorageError("failed to read %s", path, err)
	}

	count := binary.LittleEndian.Uint32(countBuf[:])

	c.mu.Lock()
	defer c.mu.Unlock()

	c.blocks = make(map[chainhash.Hash]*model.BlockInfo, count)

	for i := uint32(0); i < count; i++ {
		info := &model.BlockInfo{}
		if err := info.ReadFrom(f); err != nil {
			return errors.NewStorageError("failed to read block %d from %s", i, path, err)
		}

		c.blocks[info.Hash] = info
	}

	var fileBuf [4]byte
	if _, err := io.ReadFull(f, fileBuf[:]); err != nil {
		return errors.NewStorageError("failed to read %s", path, err)
	}

	c.newestFile = int32(binary.LittleEndian.Uint32(fileBuf[:]))

	c.logger.Infof("loaded chain index: %d blocks, newest file %d", count, c.newestFile)

	return nil
}

// Save persists the index for the next run.
func (c *ChainIndex) Save() error {
	path := filepath.Join(c.settings.DataFolder, stateFile)

	f, err := os.Create(path)
	if err != nil {
		return errors.NewStorageError("failed to create %s", path, err)
	}
	defer f.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	var countBuf [4]byte

	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(c.blocks)))

	if _, err := f.Write(countBuf[:]); err != nil {
		return errors.NewStorageError("failed to write %s", path, err)
	}

	for _, info := range c.blocks {
		if err := info.WriteTo(f); err != nil {
			return errors.NewStorageError("failed to write %s", path, err)
		}
	}

	var fileBuf [4]byte

	binary.LittleEndian.PutUint32(fileBuf[:], uint32(c.newestFile))

	if _, err := f.Write(fileBuf[:]); err != nil {
		return errors.NewStorageError("failed to write %s", path, err)
	}

	return nil
}

func unixTime(u uint32) time.Time {
	return time.Unix(int64(u), 0)
}
