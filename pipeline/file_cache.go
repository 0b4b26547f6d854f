package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/blockscan/blockscan/errors"
	"github.com/blockscan/blockscan/settings"
)

type cachedFile struct {
	f *os.File

	// lastTxNum is the highest txNum parsed out of this file so far. The
	// file is closed once retired buffers show the downstream stages are
	// past it.
	lastTxNum uint32

	lastUse uint64
}

// fileCache keeps a bounded set of open block container files for the
// reader. Files are closed either when the downstream watermark passes their
// last contributed transaction or, failing that, by LRU eviction.
type fileCache struct {
	blockDir string
	max      int

	open map[int32]*cachedFile
	tick uint64
}

func newFileCache(tSettings *settings.Settings) *fileCache {
	return &fileCache{
		blockDir: tSettings.Ingest.BlockDir,
		max:      tSettings.Ingest.OpenFileCacheSize,
		open:     make(map[int32]*cachedFile),
	}
}

func (c *fileCache) get(fileNum int32) (*os.File, error) {
	c.tick++

	if cf, ok := c.open[fileNum]; ok {
		cf.lastUse = c.tick
		return cf.f, nil
	}

	if len(c.open) >= c.max {
		c.evictOldest()
	}

	path := filepath.Join(c.blockDir, fmt.Sprintf("blk%05d.dat", fileNum))

	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewStorageError("failed to open %s", path, err)
	}

	c.open[fileNum] = &cachedFile{f: f, lastUse: c.tick}

	return f, nil
}

// noteTx records the newest txNum a file contributed.
func (c *fileCache) noteTx(fileNum int32, txNum uint32) {
	if cf, ok := c.open[fileNum]; ok {
		cf.lastTxNum = txNum
	}
}

// closeFinished closes every file whose transactions are all behind the
// retired watermark.
func (c *fileCache) closeFinished(watermark uint32) {
	for fileNum, cf := range c.open {
		if cf.lastTxNum > 0 && cf.lastTxNum < watermark {
			_ = cf.f.Close()
			delete(c.open, fileNum)
		}
	}
}

func (c *fileCache) evictOldest() {
	var (
		oldest    int32
		oldestUse uint64
		found     bool
	)

	for fileNum, cf := range c.open {
		if !found || cf.lastUse < oldestUse {
			oldest = fileNum
			oldestUse = cf.lastUse
			found = true
		}
	}

	if found {
		_ = c.open[oldest].f.Close()
		delete(c.open, oldest)
	}
}

func (c *fileCache) closeAll() {
	for fileNum, cf := range c.open {
		_ = cf.f.Close()
		delete(c.open, fileNum)
	}
}
