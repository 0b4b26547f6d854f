// Package pipeline turns the ordered chain into the columnar store through
// four stage goroutines: the reader parses raw blocks, the hasher computes
// transaction hashes, the utxo resolver links spends to the outputs they
// consume and the address resolver assigns registry numbers and patches them
// into the transaction rows. Stages hand transactions down bounded
// single-producer single-consumer queues and retired buffers return to the
// reader through a free list.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/blockscan/blockscan/addressstate"
	"github.com/blockscan/blockscan/model"
	"github.com/blockscan/blockscan/settings"
	"github.com/blockscan/blockscan/store"
	"github.com/blockscan/blockscan/ulogger"
	"github.com/blockscan/blockscan/util"
	"github.com/blockscan/blockscan/utxostate"
)

// BlockFetcher supplies full blocks in RPC mode.
type BlockFetcher interface {
	GetBlock(hash *chainhash.Hash) (*wire.MsgBlock, error)
}

type Pipeline struct {
	logger   ulogger.Logger
	settings *settings.Settings

	store *store.Store
	utxo  *utxostate.State
	addr  *addressstate.State

	// rpc is nil in file mode.
	rpc BlockFetcher

	hashQ *util.LockFreeQ[*model.RawTransaction]
	utxoQ *util.LockFreeQ[*model.RawTransaction]
	addrQ *util.LockFreeQ[*model.RawTransaction]
	freeQ *util.LockFreeQ[*model.RawTransaction]

	readerDone atomic.Bool
	hasherDone atomic.Bool
	utxoDone   atomic.Bool

	failed  atomic.Bool
	errOnce sync.Once
	err     error

	revealed []uint32
}

func New(logger ulogger.Logger, tSettings *settings.Settings, st *store.Store,
	utxo *utxostate.State, addr *addressstate.State, rpc BlockFetcher,
) *Pipeline {
	initPrometheusMetrics()

	return &Pipeline{
		logger:   logger,
		settings: tSettings,
		store:    st,
		utxo:     utxo,
		addr:     addr,
		rpc:      rpc,
		hashQ:    util.NewLockFreeQ[*model.RawTransaction](),
		utxoQ:    util.NewLockFreeQ[*model.RawTransaction](),
		addrQ:    util.NewLockFreeQ[*model.RawTransaction](),
		freeQ:    util.NewLockFreeQ[*model.RawTransaction](),
	}
}

// Run ingests every block of chain that is not yet persisted. It returns the
// address numbers revealed by spends and the first stage error, if any.
func (p *Pipeline) Run(ctx context.Context, chain []*model.BlockInfo) ([]uint32, error) {
	persisted := p.store.BlockCount()
	if persisted >= uint64(len(chain)) {
		p.logger.Infof("nothing to ingest, %d blocks persisted", persisted)
		return nil, nil
	}

	todo := chain[persisted:]

	p.logger.Infof("ingesting %d blocks from height %d", len(todo), todo[0].Height)

	var wg sync.WaitGroup

	wg.Add(4)

	go func() {
		defer wg.Done()
		p.runReader(ctx, todo)
	}()

	go func() {
		defer wg.Done()
		p.runHasher()
	}()

	go func() {
		defer wg.Done()
		p.runUTXOResolver()
	}()

	go func() {
		defer wg.Done()
		p.runAddressResolver()
	}()

	wg.Wait()

	// Buffers still on the free list are dropped with the run.
	for p.freeQ.Dequeue() != nil {
	}

	if p.err != nil {
		return nil, p.err
	}

	if err := p.store.Flush(); err != nil {
		return nil, err
	}

	if err := p.utxo.Save(); err != nil {
		return nil, err
	}

	if err := p.addr.Save(); err != nil {
		return nil, err
	}

	return p.revealed, nil
}

// fail records the first stage error; later calls are ignored.
func (p *Pipeline) fail(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.failed.Store(true)
		p.logger.Errorf("pipeline failed: %v", err)
	})
}

// push blocks while the queue is at capacity. onFull runs before every
// sleep; stage 3 uses it to flush the tx file for stage 4.
func (p *Pipeline) push(q *util.LockFreeQ[*model.RawTransaction], name string, tx *model.RawTransaction, onFull func()) {
	for q.Len() >= p.settings.Ingest.QueueCapacity {
		if p.failed.Load() {
			return
		}

		if onFull != nil {
			onFull()
		}

		prometheusPipelineQueueFullWaits.WithLabelValues(name).Inc()
		time.Sleep(p.settings.Ingest.QueuePollInterval)
	}

	q.Enqueue(tx)
}

// pop returns the next transaction, or nil once the upstream stage is done
// and the queue is drained.
func (p *Pipeline) pop(q *util.LockFreeQ[*model.RawTransaction], upstreamDone *atomic.Bool) *model.RawTransaction {
	for {
		if v := q.Dequeue(); v != nil {
			return *v
		}

		if upstreamDone.Load() && q.IsEmpty() {
			return nil
		}

		time.Sleep(p.settings.Ingest.QueuePollInterval)
	}
}
