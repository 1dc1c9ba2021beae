package patternstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Batcher decouples observation producers from store writes. Queued
// observations flush on an interval or once the batch fills, whichever
// comes first. Ordering within a fingerprint is enqueue order, so the
// EWMA folds outcomes in the order they were reported.
type Batcher struct {
	store  *Store
	cfg    Config
	logger *zap.Logger

	ch   chan Observation
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewBatcher starts a batcher over the store.
func NewBatcher(store *Store, logger *zap.Logger) *Batcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batcher{
		store:  store,
		cfg:    store.cfg,
		logger: logger,
		ch:     make(chan Observation, store.cfg.MaxBatch*4),
		done:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Enqueue queues an observation without blocking on the store. A full
// queue drops the observation; a learned statistic tolerates loss.
func (b *Batcher) Enqueue(obs Observation) bool {
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.ch <- obs:
		return true
	default:
		b.logger.Warn("pattern observation dropped, queue full",
			zap.String("fingerprint", obs.Fingerprint))
		return false
	}
}

func (b *Batcher) run() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Observation, 0, b.cfg.MaxBatch)
	for {
		select {
		case obs := <-b.ch:
			batch = append(batch, obs)
			if len(batch) >= b.cfg.MaxBatch {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-b.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case obs := <-b.ch:
					batch = append(batch, obs)
				default:
					if len(batch) > 0 {
						b.flush(batch)
					}
					return
				}
			}
		}
	}
}

func (b *Batcher) flush(batch []Observation) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, obs := range batch {
		if _, err := b.store.Observe(ctx, obs); err != nil {
			b.logger.Warn("pattern observation rejected",
				zap.String("fingerprint", obs.Fingerprint),
				zap.Error(err))
		}
	}
	b.logger.Debug("pattern batch flushed", zap.Int("size", len(batch)))
}

// Close flushes the queue and stops the batcher.
func (b *Batcher) Close() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}
