package dataloader

import (
	"context"
	"fmt"
	"sync"
)

// Source is anything that yields the batches of an epoch.
type Source interface {
	Reset()
	NextBatch() (*Batch, error)
	Len() int
}

type prefetched struct {
	batch *Batch
	err   error
}

// Prefetcher loads the batches of a Source in a background goroutine, keeping
// up to depth batches ready. Batch order is that of the wrapped source.
type Prefetcher struct {
	source Source
	depth  int

	mu      sync.Mutex
	batches chan prefetched
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewPrefetcher wraps source. The background loader starts on the first
// Reset or NextBatch.
func NewPrefetcher(source Source, depth int) (*Prefetcher, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if depth <= 0 {
		depth = 2
	}
	return &Prefetcher{source: source, depth: depth}, nil
}

// Reset stops the current epoch's loader, resets the source and starts
// loading the next epoch.
func (p *Prefetcher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.source.Reset()
	p.startLocked()
}

// NextBatch returns the next batch, or nil once the epoch is exhausted.
func (p *Prefetcher) NextBatch() (*Batch, error) {
	p.mu.Lock()
	if p.batches == nil {
		p.startLocked()
	}
	batches := p.batches
	p.mu.Unlock()

	r, ok := <-batches
	if !ok {
		return nil, nil
	}
	return r.batch, r.err
}

// Len returns the number of batches per epoch.
func (p *Prefetcher) Len() int {
	return p.source.Len()
}

// Stop halts background loading. A later Reset starts it again.
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Prefetcher) startLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan prefetched, p.depth)
	done := make(chan struct{})
	p.batches, p.cancel, p.done = batches, cancel, done

	go func() {
		defer close(done)
		defer close(batches)
		for {
			b, err := p.source.NextBatch()
			if b == nil && err == nil {
				return
			}
			select {
			case batches <- prefetched{batch: b, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
}

func (p *Prefetcher) stopLocked() {
	if p.batches == nil {
		return
	}
	p.cancel()
	for range p.batches {
	}
	<-p.done
	p.batches, p.cancel, p.done = nil, nil, nil
}
