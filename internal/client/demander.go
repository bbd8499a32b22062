package client

import (
	"context"
	"sync"
)

// demander counts outstanding demand granted by a sink.
type demander struct {
	mu          sync.Mutex
	outstanding int64
	signal      chan struct{}
}

func newDemander() *demander {
	return &demander{signal: make(chan struct{}, 1)}
}

// Demand is the content.DemandFunc handed to sinks. It never blocks.
func (d *demander) Demand(n int64) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.outstanding += n
	d.mu.Unlock()

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// await blocks until there is outstanding demand or ctx is done.
func (d *demander) await(ctx context.Context) error {
	for {
		d.mu.Lock()
		ok := d.outstanding > 0
		d.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-d.signal:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// consume takes one unit of demand for a delivered chunk.
func (d *demander) consume() {
	d.mu.Lock()
	d.outstanding--
	d.mu.Unlock()
}

// Outstanding returns the demand not yet used.
func (d *demander) Outstanding() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.outstanding
}
