// Package flusher implements the background periodic task the filter
// manager's hot set assumes exists: it drains the hot set on a fixed
// interval and flushes every filter that was touched since the last
// drain.
package flusher

import (
	"context"
	"time"

	"github.com/bloomd/bloomd/internal/bloomlog"
)

// draining is the subset of manager.Manager the flusher depends on,
// kept narrow so the flusher can be tested against a fake.
type draining interface {
	DrainHot() []string
	Flush(name string) error
}

// Flusher drains a hot set on a timer and flushes each drained filter,
// logging (not aborting the tick on) a per-filter error so one bad
// filter does not stall the rest.
type Flusher struct {
	mgr      draining
	interval time.Duration
}

// New returns a Flusher that will drain mgr every interval once Run is
// called.
func New(mgr draining, interval time.Duration) *Flusher {
	return &Flusher{mgr: mgr, interval: interval}
}

// Run blocks, ticking every f.interval, until ctx is canceled.
func (f *Flusher) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.tick()
		}
	}
}

func (f *Flusher) tick() {
	for _, name := range f.mgr.DrainHot() {
		if err := f.mgr.Flush(name); err != nil {
			bloomlog.WARN("flusher: flush %q failed: %v", name, err)
		}
	}
}
