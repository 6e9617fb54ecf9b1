// Package poller runs fixed-interval poll loops that stop promptly when
// cancelled or when their triggering condition ends, so a superseded or
// discarded session is never mutated by an orphaned timer.
package poller

import (
	"context"
	"sync"
	"time"
)

// TickFunc performs one poll tick. Returning false reports that the
// loop's triggering condition has ended and the loop should stop.
type TickFunc func(ctx context.Context) bool

// Loop is a cancellable fixed-interval poll loop
type Loop struct {
	interval time.Duration
	tick     TickFunc
}

// New creates a Loop running tick at the given interval
func New(interval time.Duration, tick TickFunc) *Loop {
	return &Loop{interval: interval, tick: tick}
}

// Run executes the loop until the context is cancelled or the tick
// reports its condition ended. The first tick fires after one interval,
// not immediately.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.tick(ctx) {
				return
			}
		}
	}
}

// Start runs the loop in a goroutine and returns a stop function that
// cancels it and waits for the goroutine to exit. Stop is idempotent.
func (l *Loop) Start(ctx context.Context) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		l.Run(ctx)
	}()

	var once sync.Once
	return func() {
		once.Do(cancel)
		<-done
	}
}
