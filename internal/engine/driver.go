package engine

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrDriverRunning is returned by Start on a driver that is already running.
var ErrDriverRunning = errors.New("driver: already running")

// WallClock returns a TimeSource reporting monotonic seconds since the call.
func WallClock() TimeSource {
	anchor := time.Now()
	return func() float64 {
		return time.Since(anchor).Seconds()
	}
}

// TickerDriver invokes the tick callback from a goroutine at a fixed period.
//
// Tick errors are logged and do not stop the driver; an aborted sweep leaves
// the queues consistent for the next tick.
type TickerDriver struct {
	interval time.Duration
	now      TimeSource
	logger   *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTickerDriver creates a periodic driver. now supplies the tick times.
func NewTickerDriver(interval time.Duration, now TimeSource, logger *slog.Logger) *TickerDriver {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickerDriver{
		interval: interval,
		now:      now,
		logger:   logger,
	}
}

// ComputeAhead returns the tick period in seconds.
func (d *TickerDriver) ComputeAhead() float64 {
	return d.interval.Seconds()
}

// Start spawns the ticking goroutine.
func (d *TickerDriver) Start(tick TickFunc) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stop != nil {
		return ErrDriverRunning
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})

	go d.loop(tick, d.stop, d.done)
	return nil
}

// Stop halts the goroutine and waits for an in-flight tick to finish.
func (d *TickerDriver) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (d *TickerDriver) loop(tick TickFunc, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := tick(d.now()); err != nil {
				d.logger.Error("tick failed", "error", err)
			}
		}
	}
}
