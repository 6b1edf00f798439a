package main

import (
	"fmt"
	"sync/atomic"
	"time"

	"dotfleet/internal/fleet"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays the bootstrap phase on one terminal line together
// with the elapsed time.
//
// Usage:
//
//	p := NewProgressPrinter(...)
//	p.Start()
//	defer p.Stop()
//
// The caller must call Stop to terminate the internal goroutine. A
// ProgressPrinter is single-use: Start may be called at most once and the
// instance cannot be restarted after Stop.
type ProgressPrinter struct {
	prefix     string
	phase      atomic.Value // stores fleet.Status
	stopPhases map[fleet.Status]struct{}
	startTime  time.Time
	ticker     atomic.Pointer[time.Ticker]
	stopChan   chan struct{}
	done       chan struct{} // closed when the goroutine exits
	started    atomic.Bool
}

// NewProgressPrinter creates a progress printer showing elapsed time.
// stopPhases are statuses that trigger automatic cleanup when reported via
// Callback.
func NewProgressPrinter(prefix string, phase fleet.Status, stopPhases ...fleet.Status) *ProgressPrinter {
	stopSet := make(map[fleet.Status]struct{})
	for _, s := range stopPhases {
		stopSet[s] = struct{}{}
	}
	p := &ProgressPrinter{
		prefix:     prefix,
		stopPhases: stopSet,
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
// Panics if called more than once on the same instance.
func (p *ProgressPrinter) Start() {
	if !p.started.CompareAndSwap(false, true) {
		panic("ProgressPrinter.Start called more than once")
	}
	if p.stopChan != nil {
		panic("ProgressPrinter cannot be reused after Stop")
	}

	p.done = make(chan struct{})
	p.stopChan = make(chan struct{})
	p.startTime = time.Now()
	ticker := time.NewTicker(progressUpdateInterval)
	p.ticker.Store(ticker)

	fmt.Printf("\r%s (%s...)   ", p.prefix, p.phase.Load().(fleet.Status))

	go func() {
		defer close(p.done)
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				current := p.phase.Load().(fleet.Status)
				if _, stop := p.stopPhases[current]; stop {
					return
				}
				elapsed := int(time.Since(p.startTime).Seconds())
				if elapsed > 0 {
					fmt.Printf("\r%s (%s %ds)   ", p.prefix, current, elapsed)
				} else {
					fmt.Printf("\r%s (%s...)   ", p.prefix, current)
				}
			}
		}
	}()
}

// Callback returns a status callback that updates the displayed phase. When
// the new status is a stop phase, Stop is called automatically. Safe to call
// from multiple goroutines.
func (p *ProgressPrinter) Callback() func(fleet.Status) {
	return func(s fleet.Status) {
		p.phase.Store(s)
		if _, stop := p.stopPhases[s]; stop {
			p.Stop()
		}
	}
}

// Stop stops the progress display and clears the line. Safe to call multiple
// times and from multiple goroutines; only the first call does the work.
func (p *ProgressPrinter) Stop() {
	ticker := p.ticker.Swap(nil)
	if ticker == nil {
		return
	}

	ticker.Stop()
	close(p.stopChan)
	<-p.done

	fmt.Print(clearLineSequence)
}
