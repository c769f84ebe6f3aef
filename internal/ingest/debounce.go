package ingest

import (
	"sync"
	"time"
)

// debouncer coalesces rapid file events so a file being written in chunks
// is ingested once. Create followed by remove cancels out; remove followed
// by create collapses to a single change.
type debouncer struct {
	window time.Duration

	mu      sync.Mutex
	pending map[string]fileEvent
	timer   *time.Timer
	output  chan []fileEvent
	stopped bool
}

type fileEvent struct {
	path    string
	removed bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		pending: make(map[string]fileEvent),
		output:  make(chan []fileEvent, 16),
	}
}

func (d *debouncer) add(ev fileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	if prev, ok := d.pending[ev.path]; ok {
		// Latest state wins; a change after a remove is still a change.
		if prev.removed && !ev.removed {
			ev.removed = false
		}
	}
	d.pending[ev.path] = ev

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.pending) == 0 {
		return
	}
	batch := make([]fileEvent, 0, len(d.pending))
	for _, ev := range d.pending {
		batch = append(batch, ev)
	}
	d.pending = make(map[string]fileEvent)

	select {
	case d.output <- batch:
	default:
		// Drop the batch rather than block the watcher loop; the next
		// scan reconciles anything missed.
	}
}

func (d *debouncer) out() <-chan []fileEvent { return d.output }

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
