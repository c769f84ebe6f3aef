package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func awaitBatch(t *testing.T, d *debouncer) []fileEvent {
	t.Helper()
	select {
	case batch := <-d.out():
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("no batch arrived")
		return nil
	}
}

func TestDebouncerCoalescesBursts(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stop()

	for i := 0; i < 10; i++ {
		d.add(fileEvent{path: "/drop/a.json"})
	}
	d.add(fileEvent{path: "/drop/b.json"})

	batch := awaitBatch(t, d)
	assert.Len(t, batch, 2, "a write burst to one file collapses to one event")
}

func TestDebouncerRemoveThenCreateIsAChange(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stop()

	d.add(fileEvent{path: "/drop/a.json", removed: true})
	d.add(fileEvent{path: "/drop/a.json"})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.False(t, batch[0].removed, "an atomic replace must re-ingest the file")
}

func TestDebouncerKeepsLatestRemoval(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.stop()

	d.add(fileEvent{path: "/drop/a.json"})
	d.add(fileEvent{path: "/drop/a.json", removed: true})

	batch := awaitBatch(t, d)
	require.Len(t, batch, 1)
	assert.True(t, batch[0].removed)
}

func TestDebouncerSeparateFlushes(t *testing.T) {
	d := newDebouncer(10 * time.Millisecond)
	defer d.stop()

	d.add(fileEvent{path: "/drop/a.json"})
	first := awaitBatch(t, d)
	require.Len(t, first, 1)

	d.add(fileEvent{path: "/drop/b.json"})
	second := awaitBatch(t, d)
	require.Len(t, second, 1)
	assert.Equal(t, "/drop/b.json", second[0].path)
}

func TestDebouncerStopDropsPendingQuietly(t *testing.T) {
	d := newDebouncer(time.Hour)
	d.add(fileEvent{path: "/drop/a.json"})
	d.stop()

	_, ok := <-d.out()
	assert.False(t, ok, "stop closes the output channel")

	d.add(fileEvent{path: "/drop/late.json"}) // must not panic after stop
	d.stop()                                  // idempotent
}
