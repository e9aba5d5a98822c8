package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSnapshotCounters(t *testing.T) {
	c := NewCollector()

	c.RecordSendNote("ok", time.Millisecond)
	c.RecordSendNote("invalid", time.Millisecond)
	c.RecordFetch("ok", time.Millisecond, 3)
	c.RecordIngested(100)
	c.RecordIngested(200)
	c.AddOverflow(5)
	c.SubscriberAdded()
	c.SubscriberAdded()
	c.SubscriberRemoved()

	at := time.Now()
	c.RecordSweep(9, at)

	snap := c.Snapshot()
	require.EqualValues(t, 2, snap.IngestRequests)
	require.EqualValues(t, 1, snap.FetchRequests)
	require.EqualValues(t, 2, snap.NotesIngested)
	require.EqualValues(t, 2, snap.NotesRecent)
	require.EqualValues(t, 5, snap.OverflowCount)
	require.EqualValues(t, 1, snap.ActiveSubscriptions)
	require.EqualValues(t, 9, snap.LastSweepCount)
	require.EqualValues(t, 9, snap.SweptTotal)
	require.Equal(t, at.UnixMilli(), snap.LastSweepMS)
}

func TestSeedSweep(t *testing.T) {
	c := NewCollector()
	c.SeedSweep(777, 3)

	snap := c.Snapshot()
	require.EqualValues(t, 777, snap.LastSweepMS)
	require.EqualValues(t, 3, snap.LastSweepCount)
	// Seeding restores the last-sweep figures without inflating totals.
	require.EqualValues(t, 0, snap.SweptTotal)
}

func TestRegistryGathers(t *testing.T) {
	c := NewCollector()
	c.RecordIngested(64)

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["note_transport_notes_ingested_total"])
	require.True(t, names["note_transport_note_size_bytes"])
}
