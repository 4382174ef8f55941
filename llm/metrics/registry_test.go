package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RecordOutcomeUpdatesProviderAndGlobal(t *testing.T) {
	r := NewRegistry()

	r.RecordOutcome("openai", true, 100*time.Millisecond, 0.05)
	r.RecordOutcome("openai", false, 200*time.Millisecond, 0)

	snap, ok := r.Snapshot("openai")
	require.True(t, ok)
	assert.EqualValues(t, 2, snap.TotalRequests)
	assert.EqualValues(t, 1, snap.SuccessfulRequests)
	assert.EqualValues(t, 1, snap.FailedRequests)
	assert.InDelta(t, 0.05, snap.CumulativeCost, 1e-9)
	assert.False(t, snap.LastRequestAt.IsZero())

	global := r.Global()
	assert.EqualValues(t, 2, global.TotalRequests)
	assert.EqualValues(t, 1, global.SuccessfulRequests)
}

func TestRegistry_UnknownProviderSnapshotMissing(t *testing.T) {
	r := NewRegistry()
	_, ok := r.Snapshot("nope")
	assert.False(t, ok)
}

func TestRegistry_AllSnapshotsCoversEveryProvider(t *testing.T) {
	r := NewRegistry()
	r.RecordOutcome("a", true, time.Millisecond, 0)
	r.RecordOutcome("b", true, time.Millisecond, 0)

	all := r.AllSnapshots()
	assert.Len(t, all, 2)
}

func TestRegistry_LatencyEMASmooths(t *testing.T) {
	r := NewRegistryWithAlpha(0.5)
	r.RecordOutcome("p", true, 100*time.Millisecond, 0)
	snap1, _ := r.Snapshot("p")
	assert.InDelta(t, 100, snap1.MeanLatencyMs, 0.01)

	r.RecordOutcome("p", true, 300*time.Millisecond, 0)
	snap2, _ := r.Snapshot("p")
	assert.InDelta(t, 200, snap2.MeanLatencyMs, 0.01)
}

func TestRegistry_InvalidAlphaFallsBackToDefault(t *testing.T) {
	r := NewRegistryWithAlpha(0)
	assert.Equal(t, DefaultLatencyEMAAlpha, r.alpha)

	r2 := NewRegistryWithAlpha(1.5)
	assert.Equal(t, DefaultLatencyEMAAlpha, r2.alpha)
}
