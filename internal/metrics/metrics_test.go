package metrics

// ============================================================================
// Metrics Test File
// Purpose: Verify collector registration and recording behavior
// ============================================================================

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollectorRegistersAllFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ObserveRoundDuration(0.1)
	c.RecordCompletion(0.05)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, fam := range families {
		names = append(names, fam.GetName())
	}
	assert.ElementsMatch(t, []string{
		"contractnet_rounds_total",
		"contractnet_rounds_no_bid_total",
		"contractnet_bids_received_total",
		"contractnet_awards_total",
		"contractnet_completions_total",
		"contractnet_busy_workers",
		"contractnet_round_duration_seconds",
		"contractnet_execution_seconds",
	}, names)
}

func TestCountersIncrement(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordRound()
	c.RecordRound()
	c.RecordNoBid()
	c.RecordBid()
	c.RecordBid()
	c.RecordBid()
	c.RecordAward()
	c.RecordCompletion(1.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.rounds))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.roundsNoBid))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.bids))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.awards))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.completions))
}

func TestBusyWorkersGaugeTracksAwardsAndCompletions(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	assert.Equal(t, 0.0, testutil.ToFloat64(c.busyWorkers))

	c.RecordAward()
	c.RecordAward()
	assert.Equal(t, 2.0, testutil.ToFloat64(c.busyWorkers))

	c.RecordCompletion(0.02)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.busyWorkers))

	c.RecordCompletion(0.05)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.busyWorkers))
}

func TestSeparateRegistriesDoNotCollide(t *testing.T) {
	// Two collectors on distinct registries must both register cleanly;
	// MustRegister on a shared registry would panic on the duplicate names.
	a := NewCollector(prometheus.NewRegistry())
	b := NewCollector(prometheus.NewRegistry())

	a.RecordRound()
	assert.Equal(t, 1.0, testutil.ToFloat64(a.rounds))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.rounds))
}
