// ============================================================================
// Contract Net End-to-End Test Suite
// ============================================================================
//
// Package: test/integration
// File: allocation_test.go
// Functionality: Full protocol round-trips between a supervisor and a pool
//                of worker agents over the in-process bus
//
// Test Objectives:
//   1. cheapest capable worker wins the round
//   2. losers get exactly one decline, non-bidders hear nothing
//   3. jobs no worker can perform end the round without a winner
//   4. a busy worker stays silent and resumes bidding after completion
//
// Test Environment:
//   - three workers with overlapping capability tables
//   - execution costs scaled to tens of milliseconds so the full
//     announcement/bid/award/completion cycle runs in well under a second
//
// ============================================================================

package integration

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/contract-net/internal/bus"
	"github.com/ChuLiYu/contract-net/internal/protocol"
	"github.com/ChuLiYu/contract-net/internal/supervisor"
	"github.com/ChuLiYu/contract-net/internal/worker"
	"github.com/ChuLiYu/contract-net/pkg/types"
)

const (
	deadline = 300 * time.Millisecond
	waitFor  = 5 * time.Second
	tick     = 10 * time.Millisecond
)

// fleet is the three-machine pool used across the scenarios.
func fleet(t *testing.T, b *bus.MemoryBus) []*worker.Worker {
	t.Helper()
	configs := []worker.Config{
		{ID: "machine-1", Capabilities: types.CapabilityTable{
			"A": 20 * time.Millisecond,
			"B": 50 * time.Millisecond,
		}},
		{ID: "machine-2", Capabilities: types.CapabilityTable{
			"A": 30 * time.Millisecond,
			"C": 40 * time.Millisecond,
		}},
		{ID: "machine-3", Capabilities: types.CapabilityTable{
			"B": 40 * time.Millisecond,
			"C": 60 * time.Millisecond,
		}},
	}

	workers := make([]*worker.Worker, 0, len(configs))
	for _, cfg := range configs {
		w, err := worker.New(cfg, b)
		require.NoError(t, err)
		workers = append(workers, w)
	}
	t.Cleanup(func() {
		for _, w := range workers {
			_ = w.Stop(time.Second)
		}
	})
	return workers
}

// wiretap records every message crossing the bus, keyed by topic.
type wiretap struct {
	mu     sync.Mutex
	topics map[string]int
}

func newWiretap(t *testing.T, b *bus.MemoryBus) *wiretap {
	t.Helper()
	w := &wiretap{topics: make(map[string]int)}
	b.Subscribe("contractnet/#", func(topic string, payload []byte) {
		w.mu.Lock()
		w.topics[topic]++
		w.mu.Unlock()
	})
	return w
}

func (w *wiretap) count(topic string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.topics[topic]
}

func newBus(t *testing.T) *bus.MemoryBus {
	t.Helper()
	b := bus.NewMemoryBus(128)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

// TestFullAllocationCycle runs one complete round and checks every protocol
// stage: the cheapest bidder wins, the loser is declined once, the third
// machine (not capable of A) is never addressed, and the completion carries
// the winner's declared cost.
func TestFullAllocationCycle(t *testing.T) {
	b := newBus(t)
	tap := newWiretap(t, b)
	fleet(t, b)
	sup := supervisor.New(b)

	completions := make(chan protocol.Completion, 4)
	b.Subscribe(protocol.TopicDone, func(topic string, payload []byte) {
		var c protocol.Completion
		if err := json.Unmarshal(payload, &c); err != nil {
			return
		}
		completions <- c
	})

	winner, err := sup.Allocate(context.Background(), types.NewJob("A"), deadline)
	require.NoError(t, err)
	require.NotNil(t, winner)
	assert.Equal(t, types.WorkerID("machine-1"), winner.WorkerID)
	assert.Equal(t, 20*time.Millisecond, winner.Cost)

	select {
	case c := <-completions:
		assert.Equal(t, types.WorkerID("machine-1"), c.WorkerID)
		assert.Equal(t, types.JobKind("A"), c.Job.Kind)
		assert.Equal(t, 20*time.Millisecond, c.Duration)
	case <-time.After(waitFor):
		t.Fatal("no completion broadcast")
	}

	assert.Equal(t, 1, tap.count(protocol.AcceptTopic("machine-1")))
	assert.Equal(t, 1, tap.count(protocol.RejectTopic("machine-2")))
	assert.Zero(t, tap.count(protocol.AcceptTopic("machine-2")))
	assert.Zero(t, tap.count(protocol.AcceptTopic("machine-3")))
	assert.Zero(t, tap.count(protocol.RejectTopic("machine-3")),
		"machine-3 cannot do A, never bid, and must hear nothing")

	stats := sup.Stats()
	assert.Equal(t, 1, stats.Rounds)
	assert.Equal(t, 0, stats.NoBidRounds)

	require.Eventually(t, func() bool {
		return sup.Stats().Completions["machine-1"] == 1
	}, waitFor, tick)
}

// TestNoCapableWorker announces a kind nobody can perform: the round must
// end without a winner and without any award or decline traffic.
func TestNoCapableWorker(t *testing.T) {
	b := newBus(t)
	tap := newWiretap(t, b)
	fleet(t, b)
	sup := supervisor.New(b)

	winner, err := sup.Allocate(context.Background(), types.NewJob("Z"), deadline)
	require.NoError(t, err)
	assert.Nil(t, winner)

	time.Sleep(100 * time.Millisecond)
	for _, id := range []types.WorkerID{"machine-1", "machine-2", "machine-3"} {
		assert.Zero(t, tap.count(protocol.AcceptTopic(id)))
		assert.Zero(t, tap.count(protocol.RejectTopic(id)))
	}
	assert.Equal(t, 1, sup.Stats().NoBidRounds)
}

// TestBusyWorkerSitsOutRound allocates B twice back to back. machine-3 wins
// the first round (cheapest at 40ms) and is still executing when the second
// round opens, so machine-1 (the only other B-capable worker) wins it.
func TestBusyWorkerSitsOutRound(t *testing.T) {
	b := newBus(t)
	fleet(t, b)
	sup := supervisor.New(b)
	ctx := context.Background()

	first, err := sup.Allocate(ctx, types.NewJob("B"), 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, types.WorkerID("machine-3"), first.WorkerID)

	// machine-3's execution (40ms) outlives this round's 20ms window.
	second, err := sup.Allocate(ctx, types.NewJob("B"), 20*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, types.WorkerID("machine-1"), second.WorkerID)

	// After its execution finishes, machine-3 bids again and wins.
	require.Eventually(t, func() bool {
		return sup.Stats().Completions["machine-3"] == 1
	}, waitFor, tick)

	third, err := sup.Allocate(ctx, types.NewJob("B"), deadline)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, types.WorkerID("machine-3"), third.WorkerID)
}

// TestSequentialJobStream mirrors the default configuration: five jobs
// allocated in order with enough headroom between rounds for completions.
func TestSequentialJobStream(t *testing.T) {
	b := newBus(t)
	fleet(t, b)
	sup := supervisor.New(b)
	ctx := context.Background()

	kinds := []types.JobKind{"A", "B", "C", "A", "B"}
	awarded := 0
	for _, kind := range kinds {
		winner, err := sup.Allocate(ctx, types.NewJob(kind), deadline)
		require.NoError(t, err)
		require.NotNil(t, winner, "kind %s found no worker", kind)
		awarded++
	}

	assert.Equal(t, len(kinds), awarded)
	require.Eventually(t, func() bool {
		total := 0
		for _, n := range sup.Stats().Completions {
			total += n
		}
		return total == len(kinds)
	}, waitFor, tick)
}
