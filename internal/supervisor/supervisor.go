// ============================================================================
// Contract Net Supervisor - Allocation Round Coordinator
// ============================================================================
//
// Package: internal/supervisor
// File: supervisor.go
// Purpose: Runs allocation rounds: announce a job, collect bids until the
//          deadline, select the cheapest bid, and notify winner and losers.
//
// Round state machine:
//
//   Allocate() ──▶ OPEN (announced, collecting) ──deadline──▶ CLOSED ──▶ done
//
//   Exactly one round may be open per supervisor. The bid buffer is mutated
//   by the bus delivery callback (producer) and drained by Allocate
//   (consumer); the hand-off is a mutex plus an open-round flag, so bids
//   arriving after closure are dropped by construction.
//
// Deadline semantics:
//   The collection window is a fixed wall-clock wait: the round always
//   consumes the full deadline even if every capable worker has already
//   bid. This trades latency for simplicity and is deliberate, not a bug.
//
// Selection:
//   Stable minimum over the collected bids - strictly lower cost wins,
//   equal costs keep the earliest-arrived bid. The winner gets one award;
//   every other bidder gets exactly one decline; non-bidders hear nothing.
//
// There is no cross-round memory: a worker's silence in round N has no
// bearing on round N+1, and the supervisor never re-announces on its own.
// Retry policy belongs to the caller.
//
// ============================================================================

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/contract-net/internal/bus"
	"github.com/ChuLiYu/contract-net/internal/metrics"
	"github.com/ChuLiYu/contract-net/internal/protocol"
	"github.com/ChuLiYu/contract-net/pkg/types"
)

var log = slog.Default()

// ErrRoundInProgress is returned when Allocate is called while another
// round is still open. The reference scenario is strictly sequential, so a
// concurrent caller fails fast instead of queueing.
var ErrRoundInProgress = errors.New("allocation round already in progress")

// Stats is a snapshot of the supervisor's observability counters. Purely
// in-memory; there is no persistence and no cross-round protocol memory.
type Stats struct {
	Rounds      int
	NoBidRounds int
	Completions map[types.WorkerID]int
}

// Supervisor coordinates job allocation rounds over the bus.
type Supervisor struct {
	bus     bus.Bus
	metrics *metrics.Collector

	mu          sync.Mutex
	open        bool
	allocating  bool
	collected   []types.Bid
	rounds      int
	noBidRounds int
	completions map[types.WorkerID]int
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithMetrics attaches a metrics collector. Without it the supervisor runs
// unobserved; all recording calls are nil-safe.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Supervisor) {
		s.metrics = c
	}
}

// New constructs a supervisor and wires its bus subscriptions once. The
// proposal and completion handlers are registered at construction and never
// reassigned.
func New(b bus.Bus, opts ...Option) *Supervisor {
	s := &Supervisor{
		bus:         b,
		completions: make(map[types.WorkerID]int),
	}
	for _, opt := range opts {
		opt(s)
	}

	b.Subscribe(protocol.TopicProposal, s.handleProposal)
	b.Subscribe(protocol.TopicDone, s.handleCompletion)
	return s
}

// handleProposal collects a bid into the open round. Bids arriving while no
// round is open are late by definition and dropped.
func (s *Supervisor) handleProposal(topic string, payload []byte) {
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		log.Warn("dropping malformed proposal", "error", err)
		return
	}
	proposal := msg.(protocol.Proposal)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		log.Debug("dropping late bid",
			"worker", proposal.WorkerID,
			"kind", proposal.Job.Kind)
		return
	}

	s.collected = append(s.collected, proposal.Bid())
	if s.metrics != nil {
		s.metrics.RecordBid()
	}
	log.Info("bid received",
		"worker", proposal.WorkerID,
		"kind", proposal.Job.Kind,
		"cost", proposal.Cost)
}

// handleCompletion is a passive observer: it records the event and performs
// no selection logic. Subsequent rounds are never gated on completions.
func (s *Supervisor) handleCompletion(topic string, payload []byte) {
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		log.Warn("dropping malformed completion", "error", err)
		return
	}
	completion := msg.(protocol.Completion)

	s.mu.Lock()
	s.completions[completion.WorkerID]++
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordCompletion(completion.Duration.Seconds())
	}
	log.Info("job completed",
		"worker", completion.WorkerID,
		"kind", completion.Job.Kind,
		"duration", completion.Duration)
}

// Allocate runs exactly one allocation round to completion and returns the
// winning bid, or nil if no bid arrived before the deadline. The call
// blocks for the full deadline; ctx cancellation aborts the round early
// (used for process shutdown) and returns the context error.
func (s *Supervisor) Allocate(ctx context.Context, job types.Job, deadline time.Duration) (*types.Bid, error) {
	s.mu.Lock()
	if s.allocating {
		s.mu.Unlock()
		return nil, ErrRoundInProgress
	}
	s.allocating = true
	s.open = true
	s.collected = nil
	s.rounds++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.allocating = false
		s.mu.Unlock()
	}()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.RecordRound()
	}

	// 1. Announce.
	announcement := protocol.Announcement{
		Job:       job,
		Timestamp: start.UnixMilli(),
	}
	if err := s.publish(protocol.TopicCFP, announcement); err != nil {
		s.closeRound()
		return nil, err
	}
	log.Info("announced job", "kind", job.Kind, "deadline", deadline)

	// 2. Collect for the full deadline.
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		s.closeRound()
		return nil, ctx.Err()
	}

	// 3. Freeze the buffer.
	collected := s.closeRound()
	if s.metrics != nil {
		s.metrics.ObserveRoundDuration(time.Since(start).Seconds())
	}

	// 4. No bids: absence, not an error. The caller owns retry policy.
	if len(collected) == 0 {
		s.mu.Lock()
		s.noBidRounds++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordNoBid()
		}
		log.Warn("no bids received", "kind", job.Kind)
		return nil, nil
	}

	// 5. Stable minimum: strictly lower cost wins, first-seen wins ties.
	best := collected[0]
	for _, bid := range collected[1:] {
		if bid.Cost < best.Cost {
			best = bid
		}
	}
	log.Info("bid selected",
		"worker", best.WorkerID,
		"kind", job.Kind,
		"cost", best.Cost,
		"bids", len(collected))

	// 6. Award the winner.
	if err := s.publish(protocol.AcceptTopic(best.WorkerID), protocol.Award{
		Job:      job,
		Selected: best.WorkerID,
	}); err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.RecordAward()
	}

	// 7. Decline every other bidder exactly once. Non-bidders hear nothing.
	declined := map[types.WorkerID]bool{best.WorkerID: true}
	for _, bid := range collected {
		if declined[bid.WorkerID] {
			continue
		}
		declined[bid.WorkerID] = true
		if err := s.publish(protocol.RejectTopic(bid.WorkerID), protocol.Decline{
			Job:      job,
			WorkerID: bid.WorkerID,
			Reason:   "not_selected",
		}); err != nil {
			log.Warn("failed to send decline", "worker", bid.WorkerID, "error", err)
		}
	}

	return &best, nil
}

// closeRound freezes and drains the collection buffer.
func (s *Supervisor) closeRound() []types.Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.open = false
	collected := s.collected
	s.collected = nil
	return collected
}

func (s *Supervisor) publish(topic string, msg protocol.Message) error {
	payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.bus.Publish(topic, payload)
}

// Stats returns a copy of the supervisor's counters.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	completions := make(map[types.WorkerID]int, len(s.completions))
	for id, n := range s.completions {
		completions[id] = n
	}
	return Stats{
		Rounds:      s.rounds,
		NoBidRounds: s.noBidRounds,
		Completions: completions,
	}
}
