// ============================================================================
// Contract Net Worker - Bidding and Execution Agent
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Purpose: Worker agent that bids on announced jobs it can perform and
//          executes the jobs it is awarded.
//
// How it works:
//   1. At construction the worker wires its bus subscriptions once: the
//      broadcast CFP topic plus its own accept and reject topics. The wiring
//      is immutable afterwards.
//   2. On an announcement: a busy worker stays silent (it never queues
//      work); an idle worker with the capability publishes a proposal
//      carrying its estimated cost; otherwise it publishes an advisory
//      decline. Bidding is not reservation - no state changes on a bid.
//   3. On an award: the worker flips to busy and executes in a background
//      goroutine for the advertised duration, then broadcasts a completion
//      and flips back to idle. The handler returns immediately so the bus
//      delivery loop is never blocked by execution.
//
// Shutdown:
//   Stop cancels the worker's root context, which interrupts in-flight
//   executions, and waits for them with a bounded timeout so background
//   goroutines are joined rather than leaked. The announcement and award
//   handlers check the same context, so a stopped worker neither bids nor
//   starts executions while the process winds down.
//
// Failure semantics:
//   A crashed or partitioned worker simply never bids; from the
//   supervisor's perspective this is identical to "cannot perform this
//   job". No error is raised anywhere on that path.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/contract-net/internal/bus"
	"github.com/ChuLiYu/contract-net/internal/protocol"
	"github.com/ChuLiYu/contract-net/pkg/types"
)

var log = slog.Default()

// ErrStopTimeout is returned when in-flight executions do not finish within
// the wait bound given to Stop.
var ErrStopTimeout = errors.New("timed out waiting for executions to finish")

// Config describes one worker agent.
type Config struct {
	ID           types.WorkerID
	Capabilities types.CapabilityTable
}

// Worker reacts to announcements and awards delivered by the bus. All of its
// mutable state is the busy flag and the set of in-flight executions.
type Worker struct {
	id   types.WorkerID
	caps types.CapabilityTable
	bus  bus.Bus

	state  busyState
	ctx    context.Context
	cancel context.CancelFunc
	execWg sync.WaitGroup
}

// New constructs a worker and registers its bus subscriptions. The handler
// wiring happens exactly once here and is never reassigned.
func New(cfg Config, b bus.Bus) (*Worker, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	if len(cfg.Capabilities) == 0 {
		return nil, fmt.Errorf("worker %s has no capabilities", cfg.ID)
	}
	for kind, cost := range cfg.Capabilities {
		if cost <= 0 {
			return nil, fmt.Errorf("worker %s: capability %s must have positive cost, got %v", cfg.ID, kind, cost)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		id:     cfg.ID,
		caps:   cfg.Capabilities,
		bus:    b,
		ctx:    ctx,
		cancel: cancel,
	}

	b.Subscribe(protocol.TopicCFP, w.handleAnnouncement)
	b.Subscribe(protocol.AcceptTopic(w.id), w.handleAward)
	b.Subscribe(protocol.RejectTopic(w.id), w.handleDecline)

	log.Info("worker started",
		"worker", w.id,
		"capabilities", len(w.caps))
	return w, nil
}

// ID returns the worker's bus identity.
func (w *Worker) ID() types.WorkerID {
	return w.id
}

// Busy reports whether the worker is currently executing a job.
func (w *Worker) Busy() bool {
	return w.state.Busy()
}

// handleAnnouncement evaluates a call for proposals. Handlers are error
// boundaries: malformed payloads are logged and dropped here, never
// propagated into the bus delivery loop.
func (w *Worker) handleAnnouncement(topic string, payload []byte) {
	if w.ctx.Err() != nil {
		return // stopped workers are inert on the bus
	}
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		log.Warn("dropping malformed announcement", "worker", w.id, "error", err)
		return
	}
	ann := msg.(protocol.Announcement)

	if w.state.Busy() {
		log.Debug("busy, ignoring announcement", "worker", w.id, "kind", ann.Job.Kind)
		return
	}

	cost, ok := w.caps.Cost(ann.Job.Kind)
	if !ok {
		// Advisory decline; used for observability, not correctness.
		w.publish(protocol.TopicReject, protocol.Decline{
			Job:      ann.Job,
			WorkerID: w.id,
			Reason:   "no_capability",
		})
		return
	}

	log.Info("bidding on job",
		"worker", w.id,
		"kind", ann.Job.Kind,
		"cost", cost)
	w.publish(protocol.TopicProposal, protocol.Proposal{
		WorkerID: w.id,
		Job:      ann.Job,
		Cost:     cost,
	})
}

// handleAward starts execution of an awarded job. The busy flag flips inside
// the handler, before the execution goroutine is spawned, so a second
// announcement delivered immediately after the award already sees a busy
// worker. An award that reaches an already-busy worker is honored anyway:
// the supervisor is the single point of selection and never awards to the
// same worker twice concurrently, so this only happens under transport
// anomalies and is logged rather than rejected.
func (w *Worker) handleAward(topic string, payload []byte) {
	if w.ctx.Err() != nil {
		return
	}
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		log.Warn("dropping malformed award", "worker", w.id, "error", err)
		return
	}
	award := msg.(protocol.Award)

	if already := w.state.Begin(); already {
		log.Warn("award received while busy, honoring it",
			"worker", w.id,
			"kind", award.Job.Kind)
	}

	log.Info("job awarded", "worker", w.id, "kind", award.Job.Kind)
	w.execWg.Add(1)
	go w.execute(award.Job)
}

// handleDecline is advisory only; no state changes.
func (w *Worker) handleDecline(topic string, payload []byte) {
	msg, err := protocol.Decode(topic, payload)
	if err != nil {
		log.Warn("dropping malformed decline", "worker", w.id, "error", err)
		return
	}
	decline := msg.(protocol.Decline)
	log.Debug("declined for job", "worker", w.id, "kind", decline.Job.Kind)
}

// execute simulates performing the job for the previously advertised cost,
// then broadcasts a completion. Interruptible through the worker's root
// context so shutdown never waits on a full execution.
func (w *Worker) execute(job types.Job) {
	defer w.execWg.Done()

	// Cost defaults to zero for unknown kinds; an award for a kind the
	// worker never advertised still completes immediately.
	cost, _ := w.caps.Cost(job.Kind)

	timer := time.NewTimer(cost)
	defer timer.Stop()

	select {
	case <-w.ctx.Done():
		log.Info("execution interrupted by shutdown", "worker", w.id, "kind", job.Kind)
		w.state.Clear()
		return
	case <-timer.C:
	}

	w.publish(protocol.TopicDone, protocol.Completion{
		WorkerID:  w.id,
		Job:       job,
		Duration:  cost,
		Timestamp: time.Now().UnixMilli(),
	})
	log.Info("job completed", "worker", w.id, "kind", job.Kind, "duration", cost)
	w.state.Clear()
}

// publish encodes and sends a protocol message. Publish failures are logged
// and swallowed: the transport is best-effort and a lost message is
// indistinguishable from a dropped one.
func (w *Worker) publish(topic string, msg protocol.Message) {
	payload, err := protocol.Encode(msg)
	if err != nil {
		log.Error("failed to encode message", "worker", w.id, "error", err)
		return
	}
	if err := w.bus.Publish(topic, payload); err != nil {
		log.Warn("failed to publish message", "worker", w.id, "topic", topic, "error", err)
	}
}

// Stop interrupts in-flight executions and waits for them up to the given
// bound. Returns ErrStopTimeout if an execution goroutine did not exit in
// time.
func (w *Worker) Stop(wait time.Duration) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.execWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("worker stopped", "worker", w.id)
		return nil
	case <-time.After(wait):
		return fmt.Errorf("worker %s: %w", w.id, ErrStopTimeout)
	}
}
