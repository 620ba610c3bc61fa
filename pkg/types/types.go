// Package types defines the core domain model shared by the contract net
// protocol packages.
package types

import (
	"time"

	"github.com/google/uuid"
)

// WorkerID uniquely identifies a worker agent on the bus.
type WorkerID string

// JobKind identifies the type of work a job requires.
type JobKind string

// Job is an immutable description of one unit of work. It is created by the
// caller issuing an allocation round and passed by value across the bus.
type Job struct {
	ID       string                 `json:"id"`
	Kind     JobKind                `json:"kind"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewJob mints a job of the given kind with a fresh unique ID.
func NewJob(kind JobKind) Job {
	return Job{
		ID:   uuid.NewString(),
		Kind: kind,
	}
}

// CapabilityTable maps job kinds to the estimated duration a worker needs to
// perform them. It is owned exclusively by one worker and is not mutated
// after construction.
type CapabilityTable map[JobKind]time.Duration

// Cost reports the estimated duration for a job kind and whether the kind is
// known to this table.
func (t CapabilityTable) Cost(kind JobKind) (time.Duration, bool) {
	d, ok := t[kind]
	return d, ok
}

// Bid is a worker's cost estimate for performing an announced job. Bids are
// transient: they exist only within one round's collection window and are
// owned by the supervisor once received.
type Bid struct {
	WorkerID WorkerID      `json:"worker_id"`
	Job      Job           `json:"job"`
	Cost     time.Duration `json:"cost"`
}
