// ============================================================================
// Contract Net Protocol - Message Schema and Topic Routing
// ============================================================================
//
// Package: internal/protocol
// File: message.go
// Purpose: Defines the closed set of wire messages exchanged during an
//          allocation round and the topics that partition them.
//
// Message flow over one round:
//
//   Supervisor ──Announcement──▶ contractnet/cfp          (broadcast)
//   Worker     ──Proposal─────▶ contractnet/proposal      (broadcast)
//   Worker     ──Decline──────▶ contractnet/reject        (cannot perform)
//   Supervisor ──Award────────▶ contractnet/accept/{id}   (winner only)
//   Supervisor ──Decline──────▶ contractnet/reject/{id}   (losing bidders)
//   Worker     ──Completion───▶ contractnet/done          (broadcast)
//
// Raw payloads are decoded into this closed variant before protocol logic
// sees them, so parsing and validation stay at the transport boundary. A
// payload that fails to decode is an error here and is logged and dropped by
// the handler that received it; it never reaches protocol logic.
//
// ============================================================================

package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ChuLiYu/contract-net/pkg/types"
)

// Topic constants partition the protocol traffic. Award and decline notices
// are unicast by topic suffix; everything else is broadcast.
const (
	TopicCFP      = "contractnet/cfp"
	TopicProposal = "contractnet/proposal"
	TopicReject   = "contractnet/reject"
	TopicDone     = "contractnet/done"

	topicAcceptPrefix = "contractnet/accept/"
	topicRejectPrefix = "contractnet/reject/"
)

// AcceptTopic returns the award topic addressed to one worker.
func AcceptTopic(id types.WorkerID) string {
	return topicAcceptPrefix + string(id)
}

// RejectTopic returns the decline topic addressed to one worker.
func RejectTopic(id types.WorkerID) string {
	return topicRejectPrefix + string(id)
}

// Kind discriminates the closed set of protocol messages.
type Kind int

const (
	KindUnknown Kind = iota
	KindAnnouncement
	KindProposal
	KindAward
	KindDecline
	KindCompletion
)

// Classify maps a topic to the message kind it carries.
func Classify(topic string) Kind {
	switch {
	case topic == TopicCFP:
		return KindAnnouncement
	case topic == TopicProposal:
		return KindProposal
	case topic == TopicDone:
		return KindCompletion
	case strings.HasPrefix(topic, topicAcceptPrefix):
		return KindAward
	case topic == TopicReject || strings.HasPrefix(topic, topicRejectPrefix):
		return KindDecline
	default:
		return KindUnknown
	}
}

// Message is the closed variant over the protocol's wire messages.
type Message interface {
	isMessage()
}

// Announcement invites bids for a job (the call for proposals).
type Announcement struct {
	Job       types.Job `json:"job"`
	Timestamp int64     `json:"timestamp_ms"`
}

// Proposal is the wire form of a bid.
type Proposal struct {
	WorkerID types.WorkerID `json:"worker_id"`
	Job      types.Job      `json:"job"`
	Cost     time.Duration  `json:"cost"`
}

// Bid converts the wire proposal into the supervisor-owned domain value.
func (p Proposal) Bid() types.Bid {
	return types.Bid{WorkerID: p.WorkerID, Job: p.Job, Cost: p.Cost}
}

// Award notifies the selected worker that it won the round.
type Award struct {
	Job      types.Job      `json:"job"`
	Selected types.WorkerID `json:"selected"`
}

// Decline notifies a non-winning bidder, or is emitted by a worker that
// cannot perform the announced job kind. Advisory only.
type Decline struct {
	Job      types.Job      `json:"job"`
	WorkerID types.WorkerID `json:"rejected"`
	Reason   string         `json:"reason,omitempty"`
}

// Completion signals finished execution of an awarded job.
type Completion struct {
	WorkerID  types.WorkerID `json:"worker_id"`
	Job       types.Job      `json:"job"`
	Duration  time.Duration  `json:"duration"`
	Timestamp int64          `json:"timestamp_ms"`
}

func (Announcement) isMessage() {}
func (Proposal) isMessage()     {}
func (Award) isMessage()        {}
func (Decline) isMessage()      {}
func (Completion) isMessage()   {}

// Encode serializes a protocol message for publication.
func Encode(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return data, nil
}

// Decode parses a raw payload into the message variant the topic carries.
// It validates the fields protocol logic relies on, so handlers can drop
// malformed traffic at the boundary with a single error check.
func Decode(topic string, payload []byte) (Message, error) {
	switch Classify(topic) {
	case KindAnnouncement:
		var m Announcement
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("malformed announcement: %w", err)
		}
		if m.Job.Kind == "" {
			return nil, fmt.Errorf("announcement missing job kind")
		}
		return m, nil

	case KindProposal:
		var m Proposal
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("malformed proposal: %w", err)
		}
		if m.WorkerID == "" {
			return nil, fmt.Errorf("proposal missing worker_id")
		}
		if m.Cost <= 0 {
			return nil, fmt.Errorf("proposal cost must be positive, got %v", m.Cost)
		}
		return m, nil

	case KindAward:
		var m Award
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("malformed award: %w", err)
		}
		if m.Selected == "" {
			return nil, fmt.Errorf("award missing selected worker")
		}
		return m, nil

	case KindDecline:
		var m Decline
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("malformed decline: %w", err)
		}
		return m, nil

	case KindCompletion:
		var m Completion
		if err := json.Unmarshal(payload, &m); err != nil {
			return nil, fmt.Errorf("malformed completion: %w", err)
		}
		if m.WorkerID == "" {
			return nil, fmt.Errorf("completion missing worker_id")
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unknown protocol topic %q", topic)
	}
}
