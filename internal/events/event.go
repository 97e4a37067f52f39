// Package events carries committed ledger events to subscribers: the
// websocket stream, the Kafka topic, and the logger.
package events

import (
	"github.com/google/uuid"
)

// Kind names what happened to the ledger.
type Kind string

const (
	KindDeposit    Kind = "Deposit"
	KindWithdraw   Kind = "Withdraw"
	KindCheckpoint Kind = "Checkpoint"
)

// Event is emitted once per committed ledger operation.
type Event struct {
	ID         string `json:"id"`
	Kind       Kind   `json:"kind"`
	PositionID uint64 `json:"positionId,omitempty"`
	Identity   string `json:"identity,omitempty"`
	Amount     string `json:"amount,omitempty"`
	Begin      uint64 `json:"begin,omitempty"`
	Duration   uint64 `json:"duration,omitempty"`
	End        uint64 `json:"end,omitempty"`
	Timestamp  uint64 `json:"timestamp"`
}

// New returns an event of the given kind with a fresh id.
func New(kind Kind, ts uint64) Event {
	return Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: ts,
	}
}

// Deposit describes a newly created lock position.
func Deposit(identity string, positionID uint64, amount string, begin, duration, ts uint64) Event {
	e := New(KindDeposit, ts)
	e.Identity = identity
	e.PositionID = positionID
	e.Amount = amount
	e.Begin = begin
	e.Duration = duration
	e.End = begin + duration
	return e
}

// Withdraw describes a released lock position.
func Withdraw(identity string, positionID uint64, amount string, ts uint64) Event {
	e := New(KindWithdraw, ts)
	e.Identity = identity
	e.PositionID = positionID
	e.Amount = amount
	return e
}

// Checkpoint describes an explicit checkpoint advance. Identity is empty
// for the global line.
func Checkpoint(identity string, ts uint64) Event {
	e := New(KindCheckpoint, ts)
	e.Identity = identity
	return e
}
