// Package api defines the JSON bodies exchanged between the vecarvs server
// and its clients. Token amounts and line values travel as decimal strings
// of base units.
package api

import (
	"encoding/json"

	"github.com/lazypower/vecarvs/internal/ledger"
)

type Health struct {
	Status  string  `json:"status"`
	Version string  `json:"version"`
	Uptime  float64 `json:"uptime"`
	DB      bool    `json:"db"`
	DBPath  string  `json:"db_path"`
	Genesis uint64  `json:"genesis"`
	Epoch   uint64  `json:"epoch_duration"`
	Factor  uint64  `json:"staking_factor"`
	Now     uint64  `json:"now"`
}

type LockRequest struct {
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
	Duration uint64 `json:"duration"`
}

type ReleaseRequest struct {
	Identity string `json:"identity"`
}

type CreditRequest struct {
	Amount string `json:"amount"`
}

type Position struct {
	ID       uint64 `json:"id"`
	Identity string `json:"identity"`
	Amount   string `json:"amount"`
	Begin    uint64 `json:"begin"`
	End      uint64 `json:"end"`
}

func FromPosition(p *ledger.Position) Position {
	return Position{
		ID:       p.ID,
		Identity: p.Identity,
		Amount:   p.Balance.String(),
		Begin:    p.Begin,
		End:      p.End,
	}
}

type Point struct {
	Epoch uint64 `json:"epoch"`
	Bias  string `json:"bias"`
	Slope string `json:"slope"`
}

func FromPoints(points []ledger.EpochPoint) []Point {
	out := make([]Point, 0, len(points))
	for _, p := range points {
		out = append(out, Point{Epoch: p.Epoch, Bias: p.Bias.String(), Slope: p.Slope.String()})
	}
	return out
}

type Balance struct {
	Identity string `json:"identity"`
	At       uint64 `json:"at"`
	Balance  string `json:"balance"`
}

type Supply struct {
	At     uint64 `json:"at"`
	Supply string `json:"supply"`
}

type Account struct {
	Identity string `json:"identity"`
	Balance  string `json:"balance"`
}

type CheckpointResult struct {
	Identity string `json:"identity,omitempty"`
	Appended int    `json:"appended"`
}

// EventEntry is one row of the committed event log. Seq orders entries and
// is the cursor for paging.
type EventEntry struct {
	Seq   int64           `json:"seq"`
	Event json.RawMessage `json:"event"`
}

type Error struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
