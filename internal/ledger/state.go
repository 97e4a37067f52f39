package ledger

import (
	"fmt"
	"math/big"
)

// LineState is the exported form of a Line.
type LineState struct {
	Points       []EpochPoint
	SlopeChanges map[uint64]*big.Int
}

// State is a full export of a Ledger, used to persist and reload it.
type State struct {
	Params         Params
	Global         LineState
	Users          map[string]LineState
	Positions      []*Position
	NextPositionID uint64
}

func (l *Line) state() LineState {
	return LineState{Points: l.Points(0), SlopeChanges: l.SlopeChanges()}
}

// Snapshot exports a deep copy of the ledger state.
func (l *Ledger) Snapshot() State {
	s := State{
		Params:         l.params,
		Global:         l.global.state(),
		Users:          make(map[string]LineState, len(l.users)),
		NextPositionID: l.nextID,
	}
	for id, line := range l.users {
		s.Users[id] = line.state()
	}
	for _, pos := range l.positions {
		s.Positions = append(s.Positions, pos.clone())
	}
	return s
}

func restoreLine(ls LineState) (*Line, error) {
	line := newLine()
	if len(ls.Points) > 0 {
		if ls.Points[0].Epoch != 0 {
			return nil, fmt.Errorf("first checkpoint at epoch %d, want 0", ls.Points[0].Epoch)
		}
		line.points = line.points[:0]
		for i, p := range ls.Points {
			if i > 0 && p.Epoch <= ls.Points[i-1].Epoch {
				return nil, fmt.Errorf("checkpoint %d at epoch %d is not after epoch %d", i, p.Epoch, ls.Points[i-1].Epoch)
			}
			if p.Bias == nil || p.Slope == nil {
				return nil, fmt.Errorf("checkpoint %d is incomplete", i)
			}
			line.points = append(line.points, p.Clone())
		}
	}
	for e, d := range ls.SlopeChanges {
		if d == nil || d.Sign() == 0 {
			continue
		}
		line.slopeChanges[e] = new(big.Int).Set(d)
	}
	return line, nil
}

// Restore rebuilds a Ledger from a snapshot.
func Restore(s State) (*Ledger, error) {
	l := New(s.Params)
	global, err := restoreLine(s.Global)
	if err != nil {
		return nil, fmt.Errorf("restore global line: %w", err)
	}
	l.global = global

	for id, ls := range s.Users {
		line, err := restoreLine(ls)
		if err != nil {
			return nil, fmt.Errorf("restore line %s: %w", id, err)
		}
		l.users[id] = line
	}

	if s.NextPositionID > 0 {
		l.nextID = s.NextPositionID
	}
	for _, pos := range s.Positions {
		if pos.ID >= l.nextID {
			return nil, fmt.Errorf("position %d is not below next id %d", pos.ID, l.nextID)
		}
		l.positions[pos.ID] = pos.clone()
	}
	return l, nil
}
