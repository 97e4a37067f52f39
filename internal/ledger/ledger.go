package ledger

import (
	"fmt"
	"math"
	"math/big"
	"sort"
)

// Position is one locked deposit.
type Position struct {
	ID       uint64
	Identity string
	Balance  *big.Int
	Begin    uint64
	End      uint64
}

func (p *Position) clone() *Position {
	c := *p
	c.Balance = new(big.Int).Set(p.Balance)
	return &c
}

// Ledger is the voting-escrow state: the global line, one line per
// identity that has ever deposited, and the open positions.
//
// A Ledger is not safe for concurrent use. Callers serialize every
// operation, including the advance-then-mutate sequence inside Deposit.
type Ledger struct {
	params    Params
	global    *Line
	users     map[string]*Line
	positions map[uint64]*Position
	nextID    uint64
}

// New creates an empty ledger.
func New(params Params) *Ledger {
	return &Ledger{
		params:    params,
		global:    newLine(),
		users:     make(map[string]*Line),
		positions: make(map[uint64]*Position),
		nextID:    1,
	}
}

// Params returns the ledger's time grid.
func (l *Ledger) Params() Params {
	return l.params
}

// Global returns the global line. Callers must not retain it across
// mutations.
func (l *Ledger) Global() *Line {
	return l.global
}

// Line returns the identity's line, or nil if it never deposited.
func (l *Ledger) Line(identity string) *Line {
	return l.users[identity]
}

// NextPositionID returns the id the next deposit will receive.
func (l *Ledger) NextPositionID() uint64 {
	return l.nextID
}

// ValidateDeposit checks Deposit's preconditions without touching state.
// The lock must end at a timestamp that fits in an int64.
func (l *Ledger) ValidateDeposit(identity string, amount *big.Int, duration, now uint64) error {
	if identity == "" {
		return fmt.Errorf("%w: identity is empty", ErrInvalidIdentity)
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	if duration == 0 || duration%l.params.EpochDuration != 0 {
		return fmt.Errorf("%w: %d is not a positive multiple of %d", ErrInvalidDuration, duration, l.params.EpochDuration)
	}
	begin := l.params.EpochStart(l.params.Epoch(now))
	if begin > math.MaxInt64 || duration > math.MaxInt64-begin {
		return fmt.Errorf("%w: %d seconds from %d overflows the timeline", ErrInvalidDuration, duration, begin)
	}
	return nil
}

// Deposit locks amount for duration seconds on behalf of identity.
func (l *Ledger) Deposit(identity string, amount *big.Int, duration, now uint64) (*Position, error) {
	if err := l.ValidateDeposit(identity, amount, duration, now); err != nil {
		return nil, err
	}

	user, ok := l.users[identity]
	if !ok {
		user = newLine()
		l.users[identity] = user
	}
	l.global.advance(l.params, now)
	user.advance(l.params, now)

	begin := l.params.EpochStart(l.params.Epoch(now))
	end := begin + duration
	bias, slope := l.InitialLine(amount, duration)
	endEpoch := l.params.Epoch(end)

	l.global.lock(bias, slope, endEpoch)
	user.lock(bias, slope, endEpoch)

	pos := &Position{
		ID:       l.nextID,
		Identity: identity,
		Balance:  new(big.Int).Set(amount),
		Begin:    begin,
		End:      end,
	}
	l.positions[pos.ID] = pos
	l.nextID++

	return pos.clone(), nil
}

// InitialLine returns the starting bias and per-second slope of a lock.
// The +1 on the slope makes the line reach zero at or before expiry
// despite truncation.
func (l *Ledger) InitialLine(amount *big.Int, duration uint64) (bias, slope *big.Int) {
	d := new(big.Int).SetUint64(duration)
	bias = new(big.Int).Mul(amount, d)
	bias.Quo(bias, new(big.Int).SetUint64(l.params.StakingFactor*l.params.EpochDuration))

	slope = new(big.Int).Quo(bias, d)
	slope.Add(slope, big.NewInt(1))
	return bias, slope
}

// ValidateRelease checks Release's preconditions without touching state.
func (l *Ledger) ValidateRelease(identity string, id, now uint64) (*Position, error) {
	pos, ok := l.positions[id]
	if !ok || pos.Identity != identity {
		return nil, fmt.Errorf("%w: position %d", ErrNotOwnerOrAlreadyReleased, id)
	}
	if now < pos.End {
		return nil, fmt.Errorf("%w: position %d unlocks at %d", ErrStillLocked, id, pos.End)
	}
	return pos.clone(), nil
}

// Release closes an expired position and returns it. The decay lines are
// untouched; the position's slope already left them at expiry.
func (l *Ledger) Release(identity string, id, now uint64) (*Position, error) {
	pos, err := l.ValidateRelease(identity, id, now)
	if err != nil {
		return nil, err
	}
	delete(l.positions, id)
	return pos, nil
}

// Checkpoint advances the global line to the epoch of now and returns the
// number of points appended.
func (l *Ledger) Checkpoint(now uint64) int {
	return l.global.advance(l.params, now)
}

// CheckpointIdentity advances one identity's line. Unknown identities are
// a no-op.
func (l *Ledger) CheckpointIdentity(identity string, now uint64) int {
	user, ok := l.users[identity]
	if !ok {
		return 0
	}
	return user.advance(l.params, now)
}

// TotalSupplyAt returns the global balance at ts.
func (l *Ledger) TotalSupplyAt(ts uint64) *big.Int {
	return l.global.balanceAt(l.params, ts)
}

// BalanceOfAt returns identity's balance at ts.
func (l *Ledger) BalanceOfAt(identity string, ts uint64) *big.Int {
	user, ok := l.users[identity]
	if !ok {
		return new(big.Int)
	}
	return user.balanceAt(l.params, ts)
}

// Position returns a copy of an open position.
func (l *Ledger) Position(id uint64) (*Position, bool) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, false
	}
	return pos.clone(), true
}

// PositionsOf returns the identity's open positions ordered by id.
func (l *Ledger) PositionsOf(identity string) []*Position {
	var out []*Position
	for _, pos := range l.positions {
		if pos.Identity == identity {
			out = append(out, pos.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Identities returns every identity with a line, sorted.
func (l *Ledger) Identities() []string {
	out := make([]string, 0, len(l.users))
	for id := range l.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
