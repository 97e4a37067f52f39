// Package escrow runs ledger operations as database transactions: token
// custody, the decay lines, the position table and the event log move
// together or not at all.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	log "github.com/inconshreveable/log15"

	"github.com/lazypower/vecarvs/internal/events"
	"github.com/lazypower/vecarvs/internal/ledger"
	"github.com/lazypower/vecarvs/internal/store"
)

// DefaultVault is the account that holds locked tokens.
const DefaultVault = "vault"

// ErrPositionNotFound is returned for lookups of unknown or released
// positions.
var ErrPositionNotFound = ledger.ErrPositionNotFound

// Service serializes every ledger operation behind one mutex.
type Service struct {
	mu     sync.Mutex
	db     *store.DB
	ledger *ledger.Ledger
	bus    *events.Bus
	log    log.Logger
	now    func() time.Time
	vault  string
}

type Option func(*Service)

// WithClock replaces time.Now as the source of block timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l log.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithBus sets the bus committed events are emitted on.
func WithBus(b *events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithVault sets the custody account name.
func WithVault(name string) Option {
	return func(s *Service) { s.vault = name }
}

// New loads the ledger from db, initializing it with params if the
// database is empty.
func New(db *store.DB, params ledger.Params, opts ...Option) (*Service, error) {
	s := &Service{
		db:    db,
		bus:   events.NewBus(),
		log:   log.New("module", "escrow"),
		now:   time.Now,
		vault: DefaultVault,
	}
	for _, opt := range opts {
		opt(s)
	}

	l, err := db.LoadLedger(params)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	s.ledger = l
	s.log.Info("ledger loaded", "genesis", l.Params().Genesis, "epoch", l.Params().EpochDuration,
		"factor", l.Params().StakingFactor, "nextPosition", l.NextPositionID())
	return s, nil
}

// Bus returns the bus committed events are emitted on.
func (s *Service) Bus() *events.Bus {
	return s.bus
}

// Params returns the ledger's time grid.
func (s *Service) Params() ledger.Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Params()
}

// Now returns the current timestamp in seconds.
func (s *Service) Now() uint64 {
	return uint64(s.now().Unix())
}

// Deposit moves amount from identity's account into the vault and opens a
// lock position for duration seconds.
func (s *Service) Deposit(ctx context.Context, identity string, amount *big.Int, duration uint64) (*ledger.Position, error) {
	pos, evt, err := s.deposit(identity, amount, duration)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, evt)
	return pos, nil
}

func (s *Service) deposit(identity string, amount *big.Int, duration uint64) (*ledger.Position, *events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	if err := s.ledger.ValidateDeposit(identity, amount, duration, now); err != nil {
		return nil, nil, err
	}
	if identity == s.vault {
		return nil, nil, fmt.Errorf("%w: the vault cannot lock", ledger.ErrInvalidIdentity)
	}

	globalBefore := s.ledger.Global().Len()
	userBefore := 0
	if line := s.ledger.Line(identity); line != nil {
		userBefore = line.Len()
	}

	var pos *ledger.Position
	var evt events.Event
	err := s.db.WithTx(func(tx *store.Tx) error {
		if err := tx.Transfer(identity, s.vault, amount); err != nil {
			return err
		}

		var err error
		pos, err = s.ledger.Deposit(identity, amount, duration, now)
		if err != nil {
			return err
		}

		endEpoch := s.ledger.Params().Epoch(pos.End)
		if err := saveLine(tx, store.GlobalOwner, s.ledger.Global(), globalBefore, endEpoch); err != nil {
			return err
		}
		if err := saveLine(tx, identity, s.ledger.Line(identity), userBefore, endEpoch); err != nil {
			return err
		}
		if err := tx.InsertPosition(pos); err != nil {
			return err
		}
		if err := tx.SetNextPositionID(s.ledger.NextPositionID()); err != nil {
			return err
		}

		evt = events.Deposit(identity, pos.ID, amount.String(), pos.Begin, duration, now)
		return appendEvent(tx, evt)
	})
	if err != nil {
		s.reload(err)
		return nil, nil, err
	}

	s.log.Info("deposit", "identity", identity, "position", pos.ID, "amount", amount, "end", pos.End)
	return pos, &evt, nil
}

// Release returns an expired position's tokens to its owner.
func (s *Service) Release(ctx context.Context, identity string, positionID uint64) (*ledger.Position, error) {
	pos, evt, err := s.release(identity, positionID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, evt)
	return pos, nil
}

func (s *Service) release(identity string, positionID uint64) (*ledger.Position, *events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Now()
	pos, err := s.ledger.ValidateRelease(identity, positionID, now)
	if err != nil {
		return nil, nil, err
	}

	evt := events.Withdraw(identity, pos.ID, pos.Balance.String(), now)
	err = s.db.WithTx(func(tx *store.Tx) error {
		if err := tx.Transfer(s.vault, identity, pos.Balance); err != nil {
			return err
		}
		if err := tx.DeletePosition(pos.ID); err != nil {
			return err
		}
		if err := appendEvent(tx, evt); err != nil {
			return err
		}
		_, err := s.ledger.Release(identity, positionID, now)
		return err
	})
	if err != nil {
		s.reload(err)
		return nil, nil, err
	}

	s.log.Info("release", "identity", identity, "position", pos.ID, "amount", pos.Balance)
	return pos, &evt, nil
}

// Checkpoint advances the global line to the current epoch and returns the
// number of points appended.
func (s *Service) Checkpoint(ctx context.Context) (int, error) {
	appended, evt, err := s.checkpoint("")
	if err != nil {
		return 0, err
	}
	s.emit(ctx, evt)
	return appended, nil
}

// CheckpointIdentity advances one identity's line. Identities that never
// deposited append nothing and record no event.
func (s *Service) CheckpointIdentity(ctx context.Context, identity string) (int, error) {
	if identity == "" {
		return 0, nil
	}
	appended, evt, err := s.checkpoint(identity)
	if err != nil {
		return 0, err
	}
	s.emit(ctx, evt)
	return appended, nil
}

// checkpoint advances identity's line, or the global line when identity is
// empty. The event is nil when nothing was recorded.
func (s *Service) checkpoint(identity string) (int, *events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, line := store.GlobalOwner, s.ledger.Global()
	if identity != "" {
		owner, line = identity, s.ledger.Line(identity)
		if line == nil {
			return 0, nil, nil
		}
	}

	now := s.Now()
	before := line.Len()

	var appended int
	evt := events.Checkpoint(identity, now)
	err := s.db.WithTx(func(tx *store.Tx) error {
		if identity == "" {
			appended = s.ledger.Checkpoint(now)
		} else {
			appended = s.ledger.CheckpointIdentity(identity, now)
		}
		if err := savePoints(tx, owner, line, before); err != nil {
			return err
		}
		return appendEvent(tx, evt)
	})
	if err != nil {
		s.reload(err)
		return 0, nil, err
	}

	s.log.Debug("checkpoint", "identity", identity, "appended", appended, "epoch", line.Last().Epoch)
	return appended, &evt, nil
}

// BalanceOfAt returns identity's voting balance at ts.
func (s *Service) BalanceOfAt(identity string, ts uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.BalanceOfAt(identity, ts)
}

// TotalSupplyAt returns the global voting balance at ts.
func (s *Service) TotalSupplyAt(ts uint64) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.TotalSupplyAt(ts)
}

func (s *Service) Position(id uint64) (*ledger.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.ledger.Position(id)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrPositionNotFound, id)
	}
	return pos, nil
}

func (s *Service) PositionsOf(identity string) []*ledger.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.PositionsOf(identity)
}

// Points returns the materialized checkpoints of identity's line, or of the
// global line when identity is empty.
func (s *Service) Points(identity string) []ledger.EpochPoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	line := s.ledger.Global()
	if identity != "" {
		line = s.ledger.Line(identity)
	}
	if line == nil {
		return nil
	}
	return line.Points(0)
}

// Credit mints tokens into an account. It stands in for an external token
// transfer into the caller's wallet.
func (s *Service) Credit(identity string, amount *big.Int) (*big.Int, error) {
	if identity == "" {
		return nil, fmt.Errorf("%w: identity is empty", ledger.ErrInvalidIdentity)
	}
	if identity == s.vault {
		return nil, fmt.Errorf("%w: cannot credit the vault", ledger.ErrInvalidIdentity)
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidAmount)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var bal *big.Int
	err := s.db.WithTx(func(tx *store.Tx) error {
		var err error
		bal, err = tx.Credit(identity, amount)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("credit", "identity", identity, "amount", amount, "balance", bal)
	return bal, nil
}

// AccountBalance returns the liquid token balance of an account.
func (s *Service) AccountBalance(identity string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Balance(identity)
}

// Vault returns the custody account name.
func (s *Service) Vault() string {
	return s.vault
}

// Events returns committed events with id greater than afterID.
func (s *Service) Events(afterID int64, identity string, limit int) ([]store.EventRecord, error) {
	return s.db.ListEvents(afterID, identity, limit)
}

// reload rebuilds the in-memory ledger after a failed transaction so it
// matches the database again.
func (s *Service) reload(cause error) {
	l, err := s.db.LoadLedger(s.ledger.Params())
	if err != nil {
		s.log.Crit("reload ledger after rollback", "cause", cause, "err", err)
		return
	}
	s.ledger = l
}

// emit delivers a committed event to the bus. It runs without s.mu held,
// so a slow sink never blocks the ledger; the events table keeps the
// authoritative order.
func (s *Service) emit(ctx context.Context, evt *events.Event) {
	if evt == nil {
		return
	}
	if err := s.bus.Emit(ctx, *evt); err != nil {
		s.log.Warn("event delivery", "kind", evt.Kind, "id", evt.ID, "err", err)
	}
}

// savePoints persists the points touched since the line had before points,
// including the last pre-existing one.
func savePoints(tx *store.Tx, owner string, line *ledger.Line, before int) error {
	from := before - 1
	if from < 0 {
		from = 0
	}
	return tx.SavePoints(owner, from, line.Points(from))
}

// saveLine persists the touched points and the slope change at endEpoch.
func saveLine(tx *store.Tx, owner string, line *ledger.Line, before int, endEpoch uint64) error {
	if err := savePoints(tx, owner, line, before); err != nil {
		return err
	}
	return tx.SaveSlopeChange(owner, endEpoch, line.SlopeChange(endEpoch))
}

func appendEvent(tx *store.Tx, evt events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	rec := &store.EventRecord{
		EventID:   evt.ID,
		Kind:      string(evt.Kind),
		Identity:  evt.Identity,
		Payload:   string(payload),
		CreatedAt: int64(evt.Timestamp) * 1000,
	}
	if evt.PositionID != 0 {
		pid := int64(evt.PositionID)
		rec.PositionID = &pid
	}
	return tx.AppendEvent(rec)
}
