package store

import (
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/lazypower/vecarvs/internal/ledger"
)

// GlobalOwner is the owner key of the global line.
const GlobalOwner = ""

const (
	metaGenesis        = "genesis"
	metaEpochDuration  = "epoch_duration"
	metaStakingFactor  = "staking_factor"
	metaNextPositionID = "next_position_id"
)

// ErrParamsMismatch is returned when the stored ledger was created with a
// different epoch duration or staking factor than requested.
var ErrParamsMismatch = errors.New("ledger parameters do not match stored ledger")

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func (db *DB) meta() (map[string]string, error) {
	rows, err := db.Query(`SELECT key, value FROM ledger_meta`)
	if err != nil {
		return nil, fmt.Errorf("read meta: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func metaUint(m map[string]string, key string) (uint64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("meta %s missing", key)
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("meta %s: %w", key, err)
	}
	return n, nil
}

// LoadLedger rebuilds the ledger from the database. On an empty database it
// records params as the ledger's genesis parameters and returns a fresh
// ledger. Otherwise the stored genesis wins, and a differing epoch duration
// or staking factor is an error.
func (db *DB) LoadLedger(params ledger.Params) (*ledger.Ledger, error) {
	m, err := db.meta()
	if err != nil {
		return nil, err
	}

	if len(m) == 0 {
		err := db.WithTx(func(tx *Tx) error {
			for k, v := range map[string]uint64{
				metaGenesis:        params.Genesis,
				metaEpochDuration:  params.EpochDuration,
				metaStakingFactor:  params.StakingFactor,
				metaNextPositionID: 1,
			} {
				if err := tx.setMeta(k, v); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("init meta: %w", err)
		}
		return ledger.New(params), nil
	}

	stored := ledger.Params{}
	if stored.Genesis, err = metaUint(m, metaGenesis); err != nil {
		return nil, err
	}
	if stored.EpochDuration, err = metaUint(m, metaEpochDuration); err != nil {
		return nil, err
	}
	if stored.StakingFactor, err = metaUint(m, metaStakingFactor); err != nil {
		return nil, err
	}
	if stored.EpochDuration != params.EpochDuration || stored.StakingFactor != params.StakingFactor {
		return nil, fmt.Errorf("%w: stored epoch=%d factor=%d, requested epoch=%d factor=%d",
			ErrParamsMismatch, stored.EpochDuration, stored.StakingFactor, params.EpochDuration, params.StakingFactor)
	}
	next, err := metaUint(m, metaNextPositionID)
	if err != nil {
		return nil, err
	}

	state := ledger.State{
		Params:         stored,
		Users:          make(map[string]ledger.LineState),
		NextPositionID: next,
	}
	lines := map[string]*ledger.LineState{}
	line := func(owner string) *ledger.LineState {
		ls, ok := lines[owner]
		if !ok {
			ls = &ledger.LineState{SlopeChanges: make(map[uint64]*big.Int)}
			lines[owner] = ls
		}
		return ls
	}

	if err := db.loadPoints(line); err != nil {
		return nil, err
	}
	if err := db.loadSlopeChanges(line); err != nil {
		return nil, err
	}
	for owner, ls := range lines {
		if owner == GlobalOwner {
			state.Global = *ls
			continue
		}
		state.Users[owner] = *ls
	}

	positions, err := db.ListPositions("")
	if err != nil {
		return nil, err
	}
	state.Positions = positions

	l, err := ledger.Restore(state)
	if err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}
	return l, nil
}

func (db *DB) loadPoints(line func(string) *ledger.LineState) error {
	rows, err := db.Query(`SELECT owner, epoch, bias, slope FROM checkpoints ORDER BY owner, idx`)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, bias, slope string
		var epoch int64
		if err := rows.Scan(&owner, &epoch, &bias, &slope); err != nil {
			return fmt.Errorf("scan checkpoint: %w", err)
		}
		p := ledger.EpochPoint{Epoch: uint64(epoch)}
		if p.Bias, err = parseBig(bias); err != nil {
			return fmt.Errorf("checkpoint %q/%d bias: %w", owner, epoch, err)
		}
		if p.Slope, err = parseBig(slope); err != nil {
			return fmt.Errorf("checkpoint %q/%d slope: %w", owner, epoch, err)
		}
		ls := line(owner)
		ls.Points = append(ls.Points, p)
	}
	return rows.Err()
}

func (db *DB) loadSlopeChanges(line func(string) *ledger.LineState) error {
	rows, err := db.Query(`SELECT owner, epoch, delta FROM slope_changes`)
	if err != nil {
		return fmt.Errorf("load slope changes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var owner, delta string
		var epoch int64
		if err := rows.Scan(&owner, &epoch, &delta); err != nil {
			return fmt.Errorf("scan slope change: %w", err)
		}
		d, err := parseBig(delta)
		if err != nil {
			return fmt.Errorf("slope change %q/%d: %w", owner, epoch, err)
		}
		line(owner).SlopeChanges[uint64(epoch)] = d
	}
	return rows.Err()
}

// ListPositions returns open positions ordered by id, optionally filtered
// by identity.
func (db *DB) ListPositions(identity string) ([]*ledger.Position, error) {
	query := `SELECT id, identity, balance, begin_ts, end_ts FROM positions`
	var args []any
	if identity != "" {
		query += ` WHERE identity = ?`
		args = append(args, identity)
	}
	query += ` ORDER BY id`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	defer rows.Close()

	var out []*ledger.Position
	for rows.Next() {
		var p ledger.Position
		var id, begin, end int64
		var balance string
		if err := rows.Scan(&id, &p.Identity, &balance, &begin, &end); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		if p.Balance, err = parseBig(balance); err != nil {
			return nil, fmt.Errorf("position %d balance: %w", id, err)
		}
		p.ID, p.Begin, p.End = uint64(id), uint64(begin), uint64(end)
		out = append(out, &p)
	}
	return out, rows.Err()
}

// CountPositions returns the number of open positions.
func (db *DB) CountPositions() (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count positions: %w", err)
	}
	return n, nil
}

// CountCheckpoints returns the number of stored checkpoints of one line.
func (db *DB) CountCheckpoints(owner string) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM checkpoints WHERE owner = ?`, owner).Scan(&n); err != nil {
		return 0, fmt.Errorf("count checkpoints: %w", err)
	}
	return n, nil
}

func (tx *Tx) setMeta(key string, value uint64) error {
	_, err := tx.Exec(`
		INSERT INTO ledger_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, strconv.FormatUint(value, 10))
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// SetNextPositionID records the id the next deposit will receive.
func (tx *Tx) SetNextPositionID(id uint64) error {
	return tx.setMeta(metaNextPositionID, id)
}

// SavePoints upserts points as checkpoints from..from+len(points)-1 of the
// owner's line.
func (tx *Tx) SavePoints(owner string, from int, points []ledger.EpochPoint) error {
	for i, p := range points {
		_, err := tx.Exec(`
			INSERT INTO checkpoints (owner, idx, epoch, bias, slope) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner, idx) DO UPDATE SET
				epoch = excluded.epoch, bias = excluded.bias, slope = excluded.slope
		`, owner, from+i, int64(p.Epoch), p.Bias.String(), p.Slope.String())
		if err != nil {
			return fmt.Errorf("save checkpoint %q/%d: %w", owner, from+i, err)
		}
	}
	return nil
}

// SaveSlopeChange stores the scheduled slope change of one epoch. A zero
// delta removes the entry.
func (tx *Tx) SaveSlopeChange(owner string, epoch uint64, delta *big.Int) error {
	var err error
	if delta.Sign() == 0 {
		_, err = tx.Exec(`DELETE FROM slope_changes WHERE owner = ? AND epoch = ?`, owner, int64(epoch))
	} else {
		_, err = tx.Exec(`
			INSERT INTO slope_changes (owner, epoch, delta) VALUES (?, ?, ?)
			ON CONFLICT(owner, epoch) DO UPDATE SET delta = excluded.delta
		`, owner, int64(epoch), delta.String())
	}
	if err != nil {
		return fmt.Errorf("save slope change %q/%d: %w", owner, epoch, err)
	}
	return nil
}

// InsertPosition records a new open position.
func (tx *Tx) InsertPosition(p *ledger.Position) error {
	_, err := tx.Exec(`
		INSERT INTO positions (id, identity, balance, begin_ts, end_ts, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, int64(p.ID), p.Identity, p.Balance.String(), int64(p.Begin), int64(p.End), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert position %d: %w", p.ID, err)
	}
	return nil
}

// DeletePosition removes a released position.
func (tx *Tx) DeletePosition(id uint64) error {
	result, err := tx.Exec(`DELETE FROM positions WHERE id = ?`, int64(id))
	if err != nil {
		return fmt.Errorf("delete position %d: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete position %d: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("delete position %d: %w", id, sql.ErrNoRows)
	}
	return nil
}
