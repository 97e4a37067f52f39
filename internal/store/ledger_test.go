package store

import (
	"database/sql"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/lazypower/vecarvs/internal/ledger"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testParams(t *testing.T) ledger.Params {
	t.Helper()
	p, err := ledger.NewParams(1000, 10, 1)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return p
}

// saveAll persists every point and slope change of the ledger.
func saveAll(t *testing.T, db *DB, l *ledger.Ledger, positions ...*ledger.Position) {
	t.Helper()
	err := db.WithTx(func(tx *Tx) error {
		owners := append([]string{GlobalOwner}, l.Identities()...)
		for _, owner := range owners {
			line := l.Global()
			if owner != GlobalOwner {
				line = l.Line(owner)
			}
			if err := tx.SavePoints(owner, 0, line.Points(0)); err != nil {
				return err
			}
			for e, d := range line.SlopeChanges() {
				if err := tx.SaveSlopeChange(owner, e, d); err != nil {
					return err
				}
			}
		}
		for _, p := range positions {
			if err := tx.InsertPosition(p); err != nil {
				return err
			}
		}
		return tx.SetNextPositionID(l.NextPositionID())
	})
	if err != nil {
		t.Fatalf("save ledger: %v", err)
	}
}

func TestLoadLedgerEmpty(t *testing.T) {
	db := testDB(t)
	params := testParams(t)

	l, err := db.LoadLedger(params)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if l.Params() != params {
		t.Errorf("Params = %+v, want %+v", l.Params(), params)
	}
	if l.NextPositionID() != 1 {
		t.Errorf("NextPositionID = %d, want 1", l.NextPositionID())
	}

	// Second load reads the meta written by the first.
	again, err := db.LoadLedger(params)
	if err != nil {
		t.Fatalf("LoadLedger again: %v", err)
	}
	if again.Params() != params {
		t.Errorf("reloaded Params = %+v, want %+v", again.Params(), params)
	}
}

func TestLoadLedgerKeepsStoredGenesis(t *testing.T) {
	db := testDB(t)
	params := testParams(t)

	if _, err := db.LoadLedger(params); err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}

	later := params
	later.Genesis += 500
	l, err := db.LoadLedger(later)
	if err != nil {
		t.Fatalf("LoadLedger later: %v", err)
	}
	if l.Params().Genesis != params.Genesis {
		t.Errorf("Genesis = %d, want stored %d", l.Params().Genesis, params.Genesis)
	}
}

func TestLoadLedgerParamsMismatch(t *testing.T) {
	db := testDB(t)
	params := testParams(t)

	if _, err := db.LoadLedger(params); err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}

	other := params
	other.StakingFactor = 4
	if _, err := db.LoadLedger(other); !errors.Is(err, ErrParamsMismatch) {
		t.Errorf("LoadLedger mismatch: err = %v, want ErrParamsMismatch", err)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	db := testDB(t)
	params := testParams(t)

	l, err := db.LoadLedger(params)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}

	a, err := l.Deposit("alice", big.NewInt(100), 20, 1015)
	if err != nil {
		t.Fatalf("Deposit alice: %v", err)
	}
	b, err := l.Deposit("bob", big.NewInt(300), 40, 1022)
	if err != nil {
		t.Fatalf("Deposit bob: %v", err)
	}
	l.Checkpoint(1045)
	saveAll(t, db, l, a, b)

	loaded, err := db.LoadLedger(params)
	if err != nil {
		t.Fatalf("LoadLedger after save: %v", err)
	}

	if loaded.NextPositionID() != 3 {
		t.Errorf("NextPositionID = %d, want 3", loaded.NextPositionID())
	}
	if got := loaded.Global().Len(); got != l.Global().Len() {
		t.Errorf("global points = %d, want %d", got, l.Global().Len())
	}
	for ts := uint64(1000); ts <= 1080; ts += 5 {
		if got, want := loaded.TotalSupplyAt(ts), l.TotalSupplyAt(ts); got.Cmp(want) != 0 {
			t.Errorf("TotalSupplyAt(%d) = %s, want %s", ts, got, want)
		}
		if got, want := loaded.BalanceOfAt("alice", ts), l.BalanceOfAt("alice", ts); got.Cmp(want) != 0 {
			t.Errorf("BalanceOfAt(alice, %d) = %s, want %s", ts, got, want)
		}
	}

	pos, ok := loaded.Position(b.ID)
	if !ok {
		t.Fatalf("position %d not restored", b.ID)
	}
	if pos.Identity != "bob" || pos.Balance.String() != "300" {
		t.Errorf("position = %+v", pos)
	}
}

func TestSaveSlopeChangeZeroDeletes(t *testing.T) {
	db := testDB(t)

	err := db.WithTx(func(tx *Tx) error {
		if err := tx.SaveSlopeChange("alice", 4, big.NewInt(-11)); err != nil {
			return err
		}
		return tx.SaveSlopeChange("alice", 4, new(big.Int))
	})
	if err != nil {
		t.Fatalf("WithTx: %v", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM slope_changes`).Scan(&n)
	if n != 0 {
		t.Errorf("slope_changes rows = %d, want 0", n)
	}
}

func TestDeletePosition(t *testing.T) {
	db := testDB(t)

	pos := &ledger.Position{ID: 7, Identity: "alice", Balance: big.NewInt(5), Begin: 0, End: 10}
	err := db.WithTx(func(tx *Tx) error { return tx.InsertPosition(pos) })
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}

	if n, _ := db.CountPositions(); n != 1 {
		t.Errorf("CountPositions = %d, want 1", n)
	}

	err = db.WithTx(func(tx *Tx) error { return tx.DeletePosition(7) })
	if err != nil {
		t.Fatalf("DeletePosition: %v", err)
	}

	err = db.WithTx(func(tx *Tx) error { return tx.DeletePosition(7) })
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("DeletePosition missing: err = %v, want sql.ErrNoRows", err)
	}
}

func TestWithTxRollback(t *testing.T) {
	db := testDB(t)

	boom := errors.New("boom")
	err := db.WithTx(func(tx *Tx) error {
		pos := &ledger.Position{ID: 1, Identity: "alice", Balance: big.NewInt(5), Begin: 0, End: 10}
		if err := tx.InsertPosition(pos); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx err = %v, want boom", err)
	}

	if n, _ := db.CountPositions(); n != 0 {
		t.Errorf("CountPositions after rollback = %d, want 0", n)
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vecarvs.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.LoadLedger(testParams(t)); err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	db.Close()

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	l, err := db.LoadLedger(testParams(t))
	if err != nil {
		t.Fatalf("LoadLedger after reopen: %v", err)
	}
	if l.Params().Genesis != 1000 {
		t.Errorf("Genesis = %d, want 1000", l.Params().Genesis)
	}
}
