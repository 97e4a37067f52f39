package store

import (
	"database/sql"
	"fmt"
	"math/big"
	"time"

	"github.com/lazypower/vecarvs/internal/ledger"
)

// ErrInsufficientBalance is returned when a debit exceeds the account
// balance.
var ErrInsufficientBalance = ledger.ErrInsufficientBalance

type querier interface {
	QueryRow(query string, args ...any) *sql.Row
}

func balanceOf(q querier, identity string) (*big.Int, error) {
	var s string
	err := q.QueryRow(`SELECT balance FROM accounts WHERE identity = ?`, identity).Scan(&s)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get balance %s: %w", identity, err)
	}
	return parseBig(s)
}

// Balance returns the token balance of an account. Unknown accounts hold
// zero.
func (db *DB) Balance(identity string) (*big.Int, error) {
	return balanceOf(db, identity)
}

func (tx *Tx) setBalance(identity string, balance *big.Int) error {
	_, err := tx.Exec(`
		INSERT INTO accounts (identity, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
	`, identity, balance.String(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set balance %s: %w", identity, err)
	}
	return nil
}

// Credit adds amount to an account and returns the new balance.
func (tx *Tx) Credit(identity string, amount *big.Int) (*big.Int, error) {
	bal, err := balanceOf(tx, identity)
	if err != nil {
		return nil, err
	}
	bal.Add(bal, amount)
	if err := tx.setBalance(identity, bal); err != nil {
		return nil, err
	}
	return bal, nil
}

// Debit removes amount from an account and returns the new balance.
func (tx *Tx) Debit(identity string, amount *big.Int) (*big.Int, error) {
	bal, err := balanceOf(tx, identity)
	if err != nil {
		return nil, err
	}
	if bal.Cmp(amount) < 0 {
		return nil, fmt.Errorf("%w: %s holds %s, needs %s", ErrInsufficientBalance, identity, bal, amount)
	}
	bal.Sub(bal, amount)
	if err := tx.setBalance(identity, bal); err != nil {
		return nil, err
	}
	return bal, nil
}

// Transfer moves amount between two accounts.
func (tx *Tx) Transfer(from, to string, amount *big.Int) error {
	if _, err := tx.Debit(from, amount); err != nil {
		return err
	}
	if _, err := tx.Credit(to, amount); err != nil {
		return err
	}
	return nil
}
