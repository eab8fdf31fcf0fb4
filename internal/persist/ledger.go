package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/midgard/mapserver/internal/trade"
)

// TradeLedger implements trade.Ledger over the database. Entries are
// written synchronously in one transaction before the exchange mutates
// any inventory; a failed write cancels the trade.
type TradeLedger struct {
	db      *DB
	timeout time.Duration
}

func NewTradeLedger(db *DB, timeout time.Duration) *TradeLedger {
	return &TradeLedger{db: db, timeout: timeout}
}

func (l *TradeLedger) Record(e trade.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ledger begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO trade_ledger (trade_id, char_a, char_b, zeny_ab, zeny_ba)
		 VALUES ($1,$2,$3,$4,$5) RETURNING id`,
		int64(e.TradeID), e.CharA, e.CharB, e.ZenyAB, e.ZenyBA,
	).Scan(&id); err != nil {
		return fmt.Errorf("ledger insert: %w", err)
	}
	for _, it := range e.Items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO trade_ledger_items (ledger_id, from_char, to_char, item_id, amount)
			 VALUES ($1,$2,$3,$4,$5)`,
			id, it.FromChar, it.ToChar, it.ItemID, it.Amount,
		); err != nil {
			return fmt.Errorf("ledger item insert: %w", err)
		}
	}
	return tx.Commit(ctx)
}
