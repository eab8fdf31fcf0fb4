package persist

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/midgard/mapserver/internal/storage"
)

// StorageAudit implements storage.Audit over the database. Audit rows
// are advisory, so writes happen off the game loop and failures only
// log.
type StorageAudit struct {
	db      *DB
	log     *zap.Logger
	timeout time.Duration
}

func NewStorageAudit(db *DB, timeout time.Duration, log *zap.Logger) *StorageAudit {
	return &StorageAudit{db: db, log: log, timeout: timeout}
}

// AuditRow is one persisted audit entry, newest first from Recent.
type AuditRow struct {
	ID        int64
	CharID    int32
	AccountID int32
	GuildID   int32
	Kind      int16
	ItemID    int32
	Amount    int32
	Deposit   bool
	At        time.Time
}

// Recent returns the newest n audit entries for a guild, for dispute
// review. Synchronous; called from admin commands, not the hot path.
func (a *StorageAudit) Recent(ctx context.Context, guildID int32, n int) ([]AuditRow, error) {
	rows, err := a.db.Pool.Query(ctx,
		`SELECT id, char_id, account_id, guild_id, kind, item_id, amount, deposit, at
		 FROM storage_audit WHERE guild_id = $1 ORDER BY id DESC LIMIT $2`,
		guildID, n,
	)
	if err != nil {
		return nil, fmt.Errorf("audit query: %w", err)
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		if err := rows.Scan(&r.ID, &r.CharID, &r.AccountID, &r.GuildID,
			&r.Kind, &r.ItemID, &r.Amount, &r.Deposit, &r.At); err != nil {
			return nil, fmt.Errorf("audit scan: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *StorageAudit) Record(e storage.AuditEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		_, err := a.db.Pool.Exec(ctx,
			`INSERT INTO storage_audit (char_id, account_id, guild_id, kind, item_id, amount, deposit)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			e.CharID, e.AccountID, e.GuildID, int16(e.Kind), e.ItemID, e.Amount, e.Deposit,
		)
		if err != nil {
			a.log.Warn("storage audit write failed",
				zap.Int32("char", e.CharID),
				zap.Error(err),
			)
		}
	}()
}
