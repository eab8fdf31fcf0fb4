package persist

import (
	"context"
)

// StorageRepo persists storage container slots. Containers save as a
// full replace inside one transaction, matching the close-time snapshot
// the storage engine sends.
type StorageRepo struct {
	db *DB
}

func NewStorageRepo(db *DB) *StorageRepo {
	return &StorageRepo{db: db}
}

// StorageKey identifies one container.
type StorageKey struct {
	AccountID int32
	GuildID   int32
	Premium   bool
}

// StorageRow is one persisted container slot.
type StorageRow struct {
	ItemID    int32
	Amount    int32
	Refine    int16
	Attribute int16
	Cards     [4]int32
	Bound     int16
	UniqueID  int64
	ExpireAt  int64
}

func (r *StorageRepo) Load(ctx context.Context, key StorageKey) ([]StorageRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT item_id, amount, refine, attribute, card0, card1, card2, card3,
		        bound, unique_id, expire_at
		 FROM storage_items
		 WHERE account_id = $1 AND guild_id = $2 AND premium = $3`,
		key.AccountID, key.GuildID, key.Premium,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []StorageRow
	for rows.Next() {
		var it StorageRow
		if err := rows.Scan(
			&it.ItemID, &it.Amount, &it.Refine, &it.Attribute,
			&it.Cards[0], &it.Cards[1], &it.Cards[2], &it.Cards[3],
			&it.Bound, &it.UniqueID, &it.ExpireAt,
		); err != nil {
			return nil, err
		}
		result = append(result, it)
	}
	return result, rows.Err()
}

// Save replaces the container contents (delete + bulk insert).
func (r *StorageRepo) Save(ctx context.Context, key StorageKey, items []StorageRow) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`DELETE FROM storage_items WHERE account_id = $1 AND guild_id = $2 AND premium = $3`,
		key.AccountID, key.GuildID, key.Premium,
	); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.Exec(ctx,
			`INSERT INTO storage_items (account_id, guild_id, premium, item_id, amount,
			        refine, attribute, card0, card1, card2, card3, bound, unique_id, expire_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
			key.AccountID, key.GuildID, key.Premium, it.ItemID, it.Amount,
			it.Refine, it.Attribute, it.Cards[0], it.Cards[1], it.Cards[2], it.Cards[3],
			it.Bound, it.UniqueID, it.ExpireAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
