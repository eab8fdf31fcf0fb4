package persist

import (
	"context"

	"github.com/midgard/mapserver/internal/intif"
)

// PartyRepo persists parties. An empty record (id only) dissolves.
type PartyRepo struct {
	db *DB
}

func NewPartyRepo(db *DB) *PartyRepo {
	return &PartyRepo{db: db}
}

func (r *PartyRepo) Create(ctx context.Context, rec intif.PartyRecord) (int32, error) {
	var id int32
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO parties (name, leader_char, exp_share, item_share, item_pickup)
		 VALUES ($1,$2,$3,$4,$5) RETURNING party_id`,
		rec.Name, rec.LeaderChar, rec.ExpShare, rec.ItemShare, rec.ItemPickup,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rec.PartyID = id
	if err := r.Save(ctx, rec); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *PartyRepo) Save(ctx context.Context, rec intif.PartyRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM party_members WHERE party_id = $1`, rec.PartyID); err != nil {
		return err
	}
	if rec.Name == "" {
		if _, err := tx.Exec(ctx, `DELETE FROM parties WHERE party_id = $1`, rec.PartyID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE parties SET name=$2, leader_char=$3, exp_share=$4, item_share=$5, item_pickup=$6
		 WHERE party_id = $1`,
		rec.PartyID, rec.Name, rec.LeaderChar, rec.ExpShare, rec.ItemShare, rec.ItemPickup,
	); err != nil {
		return err
	}
	for _, charID := range rec.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO party_members (party_id, char_id) VALUES ($1, $2)`,
			rec.PartyID, charID,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// LoadAll returns every party, for boot restore.
func (r *PartyRepo) LoadAll(ctx context.Context) ([]intif.PartyRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT party_id, name, leader_char, exp_share, item_share, item_pickup
		 FROM parties ORDER BY party_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []intif.PartyRecord
	for rows.Next() {
		var rec intif.PartyRecord
		if err := rows.Scan(
			&rec.PartyID, &rec.Name, &rec.LeaderChar,
			&rec.ExpShare, &rec.ItemShare, &rec.ItemPickup,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		mrows, err := r.db.Pool.Query(ctx,
			`SELECT char_id FROM party_members WHERE party_id = $1`, recs[i].PartyID)
		if err != nil {
			return nil, err
		}
		for mrows.Next() {
			var charID int32
			if err := mrows.Scan(&charID); err != nil {
				mrows.Close()
				return nil, err
			}
			recs[i].Members = append(recs[i].Members, charID)
		}
		mrows.Close()
		if err := mrows.Err(); err != nil {
			return nil, err
		}
	}
	return recs, nil
}
