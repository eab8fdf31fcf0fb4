package persist

import (
	"context"
	"fmt"

	"github.com/midgard/mapserver/internal/intif"
)

// CharacterRepo persists the slice of character state this server owns:
// position, zeny and the per-class mercenary loyalty counters.
type CharacterRepo struct {
	db *DB
}

func NewCharacterRepo(db *DB) *CharacterRepo {
	return &CharacterRepo{db: db}
}

func (r *CharacterRepo) Save(ctx context.Context, rec intif.CharacterRecord) error {
	tag, err := r.db.Pool.Exec(ctx,
		`UPDATE characters SET map_id=$2, x=$3, y=$4, zeny=$5,
		        sword_faith=$6, sword_calls=$7,
		        spear_faith=$8, spear_calls=$9,
		        arch_faith=$10, arch_calls=$11
		 WHERE char_id = $1`,
		rec.CharID, rec.MapID, rec.X, rec.Y, rec.Zeny,
		rec.SwordFaith, rec.SwordCalls,
		rec.SpearFaith, rec.SpearCalls,
		rec.ArchFaith, rec.ArchCalls,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("character %d: %w", rec.CharID, ErrNotFound)
	}
	return nil
}
