package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/midgard/mapserver/internal/intif"
)

var ErrNotFound = errors.New("persist: not found")

// CompanionRepo persists homunculus, mercenary and elemental rows.
type CompanionRepo struct {
	db *DB
}

func NewCompanionRepo(db *DB) *CompanionRepo {
	return &CompanionRepo{db: db}
}

func (r *CompanionRepo) CreateHomunculus(ctx context.Context, rec intif.HomunculusRecord) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO homunculus (char_id, species_id, name, level, exp, skill_pts,
		        hp, max_hp, sp, max_sp, str, agi, vit, int_, dex, luk,
		        hunger, intimacy, vaporized)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 RETURNING homun_id`,
		rec.OwnerChar, rec.SpeciesID, rec.Name, rec.Level, rec.Exp, rec.SkillPts,
		rec.HP, rec.MaxHP, rec.SP, rec.MaxSP, rec.Str, rec.Agi, rec.Vit, rec.Int, rec.Dex, rec.Luk,
		rec.Hunger, rec.Intimacy, rec.Vaporized,
	).Scan(&id)
	return id, err
}

func (r *CompanionRepo) LoadHomunculus(ctx context.Context, homunID int64) (intif.HomunculusRecord, error) {
	var rec intif.HomunculusRecord
	err := r.db.Pool.QueryRow(ctx,
		`SELECT homun_id, char_id, species_id, name, level, exp, skill_pts,
		        hp, max_hp, sp, max_sp, str, agi, vit, int_, dex, luk,
		        hunger, intimacy, vaporized
		 FROM homunculus WHERE homun_id = $1`, homunID,
	).Scan(
		&rec.HomunID, &rec.OwnerChar, &rec.SpeciesID, &rec.Name, &rec.Level, &rec.Exp, &rec.SkillPts,
		&rec.HP, &rec.MaxHP, &rec.SP, &rec.MaxSP, &rec.Str, &rec.Agi, &rec.Vit, &rec.Int, &rec.Dex, &rec.Luk,
		&rec.Hunger, &rec.Intimacy, &rec.Vaporized,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}

	rec.Skills = make(map[int32]int8)
	rows, err := r.db.Pool.Query(ctx,
		`SELECT skill_id, level FROM homunculus_skills WHERE homun_id = $1`, homunID)
	if err != nil {
		return rec, err
	}
	defer rows.Close()
	for rows.Next() {
		var skillID int32
		var level int16
		if err := rows.Scan(&skillID, &level); err != nil {
			return rec, err
		}
		rec.Skills[skillID] = int8(level)
	}
	return rec, rows.Err()
}

// SaveHomunculus replaces the row and its skill set in one transaction.
func (r *CompanionRepo) SaveHomunculus(ctx context.Context, rec intif.HomunculusRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE homunculus SET name=$2, level=$3, exp=$4, skill_pts=$5,
		        hp=$6, max_hp=$7, sp=$8, max_sp=$9,
		        str=$10, agi=$11, vit=$12, int_=$13, dex=$14, luk=$15,
		        hunger=$16, intimacy=$17, vaporized=$18
		 WHERE homun_id = $1`,
		rec.HomunID, rec.Name, rec.Level, rec.Exp, rec.SkillPts,
		rec.HP, rec.MaxHP, rec.SP, rec.MaxSP,
		rec.Str, rec.Agi, rec.Vit, rec.Int, rec.Dex, rec.Luk,
		rec.Hunger, rec.Intimacy, rec.Vaporized,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("homunculus %d: %w", rec.HomunID, ErrNotFound)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM homunculus_skills WHERE homun_id = $1`, rec.HomunID); err != nil {
		return err
	}
	for skillID, level := range rec.Skills {
		if _, err := tx.Exec(ctx,
			`INSERT INTO homunculus_skills (homun_id, skill_id, level) VALUES ($1, $2, $3)`,
			rec.HomunID, skillID, int16(level),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *CompanionRepo) DeleteHomunculus(ctx context.Context, homunID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM homunculus WHERE homun_id = $1`, homunID)
	return err
}

func (r *CompanionRepo) RenameHomunculus(ctx context.Context, homunID int64, name string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE homunculus SET name = $2 WHERE homun_id = $1`, homunID, name)
	return err
}

func (r *CompanionRepo) CreateMercenary(ctx context.Context, rec intif.MercenaryRecord) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO mercenary (char_id, species_id, hp, sp, kill_count, contract_ms)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING merc_id`,
		rec.OwnerChar, rec.SpeciesID, rec.HP, rec.SP, rec.KillCount, rec.ContractMS,
	).Scan(&id)
	return id, err
}

func (r *CompanionRepo) LoadMercenary(ctx context.Context, mercID int64) (intif.MercenaryRecord, error) {
	var rec intif.MercenaryRecord
	err := r.db.Pool.QueryRow(ctx,
		`SELECT merc_id, char_id, species_id, hp, sp, kill_count, contract_ms
		 FROM mercenary WHERE merc_id = $1`, mercID,
	).Scan(&rec.MercID, &rec.OwnerChar, &rec.SpeciesID, &rec.HP, &rec.SP, &rec.KillCount, &rec.ContractMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r *CompanionRepo) SaveMercenary(ctx context.Context, rec intif.MercenaryRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE mercenary SET hp=$2, sp=$3, kill_count=$4, contract_ms=$5 WHERE merc_id = $1`,
		rec.MercID, rec.HP, rec.SP, rec.KillCount, rec.ContractMS)
	return err
}

func (r *CompanionRepo) DeleteMercenary(ctx context.Context, mercID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM mercenary WHERE merc_id = $1`, mercID)
	return err
}

func (r *CompanionRepo) CreateElemental(ctx context.Context, rec intif.ElementalRecord) (int64, error) {
	var id int64
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO elemental (char_id, species_id, hp, sp, mode, life_ms)
		 VALUES ($1,$2,$3,$4,$5,$6) RETURNING elem_id`,
		rec.OwnerChar, rec.SpeciesID, rec.HP, rec.SP, rec.Mode, rec.LifeMS,
	).Scan(&id)
	return id, err
}

func (r *CompanionRepo) LoadElemental(ctx context.Context, elemID int64) (intif.ElementalRecord, error) {
	var rec intif.ElementalRecord
	err := r.db.Pool.QueryRow(ctx,
		`SELECT elem_id, char_id, species_id, hp, sp, mode, life_ms
		 FROM elemental WHERE elem_id = $1`, elemID,
	).Scan(&rec.ElemID, &rec.OwnerChar, &rec.SpeciesID, &rec.HP, &rec.SP, &rec.Mode, &rec.LifeMS)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

func (r *CompanionRepo) SaveElemental(ctx context.Context, rec intif.ElementalRecord) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE elemental SET hp=$2, sp=$3, mode=$4, life_ms=$5 WHERE elem_id = $1`,
		rec.ElemID, rec.HP, rec.SP, rec.Mode, rec.LifeMS)
	return err
}

func (r *CompanionRepo) DeleteElemental(ctx context.Context, elemID int64) error {
	_, err := r.db.Pool.Exec(ctx, `DELETE FROM elemental WHERE elem_id = $1`, elemID)
	return err
}
