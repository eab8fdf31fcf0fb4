package persist

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/midgard/mapserver/internal/intif"
)

// GuildRepo persists guild state. Saves replace the whole guild graph
// in one transaction; an empty record (id only) deletes the guild.
type GuildRepo struct {
	db *DB
}

func NewGuildRepo(db *DB) *GuildRepo {
	return &GuildRepo{db: db}
}

func (r *GuildRepo) Create(ctx context.Context, rec intif.GuildRecord) (int32, error) {
	var id int32
	err := r.db.Pool.QueryRow(ctx,
		`INSERT INTO guilds (name, master_char, level, exp, max_members, notice, notice_body)
		 VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING guild_id`,
		rec.Name, rec.MasterChar, rec.Level, rec.Exp, rec.MaxMembers, rec.Notice, rec.NoticeBody,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rec.GuildID = id
	if err := r.Save(ctx, rec); err != nil {
		return 0, err
	}
	return id, nil
}

// Save writes the full guild graph. A record carrying only the id wipes
// the guild (disband).
func (r *GuildRepo) Save(ctx context.Context, rec intif.GuildRecord) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"guild_positions", "guild_members", "guild_alliances", "guild_expulsions", "guild_skills"} {
		if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE guild_id = $1`, rec.GuildID); err != nil {
			return err
		}
	}
	if rec.Name == "" {
		if _, err := tx.Exec(ctx, `DELETE FROM guilds WHERE guild_id = $1`, rec.GuildID); err != nil {
			return err
		}
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE guilds SET name=$2, master_char=$3, level=$4, exp=$5,
		        max_members=$6, notice=$7, notice_body=$8
		 WHERE guild_id = $1`,
		rec.GuildID, rec.Name, rec.MasterChar, rec.Level, rec.Exp,
		rec.MaxMembers, rec.Notice, rec.NoticeBody,
	); err != nil {
		return err
	}
	for _, p := range rec.Positions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO guild_positions (guild_id, idx, name, mode, tax_rate)
			 VALUES ($1,$2,$3,$4,$5)`,
			rec.GuildID, p.Index, p.Name, p.Mode, p.TaxRate,
		); err != nil {
			return err
		}
	}
	for _, m := range rec.Members {
		if _, err := tx.Exec(ctx,
			`INSERT INTO guild_members (guild_id, char_id, name, level, position)
			 VALUES ($1,$2,$3,$4,$5)`,
			rec.GuildID, m.CharID, m.Name, m.Level, m.Position,
		); err != nil {
			return err
		}
	}
	for _, a := range rec.Alliances {
		if _, err := tx.Exec(ctx,
			`INSERT INTO guild_alliances (guild_id, other_id, name, opposition)
			 VALUES ($1,$2,$3,$4)`,
			rec.GuildID, a.GuildID, a.Name, a.Opposition,
		); err != nil {
			return err
		}
	}
	for _, ex := range rec.Expulsions {
		if _, err := tx.Exec(ctx,
			`INSERT INTO guild_expulsions (guild_id, name, reason) VALUES ($1,$2,$3)`,
			rec.GuildID, ex.Name, ex.Reason,
		); err != nil {
			return err
		}
	}
	for skillID, level := range rec.SkillLevels {
		if _, err := tx.Exec(ctx,
			`INSERT INTO guild_skills (guild_id, skill_id, level) VALUES ($1,$2,$3)`,
			rec.GuildID, skillID, int16(level),
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// UpdateMember inserts or removes one member row. Position -1 removes.
func (r *GuildRepo) UpdateMember(ctx context.Context, m intif.GuildMemberRecord) error {
	if m.Position < 0 {
		_, err := r.db.Pool.Exec(ctx,
			`DELETE FROM guild_members WHERE guild_id = $1 AND char_id = $2`,
			m.GuildID, m.CharID)
		return err
	}
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO guild_members (guild_id, char_id, name, level, position)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (guild_id, char_id) DO UPDATE SET level = $4, position = $5`,
		m.GuildID, m.CharID, m.Name, m.Level, m.Position)
	return err
}

// GuildOfChar resolves which guild a character belongs to, 0 for none.
func (r *GuildRepo) GuildOfChar(ctx context.Context, charID int32) (int32, error) {
	var id int32
	err := r.db.Pool.QueryRow(ctx,
		`SELECT guild_id FROM guild_members WHERE char_id = $1`, charID,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

// LoadAll returns every guild with its full graph, for boot restore.
func (r *GuildRepo) LoadAll(ctx context.Context) ([]intif.GuildRecord, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT guild_id, name, master_char, level, exp, max_members, notice, notice_body
		 FROM guilds ORDER BY guild_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []intif.GuildRecord
	for rows.Next() {
		var rec intif.GuildRecord
		if err := rows.Scan(
			&rec.GuildID, &rec.Name, &rec.MasterChar, &rec.Level, &rec.Exp,
			&rec.MaxMembers, &rec.Notice, &rec.NoticeBody,
		); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recs {
		if err := r.loadGraph(ctx, &recs[i]); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

func (r *GuildRepo) loadGraph(ctx context.Context, rec *intif.GuildRecord) error {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT idx, name, mode, tax_rate FROM guild_positions WHERE guild_id = $1 ORDER BY idx`,
		rec.GuildID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var p intif.GuildPositionRecord
		if err := rows.Scan(&p.Index, &p.Name, &p.Mode, &p.TaxRate); err != nil {
			rows.Close()
			return err
		}
		rec.Positions = append(rec.Positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Pool.Query(ctx,
		`SELECT char_id, name, level, position FROM guild_members WHERE guild_id = $1`,
		rec.GuildID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var m intif.GuildMemberRecord
		if err := rows.Scan(&m.CharID, &m.Name, &m.Level, &m.Position); err != nil {
			rows.Close()
			return err
		}
		rec.Members = append(rec.Members, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Pool.Query(ctx,
		`SELECT other_id, name, opposition FROM guild_alliances WHERE guild_id = $1`,
		rec.GuildID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var a intif.GuildAllianceRecord
		if err := rows.Scan(&a.GuildID, &a.Name, &a.Opposition); err != nil {
			rows.Close()
			return err
		}
		rec.Alliances = append(rec.Alliances, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = r.db.Pool.Query(ctx,
		`SELECT name, reason FROM guild_expulsions WHERE guild_id = $1 ORDER BY id`,
		rec.GuildID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var ex intif.GuildExpulsionRecord
		if err := rows.Scan(&ex.Name, &ex.Reason); err != nil {
			rows.Close()
			return err
		}
		rec.Expulsions = append(rec.Expulsions, ex)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rec.SkillLevels = make(map[int32]int8)
	rows, err = r.db.Pool.Query(ctx,
		`SELECT skill_id, level FROM guild_skills WHERE guild_id = $1`, rec.GuildID)
	if err != nil {
		return err
	}
	for rows.Next() {
		var skillID int32
		var level int16
		if err := rows.Scan(&skillID, &level); err != nil {
			rows.Close()
			return err
		}
		rec.SkillLevels[skillID] = int8(level)
	}
	rows.Close()
	return rows.Err()
}
