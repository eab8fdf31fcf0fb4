package persist

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/midgard/mapserver/internal/intif"
)

// AccountRepo answers account lookups and holds the credential checks.
type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Info resolves the account fields the map server cares about.
func (r *AccountRepo) Info(ctx context.Context, accountID int32) (intif.AccountInfoRecord, error) {
	var rec intif.AccountInfoRecord
	err := r.db.Pool.QueryRow(ctx,
		`SELECT account_id, group_id, premium FROM accounts WHERE account_id = $1`,
		accountID,
	).Scan(&rec.AccountID, &rec.GroupID, &rec.Premium)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, ErrNotFound
	}
	return rec, err
}

// ValidatePassword checks a raw passphrase against a stored bcrypt hash.
func (r *AccountRepo) ValidatePassword(hash, rawPassword string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(rawPassword)) == nil
}

// Create registers a new account with a bcrypt-hashed password.
func (r *AccountRepo) Create(ctx context.Context, name, rawPassword string) (int32, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(rawPassword), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	var id int32
	err = r.db.Pool.QueryRow(ctx,
		`INSERT INTO accounts (name, password_hash, last_active)
		 VALUES ($1, $2, $3) RETURNING account_id`,
		name, string(hash), time.Now(),
	).Scan(&id)
	return id, err
}

// VerifyLinkSecret checks the inter-server link passphrase against the
// configured bcrypt hash. An empty hash means the link is open, which
// only standalone loopback setups should allow.
func VerifyLinkSecret(hash, passphrase string) error {
	if hash == "" {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(passphrase)); err != nil {
		return errors.New("intif link secret mismatch")
	}
	return nil
}
