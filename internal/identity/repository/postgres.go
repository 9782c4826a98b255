package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"tutorhub/backend/internal/identity/domain"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

const (
	identityColumns    = `id, email, provider, password_hash, metadata, created_at`
	getIdentityByID    = `SELECT ` + identityColumns + ` FROM identities WHERE id = $1`
	getIdentityByEmail = `SELECT ` + identityColumns + ` FROM identities WHERE email = $1 AND provider = 'local'`
	createIdentity     = `INSERT INTO identities (` + identityColumns + `) VALUES ($1, $2, $3, $4, $5, $6)`
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the identity for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getIdentityByID, id))
}

// GetByEmail returns the local identity for email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	return r.scanOne(r.db.QueryRowContext(ctx, getIdentityByEmail, email))
}

// Create persists the identity to the database. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	md := i.Metadata
	if md == nil {
		md = map[string]any{}
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return err
	}
	ph := sql.NullString{String: i.PasswordHash, Valid: i.PasswordHash != ""}
	_, err = r.db.ExecContext(ctx, createIdentity, i.ID, i.Email, string(i.Provider), ph, raw, i.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

func (r *PostgresRepository) scanOne(row *sql.Row) (*domain.Identity, error) {
	var (
		i        domain.Identity
		provider string
		ph       sql.NullString
		raw      []byte
	)
	if err := row.Scan(&i.ID, &i.Email, &provider, &ph, &raw, &i.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	i.Provider = domain.IdentityProvider(provider)
	if ph.Valid {
		i.PasswordHash = ph.String
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &i.Metadata); err != nil {
			return nil, err
		}
	}
	return &i, nil
}
