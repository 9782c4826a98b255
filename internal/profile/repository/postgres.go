package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"tutorhub/backend/internal/profile/domain"
)

// uniqueViolation is the Postgres SQLSTATE for a unique constraint violation.
const uniqueViolation = "23505"

const (
	getProfileByEmail = `SELECT id, email, full_name, role, user_type, created_at, updated_at
FROM profiles WHERE email = $1`
	createProfile = `INSERT INTO profiles (id, email, full_name, role, user_type, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	deleteProfile  = `DELETE FROM profiles WHERE id = $1`
	setProfileRole = `UPDATE profiles SET role = $2, updated_at = $3 WHERE email = $1`
)

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a profile repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByEmail returns the profile with the given email, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	var (
		p        domain.Profile
		fullName sql.NullString
		userType sql.NullString
		role     string
	)
	err := r.db.QueryRowContext(ctx, getProfileByEmail, email).Scan(
		&p.ID, &p.Email, &fullName, &role, &userType, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	p.Role = domain.Role(role)
	if fullName.Valid {
		p.FullName = fullName.String
	}
	if userType.Valid {
		p.UserType = domain.UserType(userType.String)
	}
	return &p, nil
}

// Create persists the profile. The profile must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, p *domain.Profile) error {
	fullName := sql.NullString{String: p.FullName, Valid: p.FullName != ""}
	userType := sql.NullString{String: string(p.UserType), Valid: p.UserType != ""}
	_, err := r.db.ExecContext(ctx, createProfile,
		p.ID, p.Email, fullName, string(p.Role), userType, p.CreatedAt, p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicateEmail
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// SetRole updates the role of the profile with the given email.
func (r *PostgresRepository) SetRole(ctx context.Context, email string, role domain.Role) error {
	res, err := r.db.ExecContext(ctx, setProfileRole, email, string(role), time.Now().UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrProfileNotFound
	}
	return nil
}

// Delete removes the profile with id. A missing row is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, deleteProfile, id)
	return err
}
