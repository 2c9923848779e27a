package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haulpoints/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new account and returns it.
func (r *Repository) Create(ctx context.Context, email, passwordHash, name string, role models.Role) (*models.Account, error) {
	var acc models.Account
	row := r.pool.QueryRow(ctx, `
		INSERT INTO accounts (email, password_hash, name, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, email, passwordHash, name, string(role))
	if err := row.Scan(&acc.ID, &acc.CreatedAt, &acc.UpdatedAt); err != nil {
		return nil, err
	}
	acc.Email = email
	acc.Name = name
	acc.Role = role
	return &acc, nil
}

// GetByEmail returns the account and password hash for login. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.Account, string, error) {
	var a models.Account
	var passwordHash string
	var role string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, password_hash, created_at, updated_at
		FROM accounts WHERE email = $1
	`, email)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &role, &passwordHash, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", nil
		}
		return nil, "", err
	}
	a.Role = models.ParseRole(role)
	return &a, passwordHash, nil
}

// GetByID loads an account for the request principal.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	var a models.Account
	var role string
	row := r.pool.QueryRow(ctx, `
		SELECT id, email, name, role, created_at, updated_at
		FROM accounts WHERE id = $1
	`, id)
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &role, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	a.Role = models.ParseRole(role)
	return &a, nil
}

// RoleOf returns the stored role for an account. Satisfies the actor
// resolver's role lookup.
func (r *Repository) RoleOf(ctx context.Context, id uuid.UUID) (models.Role, error) {
	var role string
	err := r.pool.QueryRow(ctx, `SELECT role FROM accounts WHERE id = $1`, id).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RoleUnknown, errors.New("account not found")
		}
		return models.RoleUnknown, err
	}
	return models.ParseRole(role), nil
}
