package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/premiumcollect/premiumcollect/internal/models"
)

const userColumns = `id, email, password_hash, COALESCE(first_name, ''), COALESCE(last_name, ''), role, is_active, created_at, updated_at`

func scanUser(row interface{ Scan(...interface{}) error }, u *models.User) error {
	return row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Role, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt)
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	if err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email), &u); err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

func (q *Queries) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	if err := scanUser(q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id), &u); err != nil {
		return nil, notFound(err, "user")
	}
	return &u, nil
}

// CreateUser inserts a staff account; a taken email is ErrConflict.
func (q *Queries) CreateUser(ctx context.Context, u *models.User) error {
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, first_name, last_name, role)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id, email, is_active, created_at, updated_at
	`, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Role).
		Scan(&u.ID, &u.Email, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("user %s: %w", u.Email, ErrConflict)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}
