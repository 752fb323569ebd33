package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// ErrEmailTaken is returned when registering an email that already exists
var ErrEmailTaken = errors.New("email already registered")

const uniqueViolation = "23505"

const userColumns = `id, name, email, password_digest, role, verified, skills, resume_url,
			  company_name, company_website, company_description, last_logged_on, created_at, updated_at`

// Repository handles user data operations
type Repository struct {
	db *sqlx.DB
}

// NewRepository creates a new user repository
func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// FindByEmail finds a user by email address
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	var user User
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE email = $1`

	err := r.db.GetContext(ctx, &user, query, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // User not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}

	return &user, nil
}

// FindByID finds a user by ID
func (r *Repository) FindByID(ctx context.Context, id string) (*User, error) {
	var user User
	query := `SELECT ` + userColumns + `
			  FROM users
			  WHERE id = $1`

	err := r.db.GetContext(ctx, &user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // User not found
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	return &user, nil
}

// Create inserts a new user, assigning its ID and timestamps
func (r *Repository) Create(ctx context.Context, user *User) error {
	now := time.Now()
	user.ID = uuid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now

	query := `INSERT INTO users (id, name, email, password_digest, role, verified, created_at, updated_at)
			  VALUES (:id, :name, :email, :password_digest, :role, :verified, :created_at, :updated_at)`

	_, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

// UpdateLastLoggedOn updates the last_logged_on timestamp
func (r *Repository) UpdateLastLoggedOn(ctx context.Context, userID string) error {
	query := `UPDATE users SET last_logged_on = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("failed to update last logged on: %w", err)
	}
	return nil
}

// RecordLoginAttempt records a login attempt for auditing
func (r *Repository) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	query := `INSERT INTO login_attempts (email, ip_address, success, attempted_at)
			  VALUES ($1, $2, $3, $4)`

	_, err := r.db.ExecContext(ctx, query, email, ipAddress, success, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}
