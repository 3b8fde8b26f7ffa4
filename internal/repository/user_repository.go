package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/unboundops/be-cmd-gateway/internal/errors"
	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
)

// UserRepository handles user rows, including the credit balance column that
// backs the ledger. Methods take a Querier so callers control the
// transaction boundary.
type UserRepository struct{}

// NewUserRepository creates a new UserRepository.
func NewUserRepository() *UserRepository {
	return &UserRepository{}
}

const userColumns = `
	id, username, email, notification_email, role, user_tier,
	credit_balance, is_active, created_at, updated_at`

// Count returns the total number of users. Used for the first-user bootstrap
// rule, inside the creation transaction.
func (r *UserRepository) Count(ctx context.Context, q database.Querier) (int64, error) {
	var n int64
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count users")
	}
	return n, nil
}

// Create inserts a user with the given hashed API key.
func (r *UserRepository) Create(ctx context.Context, q database.Querier, u *User, apiKeyHash string) error {
	query := `
		INSERT INTO users (username, email, notification_email, api_key, role, user_tier)
		VALUES ($1, $2, $3, $4, $5::user_role, $6::user_tier)
		RETURNING id, credit_balance, is_active, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		u.Username,
		u.Email,
		u.NotificationEmail,
		apiKeyHash,
		u.Role,
		u.Tier,
	).Scan(&u.ID, &u.CreditBalance, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)

	if errors.IsUniqueViolation(err) {
		return errors.New(errors.ErrCodeConflict, "username already exists")
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by primary key.
func (r *UserRepository) GetByID(ctx context.Context, q database.Querier, id string) (*User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE id = $1`
	u, err := r.scanUser(q.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", id)
	}
	return u, err
}

// GetByAPIKeyHash resolves the user owning a hashed API key. Returns
// NOT_FOUND for unknown keys; callers check IsActive themselves.
func (r *UserRepository) GetByAPIKeyHash(ctx context.Context, q database.Querier, hash string) (*User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE api_key = $1`
	u, err := r.scanUser(q.QueryRow(ctx, query, hash))
	if err == pgx.ErrNoRows {
		return nil, errors.New(errors.ErrCodeUnauthorized, "invalid API key")
	}
	return u, err
}

// GetByUsername retrieves a user by unique username.
func (r *UserRepository) GetByUsername(ctx context.Context, q database.Querier, username string) (*User, error) {
	query := `SELECT` + userColumns + ` FROM users WHERE username = $1`
	u, err := r.scanUser(q.QueryRow(ctx, query, username))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("user", username)
	}
	return u, err
}

// UpdateAPIKey replaces a user's hashed API key.
func (r *UserRepository) UpdateAPIKey(ctx context.Context, q database.Querier, userID, hash string) error {
	tag, err := q.Exec(ctx, `
		UPDATE users
		SET api_key = $2, updated_at = NOW()
		WHERE id = $1
	`, userID, hash)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update API key")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("user", userID)
	}
	return nil
}

// LockCreditBalance acquires the per-user row lock and returns the balance as
// of lock acquisition. Must run inside a transaction; the lock is held until
// that transaction ends, serializing concurrent submissions from one user.
func (r *UserRepository) LockCreditBalance(ctx context.Context, q database.Querier, userID string) (int, error) {
	var balance int
	err := q.QueryRow(ctx, `
		SELECT credit_balance FROM users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&balance)

	if err == pgx.ErrNoRows {
		return 0, errors.NotFound("user", userID)
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock credit balance")
	}
	return balance, nil
}

// DebitCredits subtracts amount from the user's balance. The WHERE guard
// keeps the balance non-negative even if a caller skipped the lock.
func (r *UserRepository) DebitCredits(ctx context.Context, q database.Querier, userID string, amount int) (int, error) {
	var balance int
	err := q.QueryRow(ctx, `
		UPDATE users
		SET credit_balance = credit_balance - $2,
		    updated_at     = NOW()
		WHERE id = $1 AND credit_balance >= $2
		RETURNING credit_balance
	`, userID, amount).Scan(&balance)

	if err == pgx.ErrNoRows {
		return 0, errors.New(errors.ErrCodeInsufficientCredits, "insufficient credits")
	}
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to debit credits")
	}
	return balance, nil
}

// AdminRecipients returns notification emails of all active admins.
func (r *UserRepository) AdminRecipients(ctx context.Context, q database.Querier) ([]string, error) {
	rows, err := q.Query(ctx, `
		SELECT notification_email
		FROM users
		WHERE role = 'admin'::user_role
		  AND is_active = TRUE
		  AND notification_email IS NOT NULL
		  AND notification_email <> ''
	`)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list admin recipients")
	}
	defer rows.Close()

	var recipients []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan admin recipient")
		}
		recipients = append(recipients, email)
	}
	return recipients, nil
}

// ── scan helper ──────────────────────────────────────────────────────────────

type userScanner interface {
	Scan(dest ...any) error
}

func (r *UserRepository) scanUser(row userScanner) (*User, error) {
	u := &User{}
	err := row.Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.NotificationEmail,
		&u.Role,
		&u.Tier,
		&u.CreditBalance,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}
