package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"saferide-backend/internal/model"
)

const accountColumns = `id::text, email, password_hash, first_name, last_name, COALESCE(phone, ''),
		        is_active, is_verified, last_login, created_at, updated_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// FindByID treats an id that is not a UUID as unknown.
func (r *UserRepository) FindByID(ctx context.Context, id string) (model.Account, error) {
	userID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return model.Account{}, model.ErrUserNotFound
	}

	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE id = $1::uuid`, userID.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("find user by id: %w", err)
	}
	return account, nil
}

// FindByIdentifier looks an account up by email, ignoring case.
func (r *UserRepository) FindByIdentifier(ctx context.Context, identifier string) (model.Account, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(identifier))

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Account{}, model.ErrUserNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("find user by identifier: %w", err)
	}
	return account, nil
}

func (r *UserRepository) RecordLastLogin(ctx context.Context, id string, at time.Time) error {
	userID, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return model.ErrUserNotFound
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET last_login = $2, updated_at = $2 WHERE id = $1::uuid`, userID.String(), at)
	if err != nil {
		return fmt.Errorf("record last login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// Create inserts an account and returns its generated id.
func (r *UserRepository) Create(ctx context.Context, a model.Account) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (email, password_hash, first_name, last_name, phone, is_active, is_verified)
		 VALUES (lower($1), $2, $3, $4, NULLIF($5, ''), $6, $7)
		 RETURNING id::text`,
		strings.TrimSpace(a.Email), a.PasswordHash, a.FirstName, a.LastName, a.Phone, a.IsActive, a.IsVerified).
		Scan(&id)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return "", model.ErrUserAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func scanAccount(row pgx.Row) (model.Account, error) {
	var a model.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName, &a.Phone,
		&a.IsActive, &a.IsVerified, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
