package storage

import (
	"context"
	"errors"
	"fmt"

	"sessiond/core"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of *pgxpool.Pool the repository uses. It is also
// implemented by pgxmock.PgxPoolIface.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

type PostgresRepository struct {
	pool PgxPool
}

// NewPostgresRepository connects a pool to dsn.
func NewPostgresRepository(ctx context.Context, dsn string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresRepository{pool: pool}, nil
}

// NewPostgresRepositoryWithPool wraps an existing pool.
func NewPostgresRepositoryWithPool(pool PgxPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

const (
	pgSelectUser = `
SELECT id, email, username, password_hash, created_at, updated_at
FROM users`

	pgSelectUserByID = pgSelectUser + `
WHERE id = $1`

	pgSelectUserByEmail = pgSelectUser + `
WHERE email = $1`

	pgSelectUserByFederatedID = `
SELECT u.id, u.email, u.username, u.password_hash, u.created_at, u.updated_at
FROM users u
JOIN user_identities i ON i.user_id = u.id
WHERE i.provider = $1 AND i.provider_user_id = $2`

	pgSelectIdentities = `
SELECT provider, provider_user_id
FROM user_identities
WHERE user_id = $1`

	pgSelectRefreshTokens = `
SELECT token_hash, created_at, expires_at
FROM refresh_tokens
WHERE user_id = $1`

	pgInsertUser = `
INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)`

	pgInsertIdentity = `
INSERT INTO user_identities (user_id, provider, provider_user_id)
VALUES ($1, $2, $3)`

	pgUpsertIdentity = `
INSERT INTO user_identities (user_id, provider, provider_user_id)
VALUES ($1, $2, $3)
ON CONFLICT (user_id, provider) DO UPDATE SET provider_user_id = EXCLUDED.provider_user_id`

	pgTouchUser = `
UPDATE users SET updated_at = now() WHERE id = $1`

	pgUpdateUsername = `
UPDATE users SET username = $2, updated_at = now() WHERE id = $1`

	pgInsertRefreshToken = `
INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at)
VALUES ($1, $2, $3, $4)`

	// The insert only sees a row when the delete removed one, so a token
	// that is already gone rotates into nothing.
	pgRotateRefreshToken = `
WITH consumed AS (
    DELETE FROM refresh_tokens WHERE token_hash = $1 AND user_id = $2
    RETURNING user_id
)
INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at)
SELECT $3, user_id, $4, $5 FROM consumed`

	pgHasRefreshToken = `
SELECT EXISTS (SELECT 1 FROM refresh_tokens WHERE token_hash = $1 AND user_id = $2)`

	pgDeleteRefreshToken = `
DELETE FROM refresh_tokens WHERE token_hash = $1`

	pgDeleteUserRefreshTokens = `
DELETE FROM refresh_tokens WHERE user_id = $1`

	pgDeleteExpiredRefreshTokens = `
DELETE FROM refresh_tokens WHERE expires_at < now()`
)

func (r *PostgresRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	return r.findUser(ctx, pgSelectUserByID, id)
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	return r.findUser(ctx, pgSelectUserByEmail, email)
}

func (r *PostgresRepository) FindByFederatedID(ctx context.Context, provider core.Provider, providerUserID string) (*core.User, error) {
	return r.findUser(ctx, pgSelectUserByFederatedID, string(provider), providerUserID)
}

func (r *PostgresRepository) findUser(ctx context.Context, query string, args ...any) (*core.User, error) {
	var u core.User
	row := r.pool.QueryRow(ctx, query, args...)
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.ErrNotFound
		}
		return nil, err
	}

	if err := r.loadIdentities(ctx, &u); err != nil {
		return nil, err
	}
	if err := r.loadRefreshTokens(ctx, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *PostgresRepository) loadIdentities(ctx context.Context, u *core.User) error {
	rows, err := r.pool.Query(ctx, pgSelectIdentities, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	u.FederatedIdentities = map[core.Provider]string{}
	for rows.Next() {
		var provider, providerUserID string
		if err := rows.Scan(&provider, &providerUserID); err != nil {
			return err
		}
		u.FederatedIdentities[core.Provider(provider)] = providerUserID
	}
	return rows.Err()
}

func (r *PostgresRepository) loadRefreshTokens(ctx context.Context, u *core.User) error {
	rows, err := r.pool.Query(ctx, pgSelectRefreshTokens, u.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		token := core.RefreshToken{UserID: u.ID}
		if err := rows.Scan(&token.TokenHash, &token.CreatedAt, &token.ExpiresAt); err != nil {
			return err
		}
		u.RefreshTokens = append(u.RefreshTokens, token)
	}
	return rows.Err()
}

func (r *PostgresRepository) CreateUser(ctx context.Context, u *core.User) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	if _, err = tx.Exec(ctx, pgInsertUser, u.ID, u.Email, u.Username, u.PasswordHash, u.CreatedAt, u.UpdatedAt); err != nil {
		return mapPgConstraint(err)
	}

	for provider, providerUserID := range u.FederatedIdentities {
		if _, err = tx.Exec(ctx, pgInsertIdentity, u.ID, string(provider), providerUserID); err != nil {
			return mapPgConstraint(err)
		}
	}

	return nil
}

func (r *PostgresRepository) LinkFederatedIdentity(ctx context.Context, userID uuid.UUID, provider core.Provider, providerUserID string) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = e
		}
	}()

	tag, err := tx.Exec(ctx, pgTouchUser, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}

	if _, err = tx.Exec(ctx, pgUpsertIdentity, userID, string(provider), providerUserID); err != nil {
		return mapPgConstraint(err)
	}

	return nil
}

func (r *PostgresRepository) UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error {
	tag, err := r.pool.Exec(ctx, pgUpdateUsername, userID, username)
	if err != nil {
		return mapPgConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) AddRefreshToken(ctx context.Context, token *core.RefreshToken) error {
	_, err := r.pool.Exec(ctx, pgInsertRefreshToken, token.TokenHash, token.UserID, token.CreatedAt, token.ExpiresAt)
	return mapPgConstraint(err)
}

func (r *PostgresRepository) RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldHash string, next *core.RefreshToken) error {
	tag, err := r.pool.Exec(ctx, pgRotateRefreshToken, oldHash, userID, next.TokenHash, next.CreatedAt, next.ExpiresAt)
	if err != nil {
		return mapPgConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) HasRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, pgHasRefreshToken, tokenHash, userID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (r *PostgresRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	tag, err := r.pool.Exec(ctx, pgDeleteRefreshToken, tokenHash)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PostgresRepository) DeleteAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx, pgDeleteUserRefreshTokens, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PostgresRepository) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, pgDeleteExpiredRefreshTokens)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapPgConstraint translates constraint violations into store errors by
// constraint name.
func mapPgConstraint(err error) error {
	var pg *pgconn.PgError
	if !errors.As(err, &pg) {
		return err
	}

	switch pg.Code {
	case pgUniqueViolation:
		switch pg.ConstraintName {
		case "users_email_key":
			return fmt.Errorf("%w: %v", core.ErrDuplicateEmail, err)
		case "users_username_key":
			return fmt.Errorf("%w: %v", core.ErrUsernameTaken, err)
		case "user_identities_subject_key":
			return fmt.Errorf("%w: %v", core.ErrIdentityLinked, err)
		}
	case pgForeignKeyViolation:
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	return err
}

var _ core.Repository = (*PostgresRepository)(nil)
