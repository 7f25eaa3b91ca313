package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"sessiond/core"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema/sqlite/schema.sql
var sqliteSchema string

const sqlitePragmas = "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	dsn := dbPath
	if strings.Contains(dsn, "?") {
		dsn += "&" + sqlitePragmas
	} else {
		dsn += "?" + sqlitePragmas
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers, which keeps rotation atomic
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	repo := &SQLiteRepository{db: db}

	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

func (r *SQLiteRepository) initSchema() error {
	_, err := r.db.Exec(sqliteSchema)
	return err
}

func (r *SQLiteRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	query := `
		SELECT id, email, username, password_hash, created_at, updated_at
		FROM users
		WHERE id = ?
	`
	return r.findUser(ctx, query, id.String())
}

func (r *SQLiteRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	query := `
		SELECT id, email, username, password_hash, created_at, updated_at
		FROM users
		WHERE email = ?
	`
	return r.findUser(ctx, query, email)
}

func (r *SQLiteRepository) FindByFederatedID(ctx context.Context, provider core.Provider, providerUserID string) (*core.User, error) {
	query := `
		SELECT u.id, u.email, u.username, u.password_hash, u.created_at, u.updated_at
		FROM users u
		JOIN user_identities i ON i.user_id = u.id
		WHERE i.provider = ? AND i.provider_user_id = ?
	`
	return r.findUser(ctx, query, string(provider), providerUserID)
}

func (r *SQLiteRepository) findUser(ctx context.Context, query string, args ...any) (*core.User, error) {
	var user core.User
	var idStr string
	var username, passwordHash sql.NullString
	var createdAt, updatedAt int64

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&idStr,
		&user.Email,
		&username,
		&passwordHash,
		&createdAt,
		&updatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	user.ID, err = uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid user id %q: %w", idStr, err)
	}
	if username.Valid {
		user.Username = &username.String
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	if err := r.loadIdentities(ctx, &user); err != nil {
		return nil, err
	}
	if err := r.loadRefreshTokens(ctx, &user); err != nil {
		return nil, err
	}

	return &user, nil
}

func (r *SQLiteRepository) loadIdentities(ctx context.Context, user *core.User) error {
	query := `
		SELECT provider, provider_user_id
		FROM user_identities
		WHERE user_id = ?
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	user.FederatedIdentities = map[core.Provider]string{}
	for rows.Next() {
		var provider, providerUserID string
		if err := rows.Scan(&provider, &providerUserID); err != nil {
			return err
		}
		user.FederatedIdentities[core.Provider(provider)] = providerUserID
	}

	return rows.Err()
}

func (r *SQLiteRepository) loadRefreshTokens(ctx context.Context, user *core.User) error {
	query := `
		SELECT token_hash, created_at, expires_at
		FROM refresh_tokens
		WHERE user_id = ?
	`

	rows, err := r.db.QueryContext(ctx, query, user.ID.String())
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		token := core.RefreshToken{UserID: user.ID}
		var createdAt, expiresAt int64
		if err := rows.Scan(&token.TokenHash, &createdAt, &expiresAt); err != nil {
			return err
		}
		token.CreatedAt = time.Unix(createdAt, 0)
		token.ExpiresAt = time.Unix(expiresAt, 0)
		user.RefreshTokens = append(user.RefreshTokens, token)
	}

	return rows.Err()
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, user *core.User) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	userQuery := `
		INSERT INTO users (id, email, username, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, userQuery,
		user.ID.String(),
		user.Email,
		nullString(user.Username),
		nullString(user.PasswordHash),
		user.CreatedAt.Unix(),
		user.UpdatedAt.Unix(),
	)
	if err != nil {
		return mapSQLiteConstraint(err)
	}

	identityQuery := `
		INSERT INTO user_identities (user_id, provider, provider_user_id, created_at)
		VALUES (?, ?, ?, ?)
	`
	for provider, providerUserID := range user.FederatedIdentities {
		_, err = tx.ExecContext(ctx, identityQuery,
			user.ID.String(),
			string(provider),
			providerUserID,
			user.CreatedAt.Unix(),
		)
		if err != nil {
			return mapSQLiteConstraint(err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) LinkFederatedIdentity(ctx context.Context, userID uuid.UUID, provider core.Provider, providerUserID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().Unix()

	result, err := tx.ExecContext(ctx, `UPDATE users SET updated_at = ? WHERE id = ?`, now, userID.String())
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}

	query := `
		INSERT INTO user_identities (user_id, provider, provider_user_id, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, provider) DO UPDATE SET provider_user_id = excluded.provider_user_id
	`
	_, err = tx.ExecContext(ctx, query, userID.String(), string(provider), providerUserID, now)
	if err != nil {
		return mapSQLiteConstraint(err)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error {
	query := `UPDATE users SET username = ?, updated_at = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, username, time.Now().Unix(), userID.String())
	if err != nil {
		return mapSQLiteConstraint(err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (r *SQLiteRepository) AddRefreshToken(ctx context.Context, token *core.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, query,
		token.TokenHash,
		token.UserID.String(),
		token.CreatedAt.Unix(),
		token.ExpiresAt.Unix(),
	)

	return mapSQLiteConstraint(err)
}

func (r *SQLiteRepository) RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldHash string, next *core.RefreshToken) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE token_hash = ? AND user_id = ?`,
		oldHash, userID.String(),
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return core.ErrNotFound
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO refresh_tokens (token_hash, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`,
		next.TokenHash,
		next.UserID.String(),
		next.CreatedAt.Unix(),
		next.ExpiresAt.Unix(),
	)
	if err != nil {
		return mapSQLiteConstraint(err)
	}

	return tx.Commit()
}

func (r *SQLiteRepository) HasRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	query := `SELECT 1 FROM refresh_tokens WHERE token_hash = ? AND user_id = ?`

	var one int
	err := r.db.QueryRowContext(ctx, query, tokenHash, userID.String()).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return false, err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

func (r *SQLiteRepository) DeleteAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE user_id = ?`, userID.String())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SQLiteRepository) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < ?`
	result, err := r.db.ExecContext(ctx, query, time.Now().Unix())
	if err != nil {
		return 0, err
	}

	count, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return count, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// mapSQLiteConstraint translates constraint failures into store errors.
// SQLite names the violated columns in the message.
func mapSQLiteConstraint(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "users.email"):
		return fmt.Errorf("%w: %v", core.ErrDuplicateEmail, err)
	case strings.Contains(msg, "users.username"):
		return fmt.Errorf("%w: %v", core.ErrUsernameTaken, err)
	case strings.Contains(msg, "user_identities.provider_user_id"):
		return fmt.Errorf("%w: %v", core.ErrIdentityLinked, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %v", core.ErrNotFound, err)
	}
	return err
}

var _ core.Repository = (*SQLiteRepository)(nil)
