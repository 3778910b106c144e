package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrDuplicateSlug is reported when a document insert loses the race on
	// the per-space slug index. Callers retry with a new candidate slug.
	ErrDuplicateSlug = errors.New("duplicate slug")
	// ErrRevisionConflict is reported when a concurrent writer claimed the
	// next revision number first. Callers may retry the append once.
	ErrRevisionConflict = errors.New("revision conflict")
	// ErrSpaceNotEmpty rejects deleting a space that still holds documents.
	ErrSpaceNotEmpty = errors.New("space not empty")
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, is_external, deactivated_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsExternal, &user.DeactivatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, user.ID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.is_external
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.IsExternal)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeSessionToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_session_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke session token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsSessionTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_session_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

func (s *PostgresStore) ListSpaces(ctx context.Context) ([]Space, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description, visibility, plan, created_by, created_at, updated_at
		FROM spaces
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list spaces: %w", err)
	}
	defer rows.Close()

	items := make([]Space, 0)
	for rows.Next() {
		var item Space
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.Visibility, &item.Plan, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan space: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate spaces: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetSpace(ctx context.Context, spaceID string) (Space, error) {
	var item Space
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, visibility, plan, created_by, created_at, updated_at
		FROM spaces
		WHERE id=$1
	`, spaceID).Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.Visibility, &item.Plan, &item.CreatedBy, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Space{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertSpace(ctx context.Context, space Space) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO spaces (id, name, slug, description, visibility, plan, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, space.ID, space.Name, space.Slug, space.Description, space.Visibility, space.Plan, space.CreatedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateSlug
		}
		return fmt.Errorf("insert space: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateSpace(ctx context.Context, spaceID, name, description, visibility string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE spaces SET name=$2, description=$3, visibility=$4, updated_at=NOW()
		WHERE id=$1
	`, spaceID, name, description, visibility)
	if err != nil {
		return fmt.Errorf("update space: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSpace(ctx context.Context, spaceID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete space: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var docCount int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE space_id=$1`, spaceID).Scan(&docCount); err != nil {
		return fmt.Errorf("count space documents: %w", err)
	}
	if docCount > 0 {
		return fmt.Errorf("%w: %d documents remain", ErrSpaceNotEmpty, docCount)
	}

	// grants, access_tokens and extension_storage all reference spaces(id),
	// so they go first. The creator's owner grant always exists.
	if _, err := tx.ExecContext(ctx, `DELETE FROM grants WHERE space_id=$1`, spaceID); err != nil {
		return fmt.Errorf("delete space grants: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM access_tokens WHERE space_id=$1`, spaceID); err != nil {
		return fmt.Errorf("delete space access tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM extension_storage WHERE space_id=$1`, spaceID); err != nil {
		return fmt.Errorf("delete space extension storage: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM spaces WHERE id=$1`, spaceID); err != nil {
		return fmt.Errorf("delete space: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete space: %w", err)
	}
	return nil
}
