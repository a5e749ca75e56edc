package data

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/streamauth/internal/data/pgxutil"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/ports"
)

var _ ports.SessionRepository = (*SessionRepo)(nil)

// ErrEmptyTokenHash is returned when a session is created without a token hash.
var ErrEmptyTokenHash = errors.New("session token hash cannot be empty")

// SessionRepo provides database operations for sessions.
type SessionRepo struct {
	DB *sql.DB
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{DB: db}
}

// SQL for the hot paths. lookupPrincipalQuery is the whole of session verification:
// a session whose principal row is gone or disabled cannot join and so never verifies.
const (
	lookupPrincipalQuery = `
		SELECT p.id, p.username, p.email, p.password_hash, p.role::text AS role, p.status::text AS status,
		       p.display_name, p.created_at, p.updated_at, p.last_login_at
		FROM sessions s
		JOIN principals p ON p.id = s.principal_id
		WHERE s.token_hash = $1 AND s.expires_at > $2 AND p.status = 'active'`

	insertSessionQuery = `
		INSERT INTO sessions (token_hash, principal_id, created_at, expires_at, user_agent, ip_address)
		VALUES ($1, $2, $3, $4, $5, $6)`

	deleteExpiredQuery = `
		DELETE FROM sessions
		WHERE expires_at <= $1 AND ($2::bigint = 0 OR principal_id = $2)`
)

// Create inserts a session row.
func (r *SessionRepo) Create(ctx context.Context, sess domainauth.Session) error {
	if sess.TokenHash == "" {
		return ErrEmptyTokenHash
	}
	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, insertSessionQuery,
			sess.TokenHash, sess.PrincipalID, sess.CreatedAt, sess.ExpiresAt, sess.UserAgent, sess.IPAddress)
		return apperrors.MapDBError(err)
	})
}

// LookupPrincipal resolves a token hash to its principal when the session is unexpired at now.
func (r *SessionRepo) LookupPrincipal(
	ctx context.Context,
	tokenHash string,
	now time.Time,
) (*domainauth.Principal, error) {
	var row principalRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, lookupPrincipalQuery, tokenHash, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[principalRow])
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("session not found")
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return row.toDomain(), nil
}

// Delete removes the session. A missing row is not an error.
func (r *SessionRepo) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.exec(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}

// DeleteByPrincipal removes every session of the principal.
func (r *SessionRepo) DeleteByPrincipal(ctx context.Context, principalID int64) (int64, error) {
	return r.exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, principalID)
}

// DeleteExpired removes sessions with expires_at <= opts.Now, optionally for one principal only.
func (r *SessionRepo) DeleteExpired(ctx context.Context, opts ports.DeleteExpiredOptions) (int64, error) {
	return r.exec(ctx, deleteExpiredQuery, opts.Now, opts.PrincipalID)
}

func (r *SessionRepo) exec(ctx context.Context, q string, args ...any) (int64, error) {
	var n int64
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		ct, err := conn.Exec(ctx, q, args...)
		if err != nil {
			return err
		}
		n = ct.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}
	return n, nil
}
