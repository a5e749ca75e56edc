package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/target/streamauth/internal/data/database"
	"github.com/target/streamauth/internal/data/pgxutil"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	apperrors "github.com/target/streamauth/internal/errors"
	"github.com/target/streamauth/internal/ports"
)

var _ ports.PrincipalRepository = (*PrincipalRepo)(nil)

// PrincipalRepo provides database operations for principals.
type PrincipalRepo struct {
	DB *sql.DB
}

// NewPrincipalRepo creates a new PrincipalRepo.
func NewPrincipalRepo(db *sql.DB) *PrincipalRepo {
	return &PrincipalRepo{DB: db}
}

// principalRow mirrors the principals table. Enum columns are selected as text.
type principalRow struct {
	ID           int64      `db:"id"`
	Username     string     `db:"username"`
	Email        string     `db:"email"`
	PasswordHash string     `db:"password_hash"`
	Role         string     `db:"role"`
	Status       string     `db:"status"`
	DisplayName  string     `db:"display_name"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
	LastLoginAt  *time.Time `db:"last_login_at"`
}

func (r principalRow) toDomain() *domainauth.Principal {
	return &domainauth.Principal{
		ID:           r.ID,
		Username:     r.Username,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         domainauth.Role(r.Role),
		Status:       domainauth.Status(r.Status),
		DisplayName:  r.DisplayName,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		LastLoginAt:  r.LastLoginAt,
	}
}

const principalReturning = `id, username, email, password_hash, role::text AS role, status::text AS status,
	display_name, created_at, updated_at, last_login_at`

// principalColumns is principalReturning in query-builder form.
func principalColumns() []string {
	return []string{
		"id", "username", "email", "password_hash", "role::text AS role", "status::text AS status",
		"display_name", "created_at", "updated_at", "last_login_at",
	}
}

// Create inserts a principal. Duplicate username or email surfaces as a Conflict naming the field.
func (r *PrincipalRepo) Create(ctx context.Context, in domainauth.NewPrincipal) (*domainauth.Principal, error) {
	var out principalRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, `
			INSERT INTO principals (username, email, password_hash, role, status, display_name)
			VALUES ($1, $2, $3, $4::principal_role, $5::principal_status, $6)
			RETURNING `+principalReturning,
			in.Username, in.Email, in.PasswordHash, string(in.Role), string(in.Status), in.DisplayName,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[principalRow])
		return err
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out.toDomain(), nil
}

// GetByID returns the principal with id.
func (r *PrincipalRepo) GetByID(ctx context.Context, id int64) (*domainauth.Principal, error) {
	p, err := r.getOne(ctx, `SELECT `+principalReturning+` FROM principals WHERE id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("principal %d not found", id)
	}
	return p, err
}

// GetByIdentifier matches identifier against username or email, preferring a username match.
func (r *PrincipalRepo) GetByIdentifier(ctx context.Context, identifier string) (*domainauth.Principal, error) {
	p, err := r.getOne(ctx, `
		SELECT `+principalReturning+`
		FROM principals
		WHERE username = $1 OR email = $1
		ORDER BY (username = $1) DESC
		LIMIT 1`, identifier)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("principal not found")
	}
	return p, err
}

// Taken reports which of username and email already belong to a principal.
func (r *PrincipalRepo) Taken(ctx context.Context, username, email string) (bool, bool, error) {
	var usernameTaken, emailTaken bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM principals WHERE username = $1),
			       EXISTS(SELECT 1 FROM principals WHERE email = $2)`,
			username, email,
		).Scan(&usernameTaken, &emailTaken)
	})
	if err != nil {
		return false, false, apperrors.MapDBError(err)
	}
	return usernameTaken, emailTaken, nil
}

// List returns principals ordered by id.
func (r *PrincipalRepo) List(ctx context.Context, opts ports.ListPrincipalsOptions) ([]*domainauth.Principal, error) {
	queryOpts := []database.ListQueryOption{
		database.WithColumns(principalColumns()...),
		database.WithOrderBy("id", "ASC"),
		database.WithOffset(opts.Offset),
	}
	if opts.Limit > 0 {
		queryOpts = append(queryOpts, database.WithLimit(opts.Limit))
	}
	if len(opts.Roles) > 0 {
		roles := make([]string, len(opts.Roles))
		for i, role := range opts.Roles {
			roles[i] = string(role)
		}
		queryOpts = append(queryOpts, database.WithCondition(database.WhereCond("role", database.Any, roles)))
	}
	if opts.Status != "" {
		queryOpts = append(queryOpts, database.WithCondition(
			database.WhereCond("status", database.Equal, string(opts.Status)),
		))
	}
	query, args := database.BuildListQuery(database.NewListQueryOptions("principals", queryOpts...))

	var rowsOut []principalRow
	if err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		rowsOut, err = pgx.CollectRows(rows, pgx.RowToStructByName[principalRow])
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", apperrors.MapDBError(err))
	}

	res := make([]*domainauth.Principal, len(rowsOut))
	for i := range rowsOut {
		res[i] = rowsOut[i].toDomain()
	}
	return res, nil
}

// UpdateRole replaces the principal's role.
func (r *PrincipalRepo) UpdateRole(ctx context.Context, id int64, role domainauth.Role) (*domainauth.Principal, error) {
	p, err := r.getOne(ctx, `
		UPDATE principals SET role = $2::principal_role, updated_at = now()
		WHERE id = $1
		RETURNING `+principalReturning, id, string(role))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("principal %d not found", id)
	}
	return p, err
}

// UpdateStatus changes the status. Disabling deletes the principal's sessions in the same transaction.
func (r *PrincipalRepo) UpdateStatus(
	ctx context.Context,
	id int64,
	status domainauth.Status,
) (*domainauth.Principal, error) {
	var out principalRow
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			UPDATE principals SET status = $2::principal_status, updated_at = now()
			WHERE id = $1
			RETURNING `+principalReturning, id, string(status))
		if err != nil {
			return err
		}
		out, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[principalRow])
		if err != nil {
			return err
		}
		if status != domainauth.StatusDisabled {
			return nil
		}
		_, err = tx.Exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, id)
		return err
	}})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFoundf("principal %d not found", id)
	}
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return out.toDomain(), nil
}

// TouchLastLogin records a successful login time.
func (r *PrincipalRepo) TouchLastLogin(ctx context.Context, id int64, at time.Time) error {
	return pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, `UPDATE principals SET last_login_at = $2 WHERE id = $1`, id, at)
		return apperrors.MapDBError(err)
	})
}

// Delete removes the principal and its sessions in one transaction.
func (r *PrincipalRepo) Delete(ctx context.Context, id int64) error {
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		// Explicit even though the FK cascades.
		if _, err := tx.Exec(ctx, `DELETE FROM sessions WHERE principal_id = $1`, id); err != nil {
			return err
		}
		ct, err := tx.Exec(ctx, `DELETE FROM principals WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			return apperrors.NotFoundf("principal %d not found", id)
		}
		return nil
	}})
	if err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// getOne runs a query expected to produce one principal row. pgx.ErrNoRows is returned as-is
// so callers can attach a specific message; other errors are mapped.
func (r *PrincipalRepo) getOne(ctx context.Context, q string, args ...any) (*domainauth.Principal, error) {
	var row principalRow
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, q, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		row, err = pgx.CollectOneRow(rows, pgx.RowToStructByName[principalRow])
		return err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, apperrors.MapDBError(err)
	}
	return row.toDomain(), nil
}
