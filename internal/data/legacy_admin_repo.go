package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/target/streamauth/internal/data/pgxutil"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	"github.com/target/streamauth/internal/ports"
)

var _ ports.LegacyAdminImporter = (*LegacyAdminRepo)(nil)

// legacyEmailDomain backs legacy admins that never had an email address.
const legacyEmailDomain = "legacy.invalid"

const (
	outcomeImported = "imported"
	outcomePromoted = "promoted"
	outcomeSkipped  = "skipped"
)

// LegacyAdminRepo merges the legacy admins table into principals.
type LegacyAdminRepo struct {
	DB     *sql.DB
	Logger *slog.Logger
}

// NewLegacyAdminRepo creates a new LegacyAdminRepo.
func NewLegacyAdminRepo(db *sql.DB, logger *slog.Logger) *LegacyAdminRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &LegacyAdminRepo{DB: db, Logger: logger.With("component", "legacy_admin_import")}
}

type legacyAdminRow struct {
	ID           int64  `db:"id"`
	Username     string `db:"username"`
	PasswordHash string `db:"password_hash"`
	Role         string `db:"role"`
	Email        string `db:"email"`
	IsActive     bool   `db:"is_active"`
}

const legacyAdminsQuery = `
	SELECT a.id::bigint AS id, a.username, a.password_hash, a.role::text AS role,
	       COALESCE(a.email, '') AS email, COALESCE(a.is_active, true) AS is_active
	FROM admins a
	WHERE NOT EXISTS (SELECT 1 FROM legacy_admin_imports l WHERE l.admin_id = a.id::bigint)
	ORDER BY a.id`

// ImportLegacyAdmins copies every not-yet-imported legacy admin into principals in one transaction.
// An existing principal with the same username or email is promoted to the legacy role only
// while it still holds RoleUser. A missing admins table yields an empty result.
func (r *LegacyAdminRepo) ImportLegacyAdmins(ctx context.Context) (ports.LegacyImportResult, error) {
	var res ports.LegacyImportResult
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{Fn: func(tx pgx.Tx) error {
		var present bool
		if err := tx.QueryRow(ctx, `SELECT to_regclass('admins') IS NOT NULL`).Scan(&present); err != nil {
			return fmt.Errorf("check admins table: %w", err)
		}
		if !present {
			return nil
		}

		rows, err := tx.Query(ctx, legacyAdminsQuery)
		if err != nil {
			return fmt.Errorf("read legacy admins: %w", err)
		}
		admins, err := pgx.CollectRows(rows, pgx.RowToStructByName[legacyAdminRow])
		if err != nil {
			return fmt.Errorf("scan legacy admins: %w", err)
		}

		for _, a := range admins {
			principalID, outcome, err := r.importOne(ctx, tx, a)
			if err != nil {
				return fmt.Errorf("import legacy admin %d: %w", a.ID, err)
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO legacy_admin_imports (admin_id, principal_id, outcome)
				VALUES ($1, $2, $3)
				ON CONFLICT (admin_id) DO NOTHING`, a.ID, principalID, outcome); err != nil {
				return fmt.Errorf("record legacy admin %d: %w", a.ID, err)
			}
			switch outcome {
			case outcomeImported:
				res.Imported++
			case outcomePromoted:
				res.Promoted++
			default:
				res.Skipped++
			}
		}
		return nil
	}})
	if err != nil {
		return ports.LegacyImportResult{}, err
	}
	return res, nil
}

// importOne returns the principal the admin maps to (nil when skipped without a match) and the outcome.
func (r *LegacyAdminRepo) importOne(ctx context.Context, tx pgx.Tx, a legacyAdminRow) (*int64, string, error) {
	role, err := domainauth.ParseRole(a.Role)
	if err != nil || role == domainauth.RoleUser {
		r.Logger.WarnContext(ctx, "skipping legacy admin with unusable role", "admin_id", a.ID, "role", a.Role)
		return nil, outcomeSkipped, nil
	}

	username := domainauth.NormalizeIdentifier(a.Username)
	email := domainauth.NormalizeIdentifier(a.Email)
	if email == "" {
		email = username + "@" + legacyEmailDomain
	}
	status := domainauth.StatusActive
	if !a.IsActive {
		status = domainauth.StatusDisabled
	}

	var (
		existingID   int64
		existingRole string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, role::text FROM principals
		WHERE username = $1 OR email = $2
		ORDER BY (username = $1) DESC
		LIMIT 1`, username, email).Scan(&existingID, &existingRole)
	switch {
	case err == nil:
		if domainauth.Role(existingRole) != domainauth.RoleUser {
			return &existingID, outcomeSkipped, nil
		}
		if _, err := tx.Exec(ctx,
			`UPDATE principals SET role = $2::principal_role, updated_at = now() WHERE id = $1`,
			existingID, string(role)); err != nil {
			return nil, "", err
		}
		r.Logger.InfoContext(ctx, "promoted principal from legacy admin",
			"admin_id", a.ID, "principal_id", existingID, "role", role)
		return &existingID, outcomePromoted, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, "", err
	}

	var newID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO principals (username, email, password_hash, role, status)
		VALUES ($1, $2, $3, $4::principal_role, $5::principal_status)
		ON CONFLICT DO NOTHING
		RETURNING id`, username, email, a.PasswordHash, string(role), string(status)).Scan(&newID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, outcomeSkipped, nil
	}
	if err != nil {
		return nil, "", err
	}
	r.Logger.InfoContext(ctx, "imported legacy admin", "admin_id", a.ID, "principal_id", newID, "role", role)
	return &newID, outcomeImported, nil
}
