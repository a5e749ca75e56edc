package data

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/streamauth/internal/domain/auth"
	"github.com/target/streamauth/internal/ports"
	"github.com/target/streamauth/internal/testutil"
)

func createLegacyAdmins(t *testing.T, db *sql.DB) {
	t.Helper()
	ctx := context.Background()
	_, err := db.ExecContext(ctx, `
		CREATE TABLE admins (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL,
			password_hash TEXT NOT NULL,
			role TEXT NOT NULL,
			email TEXT,
			is_active BOOLEAN DEFAULT true
		)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO admins (username, password_hash, role, email, is_active) VALUES
			('Root', '$2a$10$root', 'Admin', 'Root@Example.com', true),
			('uploader1', '$2a$10$up', 'Uploader', NULL, true),
			('gone', '$2a$10$gone', 'Moderator', 'gone@example.com', false),
			('alice', '$2a$10$alice', 'Manager', 'alice-staff@example.com', true),
			('weird', '$2a$10$weird', 'Janitor', NULL, true)`)
	require.NoError(t, err)
}

func TestLegacyAdminRepo_Integration_NoTable(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		res, err := NewLegacyAdminRepo(db, nil).ImportLegacyAdmins(context.Background())
		require.NoError(t, err)
		assert.Equal(t, ports.LegacyImportResult{}, res)
	})
}

func TestLegacyAdminRepo_Integration_ImportIsIdempotent(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithAutoDB(t, func(db *sql.DB) {
		ctx := context.Background()
		principals := NewPrincipalRepo(db)

		// An existing regular user sharing a legacy username is promoted, not duplicated.
		existing, err := principals.Create(ctx, testutil.NewPrincipal().
			WithUsername("alice").WithEmail("alice@example.com").Build())
		require.NoError(t, err)

		createLegacyAdmins(t, db)
		importer := NewLegacyAdminRepo(db, nil)

		res, err := importer.ImportLegacyAdmins(ctx)
		require.NoError(t, err)
		assert.Equal(t, ports.LegacyImportResult{Imported: 3, Promoted: 1, Skipped: 1}, res)

		root, err := principals.GetByIdentifier(ctx, "root")
		require.NoError(t, err)
		assert.Equal(t, domainauth.RoleAdmin, root.Role)
		assert.Equal(t, "root@example.com", root.Email)
		assert.Equal(t, "$2a$10$root", root.PasswordHash)

		up, err := principals.GetByIdentifier(ctx, "uploader1@legacy.invalid")
		require.NoError(t, err)
		assert.Equal(t, domainauth.RoleUploader, up.Role)

		gone, err := principals.GetByIdentifier(ctx, "gone")
		require.NoError(t, err)
		assert.Equal(t, domainauth.StatusDisabled, gone.Status)

		alice, err := principals.GetByID(ctx, existing.ID)
		require.NoError(t, err)
		assert.Equal(t, domainauth.RoleManager, alice.Role)

		again, err := importer.ImportLegacyAdmins(ctx)
		require.NoError(t, err)
		assert.Equal(t, ports.LegacyImportResult{}, again)

		all, err := principals.List(ctx, ports.ListPrincipalsOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 4)
	})
}
