package data

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/target/streamauth/internal/migrate"
)

// RunMigrations brings the principals and sessions schema up to date.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	if err := migrate.Run(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// PendingMigrations lists migrations not yet applied.
func PendingMigrations(ctx context.Context, db *sql.DB) ([]string, error) {
	return migrate.Pending(ctx, db)
}
