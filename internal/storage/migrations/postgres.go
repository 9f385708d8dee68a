package migrations

import (
	"context"
	"fmt"

	"renex/internal/storage/postgres"
)

// RunPostgresMigrations applies every embedded postgres migration file.
// pgx runs a whole file per Exec, so no statement splitting is needed.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := sqlFiles(PostgresFS, "postgres")
	if err != nil {
		return fmt.Errorf("read embedded postgres migrations: %w", err)
	}

	for _, file := range files {
		if file.sql == "" {
			continue
		}
		if _, err := pool.Exec(ctx, file.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", file.name, err)
		}
	}
	return nil
}
