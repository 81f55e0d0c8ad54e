package sqlstore

import (
	"context"
	"embed"
	"fmt"
	"path"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

// migrationsDir maps a dialect onto its embedded migration directory.
func migrationsDir(dialect Dialect) (string, error) {
	switch dialect {
	case DialectSQLite:
		return path.Join("migrations", "sqlite"), nil
	case DialectPostgres:
		return path.Join("migrations", "postgres"), nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", dialect)
	}
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *DB, dir string) error {
	return goose.UpContext(ctx, db.DB, dir)
}

// Migrate applies every pending embedded migration for the handle's dialect.
// A nil logger silences goose.
func Migrate(ctx context.Context, db *DB, logger goose.Logger) error {
	dir, err := migrationsDir(db.Dialect)
	if err != nil {
		return err
	}

	if logger == nil {
		logger = goose.NopLogger()
	}
	goose.SetLogger(logger)
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect(string(db.Dialect)); err != nil {
		return fmt.Errorf("set migration dialect: %w", err)
	}

	if err := gooseUpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration version.
func SchemaVersion(ctx context.Context, db *DB) (int64, error) {
	if err := goose.SetDialect(string(db.Dialect)); err != nil {
		return 0, fmt.Errorf("set migration dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, db.DB)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}
