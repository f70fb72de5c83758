package db

import (
	"context"
	"io/fs"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Migrate applies every *.sql file in fsys that is not yet recorded in schema_migrations,
// in lexical order. It returns the names applied by this call.
func Migrate(ctx context.Context, pool *Pool, fsys fs.FS, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := ensureSchemaTable(ctx, pool); err != nil {
		return nil, err
	}

	files, err := listSQLFiles(fsys)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		done, err := isApplied(ctx, pool, file)
		if err != nil {
			return applied, err
		}
		if done {
			continue
		}
		if err := applyMigration(ctx, pool, fsys, file); err != nil {
			return applied, err
		}
		logger.Info("migration applied", zap.String("file", file))
		applied = append(applied, file)
	}
	return applied, nil
}

func ensureSchemaTable(ctx context.Context, pool *Pool) error {
	_, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL DEFAULT now())`)
	return err
}

func listSQLFiles(fsys fs.FS) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func isApplied(ctx context.Context, pool *Pool, file string) (bool, error) {
	var exists bool
	row := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename=$1)`, file)
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// applyMigration runs the file and records it in one transaction.
func applyMigration(ctx context.Context, pool *Pool, fsys fs.FS, file string) error {
	data, err := fs.ReadFile(fsys, file)
	if err != nil {
		return err
	}
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if strings.TrimSpace(string(data)) != "" {
		if _, err := tx.Exec(ctx, string(data)); err != nil {
			return err
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, file); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
