package pg

import (
	"context"
	"embed"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending SQL migrations in lexical order
func RunMigrations(ctx context.Context, uri string) error {
	conn, err := pgx.Connect(ctx, uri)
	if err != nil {
		return errors.Wrap(err, "connecting to database")
	}
	defer conn.Close(ctx)

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS migrations (
			id SERIAL PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return errors.Wrap(err, "creating migrations table")
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return errors.Wrap(err, "reading embedded migrations")
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		var applied bool
		err := conn.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM migrations WHERE name = $1)`, name).Scan(&applied)
		if err != nil {
			return errors.Wrapf(err, "checking migration %s", name)
		}
		if applied {
			continue
		}

		script, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return errors.Wrapf(err, "reading migration %s", name)
		}

		tx, err := conn.Begin(ctx)
		if err != nil {
			return errors.Wrapf(err, "beginning migration %s", name)
		}

		if _, err := tx.Exec(ctx, string(script)); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "applying migration %s", name)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO migrations (name) VALUES ($1)`, name); err != nil {
			_ = tx.Rollback(ctx)
			return errors.Wrapf(err, "recording migration %s", name)
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.Wrapf(err, "committing migration %s", name)
		}

		klog.Infof("Applied migration %s", name)
	}

	return nil
}
