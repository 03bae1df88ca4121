// Package migrations embeds the SQL schema for internal/metadata's key-value
// store and wires it into internal/db's migration runner.
package migrations

import (
	_ "embed"

	"github.com/goran-ethernal/evmindex/internal/db"
)

//go:embed 001_metadata_store.sql
var mig001 string

// RunMigrations applies every pending metadata-store migration against dbPath.
func RunMigrations(dbPath string) error {
	migrations := []db.Migration{
		{
			ID:  "001_metadata_store.sql",
			SQL: mig001,
		},
	}

	return db.RunMigrations(dbPath, migrations)
}
