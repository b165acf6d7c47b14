package db

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed migrations
var migrationsFS embed.FS

// DevMode switches migration loading to the on-disk directory so new
// migrations can be tried without rebuilding the binary.
var DevMode = false

// getMigrationsFS returns the migration files (embedded FS in production,
// local files in dev).
func getMigrationsFS() (fs.FS, error) {
	if DevMode {
		return os.DirFS("internal/db/migrations"), nil
	}
	return fs.Sub(migrationsFS, "migrations")
}

// Migrations exposes the migration files for callers that manage their own
// migration runs.
func Migrations() (fs.FS, error) {
	return getMigrationsFS()
}
