package db

import (
	"io/fs"
	"os"
	"testing"
)

// setupMigrationTestDB creates a test database without running migrations
func setupMigrationTestDB(t *testing.T) *DB {
	t.Helper()
	fname := t.Name() + ".db"
	_ = os.Remove(fname)

	db, err := OpenDB(fname)
	if err != nil {
		t.Fatalf("failed to open test DB: %v", err)
	}
	return db
}

func embeddedMigrations(t *testing.T) fs.FS {
	t.Helper()
	migrations, err := Migrations()
	if err != nil {
		t.Fatalf("failed to load embedded migrations: %v", err)
	}
	return migrations
}

func TestMigrateUp(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 2 {
		t.Errorf("expected version 2, got %d", version)
	}

	if dirty {
		t.Error("database should not be dirty after successful migration")
	}

	// Verify the cycles table exists with the columns from both migrations
	var tableExists bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='cycles'
	`).Scan(&tableExists)
	if err != nil {
		t.Fatalf("failed to check cycles table: %v", err)
	}

	if !tableExists {
		t.Error("cycles table should exist after migration")
	}

	var hasPosition bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('cycles')
		WHERE name='suggested_position'
	`).Scan(&hasPosition)
	if err != nil {
		t.Fatalf("failed to check suggested_position column: %v", err)
	}

	if !hasPosition {
		t.Error("suggested_position column should exist after second migration")
	}
}

func TestMigrateUp_Idempotency(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	// Run migrations up twice
	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}

	err = db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 2 {
		t.Errorf("expected version 2 after idempotent up, got %d", version)
	}
}

func TestMigrateDown(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	// Roll back the position-suggestion columns
	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateDown failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 1 {
		t.Errorf("expected version 1 after down migration, got %d", version)
	}

	if dirty {
		t.Error("database should not be dirty after successful down migration")
	}

	var hasPosition bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM pragma_table_info('cycles')
		WHERE name='suggested_position'
	`).Scan(&hasPosition)
	if err != nil {
		t.Fatalf("failed to check suggested_position column: %v", err)
	}

	if hasPosition {
		t.Error("suggested_position column should not exist after rolling back")
	}

	// The base schema stays
	var tableExists bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='cycles'
	`).Scan(&tableExists)
	if err != nil {
		t.Fatalf("failed to check cycles table: %v", err)
	}

	if !tableExists {
		t.Error("cycles table should still exist after rolling back only the second migration")
	}
}

func TestMigrateVersion_NoMigrations(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	version, dirty, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 0 {
		t.Errorf("expected version 0 before migrations, got %d", version)
	}

	if dirty {
		t.Error("database should not be dirty before any migrations")
	}
}

func TestMigrateForce(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	err = db.MigrateForce(migrationsFS, 1)
	if err != nil {
		t.Fatalf("MigrateForce failed: %v", err)
	}

	version, _, err := db.MigrateVersion(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}

	if version != 1 {
		t.Errorf("expected version 1 after force, got %d", version)
	}
}

func TestMigrateUpDown_FullCycle(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("first MigrateUp failed: %v", err)
	}

	version, _, _ := db.MigrateVersion(migrationsFS)
	if version != 2 {
		t.Errorf("expected version 2 after up, got %d", version)
	}

	// Roll back both migrations
	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("first MigrateDown failed: %v", err)
	}

	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("second MigrateDown failed: %v", err)
	}

	version, _, _ = db.MigrateVersion(migrationsFS)
	if version != 0 {
		t.Errorf("expected version 0 after rolling back all, got %d", version)
	}

	var tableExists bool
	err = db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type='table' AND name='sessions'
	`).Scan(&tableExists)
	if err != nil {
		t.Fatalf("failed to check sessions table: %v", err)
	}

	if tableExists {
		t.Error("sessions table should not exist after rolling back all migrations")
	}

	// Re-apply
	err = db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("second MigrateUp failed: %v", err)
	}

	version, _, _ = db.MigrateVersion(migrationsFS)
	if version != 2 {
		t.Errorf("expected version 2 after re-applying, got %d", version)
	}
}

func TestMigrate_NoChangeError(t *testing.T) {
	db := setupMigrationTestDB(t)
	defer cleanupTestDB(t, db)

	migrationsFS := embeddedMigrations(t)

	err := db.MigrateUp(migrationsFS)
	if err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	// Applying again is handled gracefully
	err = db.MigrateUp(migrationsFS)
	if err != nil {
		t.Errorf("second MigrateUp should not error: %v", err)
	}

	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("first MigrateDown failed: %v", err)
	}

	err = db.MigrateDown(migrationsFS)
	if err != nil {
		t.Fatalf("second MigrateDown failed: %v", err)
	}

	// Nothing left to roll back
	err = db.MigrateDown(migrationsFS)
	if err == nil {
		t.Error("MigrateDown at version 0 should error (no migration to roll back)")
	}
}
