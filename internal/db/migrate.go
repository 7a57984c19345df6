package db

import (
	"fmt"

	"github.com/casedesk/casedesk-api/internal/models"
	"gorm.io/gorm"
)

// migrationModels lists every table owned by the service.
func migrationModels() []any {
	return []any{
		&models.Profile{},
		&models.Client{},
		&models.Case{},
		&models.Document{},
		&models.Invoice{},
		&models.SweepRun{},
	}
}

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite:
		return migrateSQLite(conn)
	case DialectPostgres, "":
		return migratePostgres(conn)
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}
}

// migratePostgres applies PostgreSQL-specific schema updates and indexes.
func migratePostgres(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(migrationModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errStatusCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_profiles_subscription_status') THEN
				ALTER TABLE profiles ADD CONSTRAINT chk_profiles_subscription_status
				CHECK (subscription_status IN ('unconfirmed', 'trialing', 'trial_expired', 'active', 'inactive'));
			END IF;
		END $$;
	`).Error; errStatusCheck != nil {
		return fmt.Errorf("db: add status check: %w", errStatusCheck)
	}
	if errRoleCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_profiles_role') THEN
				ALTER TABLE profiles ADD CONSTRAINT chk_profiles_role
				CHECK (role IN ('user', 'admin', 'demo'));
			END IF;
		END $$;
	`).Error; errRoleCheck != nil {
		return fmt.Errorf("db: add role check: %w", errRoleCheck)
	}
	if errTrialCheck := conn.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_profiles_trial_expiry') THEN
				ALTER TABLE profiles ADD CONSTRAINT chk_profiles_trial_expiry
				CHECK ((subscription_status IN ('trialing', 'trial_expired')) = (trial_expires_at IS NOT NULL));
			END IF;
		END $$;
	`).Error; errTrialCheck != nil {
		return fmt.Errorf("db: add trial expiry check: %w", errTrialCheck)
	}
	if errSweepIdx := conn.Exec(`
		CREATE INDEX IF NOT EXISTS idx_profiles_trialing_expiry
		ON profiles (trial_expires_at)
		WHERE subscription_status = 'trialing'
	`).Error; errSweepIdx != nil {
		return fmt.Errorf("db: create sweep index: %w", errSweepIdx)
	}
	return createOwnerIndexes(conn)
}

// migrateSQLite applies SQLite schema updates and indexes.
func migrateSQLite(conn *gorm.DB) error {
	if errAutoMigrate := conn.AutoMigrate(migrationModels()...); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return createOwnerIndexes(conn)
}

// createOwnerIndexes adds the (profile_id, created_at) indexes used by tenant listings and counts.
func createOwnerIndexes(conn *gorm.DB) error {
	for _, table := range []string{"clients", "cases", "documents", "invoices"} {
		stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_owner_created ON %s (profile_id, created_at)", table, table)
		if errIdx := conn.Exec(stmt).Error; errIdx != nil {
			return fmt.Errorf("db: create %s owner index: %w", table, errIdx)
		}
	}
	return nil
}
