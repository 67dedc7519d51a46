package db

import (
	"github.com/stackbuild/stackbuild/internal/domain"
	"gorm.io/gorm"
)

func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.TimelineEvent{}); err != nil {
		return err
	}
	return createCustomIndexes(db)
}

func createCustomIndexes(db *gorm.DB) error {
	// Run and host lookups drive every journal query.
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_run
		ON timeline_events (run_id, created_at)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_timeline_events_host
		ON timeline_events (host, created_at DESC)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}
	return nil
}
