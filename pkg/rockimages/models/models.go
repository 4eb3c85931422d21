package models

import "gorm.io/gorm"

// AllModels returns all models for migration.
// Note: users and organizations must be migrated first as other models reference them.
func AllModels() []interface{} {
	return []interface{}{
		&User{},
		&Organization{},
		&OrganizationMembership{},
		&Group{},
		&File{},
		&FileGroup{},
		&APIKey{},
	}
}

// AutoMigrate runs GORM auto-migration for all models
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(AllModels()...)
}
