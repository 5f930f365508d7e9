package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/amirhdaghestani/openai-api/internal/models"
)

// Migrate applies schema migrations for all persistent models.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.UsageEvent{},
	); err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	return nil
}
