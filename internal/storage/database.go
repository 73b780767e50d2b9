package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("not found")

type Database struct {
	db *gorm.DB
}

// NewDatabase opens driver ("sqlite" or "postgres") at dsn and migrates the schema.
func NewDatabase(driver, dsn string) (*Database, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialector.Name() == "sqlite" {
		// One connection keeps ":memory:" databases shared and serialises writers.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := db.AutoMigrate(&Destination{}, &Setting{}, &Delivery{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{db: db}, nil
}

// GetAdmin returns the admin user id, or "" when none is assigned.
func (d *Database) GetAdmin() (string, error) {
	var s Setting
	result := d.db.Where(&Setting{Key: adminKey}).First(&s)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if result.Error != nil {
		return "", result.Error
	}
	return s.Value, nil
}

func (d *Database) SetAdmin(userID string) error {
	return d.db.Save(&Setting{Key: adminKey, Value: userID}).Error
}

func (d *Database) IsAdmin(userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	admin, err := d.GetAdmin()
	if err != nil {
		return false, err
	}
	return admin == userID, nil
}

func (d *Database) GetDestination(chatID string) (*Destination, error) {
	var dest Destination
	result := d.db.Where("chat_id = ?", chatID).First(&dest)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("destination %s: %w", chatID, ErrNotFound)
	}
	if result.Error != nil {
		return nil, result.Error
	}
	return &dest, nil
}

// SaveDestination inserts dest or updates the row with the same ChatID.
func (d *Database) SaveDestination(dest *Destination) error {
	return d.db.Transaction(func(tx *gorm.DB) error {
		var existing Destination
		result := tx.Where("chat_id = ?", dest.ChatID).First(&existing)
		switch {
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			return tx.Create(dest).Error
		case result.Error != nil:
			return result.Error
		}

		dest.ID = existing.ID
		dest.CreatedAt = existing.CreatedAt
		return tx.Save(dest).Error
	})
}

func (d *Database) SetEnabled(chatID string, enabled bool) error {
	result := d.db.Model(&Destination{}).Where("chat_id = ?", chatID).Update("enabled", enabled)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("destination %s: %w", chatID, ErrNotFound)
	}
	return nil
}

func (d *Database) ListEnabledDestinations() ([]Destination, error) {
	var dests []Destination
	result := d.db.Where("enabled = ?", true).Order("id asc").Find(&dests)
	if result.Error != nil {
		return nil, result.Error
	}
	return dests, nil
}

func (d *Database) RecordDelivery(delivery *Delivery) error {
	return d.db.Create(delivery).Error
}

// ListDeliveries returns the newest deliveries for chatID first.
func (d *Database) ListDeliveries(chatID string, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 20
	}
	var deliveries []Delivery
	result := d.db.Where("chat_id = ?", chatID).
		Order("created_at desc").
		Limit(limit).
		Find(&deliveries)
	if result.Error != nil {
		return nil, result.Error
	}
	return deliveries, nil
}

func (d *Database) CleanOldDeliveries(olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan)
	return d.db.Where("created_at < ?", cutoff).Delete(&Delivery{}).Error
}

func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
