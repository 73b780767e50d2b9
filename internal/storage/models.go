package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	DeliverySent    = "sent"
	DeliveryFailed  = "failed"
	DeliveryNoData  = "no_data"
	DeliverySkipped = "skipped"
)

const adminKey = "admin_id"

// Destination is a chat that receives forecast cards.
type Destination struct {
	gorm.Model
	ChatID       string  `gorm:"uniqueIndex;not null" json:"chat_id"`
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	LocationName string  `json:"location_name"`
	Enabled      bool    `gorm:"index" json:"enabled"`
}

type Setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

type Delivery struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	ChatID    string    `gorm:"index" json:"chat_id"`
	Status    string    `json:"status"`
	Rows      int       `json:"rows"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (d *Delivery) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	return nil
}
