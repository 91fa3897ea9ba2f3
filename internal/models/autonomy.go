package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// AutonomyStatus is the singleton heartbeat row (ID 1). It is the only
// shared mutable state external monitors may read.
type AutonomyStatus struct {
	ID                      uint `gorm:"primary_key"`
	IsRunning               bool
	LastTickAt              *time.Time
	LastCycleStartedAt      *time.Time
	LastCycleFinishedAt     *time.Time
	LastAction              string
	LastError               string
	LastErrorAt             *time.Time
	QueuePendingDrafts      int
	QueuePendingIngests     int
	LastPromotedRecipeID    *uint
	LastPromotedRecipeName  string
	LastPromotedAt          *time.Time
	UpdatedAt               time.Time
}

// TableName sets the table name for AutonomyStatus
func (AutonomyStatus) TableName() string {
	return "autonomy_status"
}

// ActionLog records one pipeline action. Recent-log lookups back the alert
// cooldown and audit throttling.
type ActionLog struct {
	gorm.Model
	Action           string `gorm:"index"`
	TargetType       string `gorm:"index"`
	TargetID         string `gorm:"index"`
	Detail           string `gorm:"type:text"`
	ConfidenceBefore float64
	ConfidenceAfter  float64
}

// TableName sets the table name for ActionLog
func (ActionLog) TableName() string {
	return "autonomy_log"
}

// All returns every model migrated at startup.
func All() []interface{} {
	return []interface{}{
		&IngestJob{},
		&DocSource{},
		&DocChunk{},
		&Draft{},
		&Recipe{},
		&RecipeIngredient{},
		&Allergen{},
		&RecipeAllergen{},
		&InventoryItem{},
		&Vendor{},
		&VendorItemAffinity{},
		&VendorCutoffReminder{},
		&PendingOrderLine{},
		&ChatVendorContext{},
		&PrepTask{},
		&PriceEstimate{},
		&AutonomyStatus{},
		&ActionLog{},
	}
}
