package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// Vendor is a supplier catalog row.
type Vendor struct {
	gorm.Model
	Name           string `gorm:"index"`
	Email          string
	ContactName    string
	CutoffTime     string
	OrderingMethod string
}

// TableName sets the table name for Vendor
func (Vendor) TableName() string {
	return "vendors"
}

// VendorItemAffinity is a decaying purchase score per (item, vendor) pair.
// Scores move only on observed purchase attribution, never on estimates.
type VendorItemAffinity struct {
	gorm.Model
	NormalizedItemName string `gorm:"index"`
	VendorID           uint   `gorm:"index"`
	PurchaseCount      int
	Score              float64
	LastSeenAt         time.Time
}

// TableName sets the table name for VendorItemAffinity
func (VendorItemAffinity) TableName() string {
	return "vendor_item_affinity"
}

// VendorCutoffReminder records one delivered cutoff reminder so the same
// (vendor, date, offset) combination is never announced twice.
type VendorCutoffReminder struct {
	gorm.Model
	VendorID      uint   `gorm:"index"`
	ReminderDate  string `gorm:"index"`
	OffsetMinutes int
	SentAt        time.Time
}

// TableName sets the table name for VendorCutoffReminder
func (VendorCutoffReminder) TableName() string {
	return "vendor_cutoff_reminders"
}
