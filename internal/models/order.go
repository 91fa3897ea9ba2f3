package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// PendingOrderLine is a routed order request awaiting fulfillment. VendorID
// is nil while routing is unresolved.
type PendingOrderLine struct {
	gorm.Model
	ItemName           string
	NormalizedItemName string `gorm:"index"`
	Quantity           float64
	Unit               string
	CanonicalValue     float64
	CanonicalUnit      string
	DisplayOriginal    string
	DisplayPretty      string
	AddedBy            string
	VendorID           *uint `gorm:"index"`
	ConversationID     int64
	Status             string `gorm:"index"`
	OrderedAt          *time.Time
}

// TableName sets the table name for PendingOrderLine
func (PendingOrderLine) TableName() string {
	return "pending_order_lines"
}

// OrderLineStatus represents the possible states of a pending order line
type OrderLineStatus string

const (
	OrderLineStatusPending OrderLineStatus = "pending"
	OrderLineStatusOrdered OrderLineStatus = "ordered"
)

// ChatVendorContext remembers the vendor last used in a conversation so
// follow-up order lines route there when affinity gives no clear winner.
type ChatVendorContext struct {
	gorm.Model
	ConversationID int64 `gorm:"unique_index"`
	LastVendorID   uint
}

// TableName sets the table name for ChatVendorContext
func (ChatVendorContext) TableName() string {
	return "chat_vendor_context"
}
