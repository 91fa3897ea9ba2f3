package models

import (
	"github.com/jinzhu/gorm"
)

// InventoryItem is a catalog row. The reconciler looks items up by name and
// reads cost; it never owns or mutates the row.
type InventoryItem struct {
	gorm.Model
	Name     string `gorm:"index"`
	Category string
	Quantity float64
	Unit     string
	Cost     *float64
	Location string
	Status   string
	Notes    string
}

// TableName sets the table name for InventoryItem
func (InventoryItem) TableName() string {
	return "inventory_items"
}

// InventoryCategory represents the category of an inventory item
type InventoryCategory string

const (
	CategoryProtein    InventoryCategory = "protein"
	CategoryProduce    InventoryCategory = "produce"
	CategoryDairy      InventoryCategory = "dairy"
	CategoryDryGoods   InventoryCategory = "dry_goods"
	CategorySpices     InventoryCategory = "spices"
	CategoryCondiments InventoryCategory = "condiments"
	CategoryBeverages  InventoryCategory = "beverages"
)

// InventoryStatus represents the status of an inventory item
type InventoryStatus string

const (
	StatusInStock    InventoryStatus = "in_stock"
	StatusLow        InventoryStatus = "low"
	StatusOutOfStock InventoryStatus = "out_of_stock"
	StatusOrdered    InventoryStatus = "ordered"
)
