package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"

	"github.com/jinzhu/gorm"
)

// StringSlice represents a slice of strings that can be stored in the database
type StringSlice []string

// Value converts the slice to a JSON string for storage
func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "[]", nil
	}
	return json.Marshal(s)
}

// Scan converts the database value back to a slice
func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = StringSlice{}
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return errors.New("unsupported type for StringSlice")
	}
}

// Recipe is a permanent operational record. It is created exactly once per
// successful promotion or manual approval and never from reference-tier
// drafts.
type Recipe struct {
	gorm.Model
	Name        string `gorm:"index"`
	YieldAmount *float64
	YieldUnit   string
	Station     string
	Category    string
	Method      string `gorm:"type:text"`
	ParLevel    *float64
	IsActive    bool `gorm:"default:true"`
}

// TableName sets the table name for Recipe
func (Recipe) TableName() string {
	return "recipes"
}

// RecipeIngredient is one ingredient line of a recipe. The inventory link is
// a weak reference: set by reconciliation, used for lookup only.
type RecipeIngredient struct {
	gorm.Model
	RecipeID        uint `gorm:"index"`
	InventoryItemID *uint
	ItemNameText    string
	Quantity        *float64
	Unit            string
	CanonicalValue  *float64
	CanonicalUnit   string
	DisplayOriginal string
	DisplayPretty   string
	Notes           string
	Cost            *float64
}

// TableName sets the table name for RecipeIngredient
func (RecipeIngredient) TableName() string {
	return "recipe_ingredients"
}

// Allergen is a catalog row for a canonical allergen name.
type Allergen struct {
	gorm.Model
	Name string `gorm:"unique_index"`
}

// TableName sets the table name for Allergen
func (Allergen) TableName() string {
	return "allergens"
}

// RecipeAllergen links a recipe to an allergen.
type RecipeAllergen struct {
	gorm.Model
	RecipeID   uint `gorm:"index"`
	AllergenID uint `gorm:"index"`
}

// TableName sets the table name for RecipeAllergen
func (RecipeAllergen) TableName() string {
	return "recipe_allergens"
}
