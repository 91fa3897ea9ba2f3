package models

import (
	"encoding/json"

	"github.com/jinzhu/gorm"
)

// Draft is a candidate recipe extracted from a knowledge source. It is owned
// by the promotion pipeline: end users only touch it through explicit
// override operations, and only a promotion can turn it into a Recipe.
type Draft struct {
	gorm.Model
	SourceID        string `gorm:"index"`
	Name            string
	RawText         string `gorm:"type:text"`
	YieldAmount     *float64
	YieldUnit       string
	Station         string
	Category        string
	Method          string `gorm:"type:text"`
	IngredientsJSON string `gorm:"type:text"`
	AllergensJSON   string `gorm:"type:text"`
	Confidence      float64
	KnowledgeTier   string
	Status          string `gorm:"index"`
	RejectionReason string
	// Transient fields (ignored by GORM)
	Ingredients []DraftIngredient `gorm:"-"`
	Allergens   []string          `gorm:"-"`
}

// TableName sets the table name for Draft
func (Draft) TableName() string {
	return "recipe_drafts"
}

// DraftIngredient is one ingredient line inside a draft payload.
type DraftIngredient struct {
	InventoryItemID *uint    `json:"inventory_item_id"`
	ItemNameText    string   `json:"item_name_text"`
	Quantity        *float64 `json:"quantity"`
	Unit            string   `json:"unit,omitempty"`
	Notes           string   `json:"notes,omitempty"`
}

// DraftStatus represents the lifecycle state of a draft
type DraftStatus string

const (
	DraftStatusPending  DraftStatus = "pending"
	DraftStatusEnriched DraftStatus = "enriched"
	DraftStatusPromoted DraftStatus = "promoted"
	DraftStatusRejected DraftStatus = "rejected"
)

// GetIngredients returns the deserialized ingredient lines
func (d *Draft) GetIngredients() ([]DraftIngredient, error) {
	if len(d.Ingredients) > 0 {
		return d.Ingredients, nil
	}
	var ingredients []DraftIngredient
	if d.IngredientsJSON == "" {
		return ingredients, nil
	}
	if err := json.Unmarshal([]byte(d.IngredientsJSON), &ingredients); err != nil {
		return nil, err
	}
	d.Ingredients = ingredients
	return ingredients, nil
}

// SetIngredients serializes the ingredient lines for storage
func (d *Draft) SetIngredients(ingredients []DraftIngredient) error {
	data, err := json.Marshal(ingredients)
	if err != nil {
		return err
	}
	d.IngredientsJSON = string(data)
	d.Ingredients = ingredients
	return nil
}

// GetAllergens returns the deserialized allergen names
func (d *Draft) GetAllergens() ([]string, error) {
	if len(d.Allergens) > 0 {
		return d.Allergens, nil
	}
	var allergens []string
	if d.AllergensJSON == "" {
		return allergens, nil
	}
	if err := json.Unmarshal([]byte(d.AllergensJSON), &allergens); err != nil {
		return nil, err
	}
	d.Allergens = allergens
	return allergens, nil
}

// SetAllergens serializes the allergen names for storage
func (d *Draft) SetAllergens(allergens []string) error {
	data, err := json.Marshal(allergens)
	if err != nil {
		return err
	}
	d.AllergensJSON = string(data)
	d.Allergens = allergens
	return nil
}
