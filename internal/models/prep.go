package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// PrepTask is one item on the daily prep list. The scheduler generates a
// fresh list from recipe par levels when no open tasks remain.
type PrepTask struct {
	gorm.Model
	RecipeID          uint `gorm:"index"`
	Station           string
	NeedQuantity      float64
	TargetQuantity    float64
	CompletedQuantity float64
	Unit              string
	Status            string `gorm:"index"`
	LastUpdateBy      string
	LastUpdateAt      *time.Time
}

// TableName sets the table name for PrepTask
func (PrepTask) TableName() string {
	return "prep_list_items"
}

// PrepStatus represents the status of a prep task
type PrepStatus string

const (
	PrepStatusTodo       PrepStatus = "todo"
	PrepStatusInProgress PrepStatus = "in_progress"
	PrepStatusDone       PrepStatus = "done"
)
