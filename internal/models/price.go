package models

import (
	"time"

	"github.com/jinzhu/gorm"
)

// WebEstimateTier tags every web-derived price estimate. Rows under this
// tier never overwrite an authoritative catalog or vendor price.
const WebEstimateTier = "general_knowledge_web"

// PriceEstimate is a non-authoritative external price research result.
type PriceEstimate struct {
	gorm.Model
	ItemName      string `gorm:"index"`
	LowPrice      float64
	HighPrice     float64
	Unit          string
	SourceURLs    StringSlice `gorm:"type:text"`
	KnowledgeTier string
	RetrievedAt   time.Time
}

// TableName sets the table name for PriceEstimate
func (PriceEstimate) TableName() string {
	return "price_estimates"
}
