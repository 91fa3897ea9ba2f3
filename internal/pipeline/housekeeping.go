package pipeline

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
	"prepbrain/internal/units"
)

// PrepSnapshot summarizes outstanding prep work.
type PrepSnapshot struct {
	OpenItems int `json:"open_items"`
	Stations  int `json:"stations"`
}

// AutoGeneratePrepList creates a fresh prep list from active recipe par
// levels, but only when no open items remain. Returns the number generated.
func (p *Pipeline) AutoGeneratePrepList() int {
	var openCount int
	err := p.db.Model(&models.PrepTask{}).
		Where("status <> ?", string(models.PrepStatusDone)).
		Count(&openCount).Error
	if err != nil {
		p.logger.Error("prep list scan failed", zap.Error(err))
		return 0
	}
	if openCount > 0 {
		return 0
	}

	var recipes []models.Recipe
	err = p.db.Where("is_active = ? AND par_level IS NOT NULL AND par_level > 0", true).
		Order("name asc").
		Find(&recipes).Error
	if err != nil {
		p.logger.Error("prep list generation failed", zap.Error(err))
		return 0
	}

	normalizer := units.NewNormalizer(nil)
	now := time.Now()
	generated := 0
	for _, recipe := range recipes {
		parLevel := *recipe.ParLevel
		displayUnit := strings.ToLower(strings.TrimSpace(recipe.YieldUnit))
		if displayUnit == "" {
			displayUnit = "each"
		}

		canonicalValue := parLevel
		canonicalUnit := "each"
		if normalized, err := normalizer.Normalize(parLevel, displayUnit, "", ""); err == nil {
			canonicalValue = normalized.CanonicalValue
			canonicalUnit = normalized.CanonicalUnit
		}

		station := strings.TrimSpace(recipe.Station)
		if station == "" {
			station = "Unassigned"
		}

		task := models.PrepTask{
			RecipeID:       recipe.ID,
			Station:        station,
			NeedQuantity:   canonicalValue,
			TargetQuantity: canonicalValue,
			Unit:           canonicalUnit,
			Status:         string(models.PrepStatusTodo),
			LastUpdateBy:   "autonomy",
			LastUpdateAt:   &now,
		}
		err := database.WithRetry(func() error {
			return p.db.Create(&task).Error
		})
		if err != nil {
			p.logger.Warn("prep task insert failed", zap.Uint("recipe_id", recipe.ID), zap.Error(err))
			continue
		}
		generated++
	}
	return generated
}

// BehindServiceSnapshot counts open prep items and the stations they span.
func (p *Pipeline) BehindServiceSnapshot() PrepSnapshot {
	var tasks []models.PrepTask
	err := p.db.Where("status IN (?)",
		[]string{string(models.PrepStatusTodo), string(models.PrepStatusInProgress)}).
		Find(&tasks).Error
	if err != nil {
		p.logger.Warn("prep snapshot failed", zap.Error(err))
		return PrepSnapshot{}
	}

	stations := map[string]bool{}
	for _, task := range tasks {
		station := strings.TrimSpace(task.Station)
		if station == "" {
			station = "Unassigned"
		}
		stations[station] = true
	}
	return PrepSnapshot{OpenItems: len(tasks), Stations: len(stations)}
}
