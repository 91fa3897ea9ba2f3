package ordering

import (
	"math"
	"strings"
	"time"

	"github.com/jinzhu/gorm"

	"prepbrain/internal/database"
	"prepbrain/internal/models"
)

// Routing reasons.
const (
	ReasonExplicitVendor    = "explicit_vendor"
	ReasonVendorItemAffinity = "vendor_item_affinity"
	ReasonAmbiguousAffinity  = "ambiguous_affinity"
	ReasonChatLastVendor     = "chat_last_vendor"
	ReasonNoVendorMatch      = "no_vendor_match"
	ReasonVendorNotFound     = "vendor_not_found"
)

const (
	affinityScoreGap   = 0.35
	affinityScoreRatio = 1.25
	candidateLimit     = 5
	affinityDecay      = 0.85
)

// Candidate is one vendor option offered when routing cannot decide.
type Candidate struct {
	VendorID      uint    `json:"vendor_id"`
	VendorName    string  `json:"vendor_name"`
	Score         float64 `json:"score"`
	PurchaseCount int     `json:"purchase_count,omitempty"`
}

// Routing is the vendor decision for one order line.
type Routing struct {
	Resolved   bool        `json:"resolved"`
	VendorID   uint        `json:"vendor_id,omitempty"`
	VendorName string      `json:"vendor_name,omitempty"`
	Reason     string      `json:"reason"`
	Candidates []Candidate `json:"candidates"`
}

// RoutedLine is the stored result of a successful routing.
type RoutedLine struct {
	Line          models.PendingOrderLine `json:"line"`
	VendorID      uint                    `json:"vendor_id"`
	VendorName    string                  `json:"vendor_name"`
	RoutingReason string                  `json:"routing_reason"`
}

// Router decides which vendor an order line goes to.
type Router struct {
	db *gorm.DB
}

func NewRouter(db *gorm.DB) *Router {
	return &Router{db: db}
}

func (r *Router) vendorByID(vendorID uint) (*models.Vendor, error) {
	var vendor models.Vendor
	err := r.db.First(&vendor, vendorID).Error
	if gorm.IsRecordNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vendor, nil
}

func (r *Router) allVendorOptions(limit int) ([]Candidate, error) {
	var vendors []models.Vendor
	if err := r.db.Order("name asc").Limit(limit).Find(&vendors).Error; err != nil {
		return nil, err
	}
	candidates := make([]Candidate, 0, len(vendors))
	for _, v := range vendors {
		candidates = append(candidates, Candidate{VendorID: v.ID, VendorName: v.Name})
	}
	return candidates, nil
}

func (r *Router) affinityCandidates(normalizedItemName string, limit int) ([]Candidate, error) {
	if normalizedItemName == "" {
		return nil, nil
	}

	query := func(where string, arg interface{}) ([]Candidate, error) {
		var rows []struct {
			VendorID      uint
			Score         float64
			PurchaseCount int
			Name          string
		}
		err := r.db.Table("vendor_item_affinity").
			Select("vendor_item_affinity.vendor_id, vendor_item_affinity.score, vendor_item_affinity.purchase_count, vendors.name").
			Joins("join vendors on vendors.id = vendor_item_affinity.vendor_id").
			Where(where, arg).
			Where("vendors.deleted_at is null and vendor_item_affinity.deleted_at is null").
			Order("vendor_item_affinity.score desc, vendor_item_affinity.purchase_count desc, vendor_item_affinity.last_seen_at desc").
			Limit(limit).
			Scan(&rows).Error
		if err != nil {
			return nil, err
		}
		candidates := make([]Candidate, 0, len(rows))
		for _, row := range rows {
			candidates = append(candidates, Candidate{
				VendorID:      row.VendorID,
				VendorName:    row.Name,
				Score:         row.Score,
				PurchaseCount: row.PurchaseCount,
			})
		}
		return candidates, nil
	}

	candidates, err := query("vendor_item_affinity.normalized_item_name = ?", normalizedItemName)
	if err != nil || len(candidates) > 0 {
		return candidates, err
	}
	return query("vendor_item_affinity.normalized_item_name like ?", "%"+normalizedItemName+"%")
}

func isClearAffinityWinner(candidates []Candidate) bool {
	if len(candidates) == 0 {
		return false
	}
	if len(candidates) == 1 {
		return true
	}
	top := candidates[0].Score
	second := candidates[1].Score
	if top <= 0 {
		return false
	}
	if top-second >= affinityScoreGap {
		return true
	}
	denom := second
	if denom < 0.0001 {
		denom = 0.0001
	}
	return top/denom >= affinityScoreRatio
}

// ResolveVendor picks a vendor for an item. Precedence: explicit vendor,
// clear affinity winner, then the conversation's last vendor. Anything else
// comes back unresolved with candidates for the operator to pick from.
func (r *Router) ResolveVendor(normalizedItemName string, conversationID int64, explicitVendorID *uint) (*Routing, error) {
	if explicitVendorID != nil {
		vendor, err := r.vendorByID(*explicitVendorID)
		if err != nil {
			return nil, err
		}
		if vendor == nil {
			options, err := r.allVendorOptions(candidateLimit)
			if err != nil {
				return nil, err
			}
			return &Routing{Reason: ReasonVendorNotFound, Candidates: options}, nil
		}
		return &Routing{
			Resolved:   true,
			VendorID:   vendor.ID,
			VendorName: vendor.Name,
			Reason:     ReasonExplicitVendor,
			Candidates: []Candidate{},
		}, nil
	}

	candidates, err := r.affinityCandidates(normalizedItemName, candidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) > 0 && isClearAffinityWinner(candidates) {
		top := candidates[0]
		return &Routing{
			Resolved:   true,
			VendorID:   top.VendorID,
			VendorName: top.VendorName,
			Reason:     ReasonVendorItemAffinity,
			Candidates: candidates,
		}, nil
	}
	if len(candidates) > 0 {
		return &Routing{Reason: ReasonAmbiguousAffinity, Candidates: candidates}, nil
	}

	var chatCtx models.ChatVendorContext
	err = r.db.Where("conversation_id = ?", conversationID).First(&chatCtx).Error
	if err == nil && chatCtx.LastVendorID != 0 {
		vendor, err := r.vendorByID(chatCtx.LastVendorID)
		if err != nil {
			return nil, err
		}
		if vendor != nil {
			return &Routing{
				Resolved:   true,
				VendorID:   vendor.ID,
				VendorName: vendor.Name,
				Reason:     ReasonChatLastVendor,
				Candidates: []Candidate{},
			}, nil
		}
	} else if err != nil && !gorm.IsRecordNotFoundError(err) {
		return nil, err
	}

	options, err := r.allVendorOptions(candidateLimit)
	if err != nil {
		return nil, err
	}
	return &Routing{Reason: ReasonNoVendorMatch, Candidates: options}, nil
}

func (r *Router) setChatVendorContext(conversationID int64, vendorID uint) error {
	var chatCtx models.ChatVendorContext
	err := r.db.Where("conversation_id = ?", conversationID).First(&chatCtx).Error
	if gorm.IsRecordNotFoundError(err) {
		return r.db.Create(&models.ChatVendorContext{
			ConversationID: conversationID,
			LastVendorID:   vendorID,
		}).Error
	}
	if err != nil {
		return err
	}
	return r.db.Model(&chatCtx).Update("last_vendor_id", vendorID).Error
}

// AddRoutedOrder stores a pending line for the vendor and remembers the
// vendor as the conversation's context.
func (r *Router) AddRoutedOrder(parsed *ParsedOrder, conversationID int64, addedBy string, vendorID uint) (*RoutedLine, error) {
	unit := parsed.Unit
	if strings.TrimSpace(unit) == "" {
		unit = "unit"
	}
	line := models.PendingOrderLine{
		ItemName:           parsed.ItemName,
		NormalizedItemName: parsed.NormalizedItemName,
		Quantity:           parsed.Quantity,
		Unit:               unit,
		CanonicalValue:     parsed.Quantity,
		CanonicalUnit:      parsed.Unit,
		DisplayOriginal:    parsed.DisplayOriginal,
		DisplayPretty:      parsed.DisplayPretty,
		AddedBy:            addedBy,
		VendorID:           &vendorID,
		ConversationID:     conversationID,
		Status:             string(models.OrderLineStatusPending),
	}
	err := database.WithRetry(func() error {
		if err := r.db.Create(&line).Error; err != nil {
			return err
		}
		return r.setChatVendorContext(conversationID, vendorID)
	})
	if err != nil {
		return nil, err
	}

	vendor, err := r.vendorByID(vendorID)
	if err != nil {
		return nil, err
	}
	name := ""
	if vendor != nil {
		name = vendor.Name
	}
	return &RoutedLine{Line: line, VendorID: vendorID, VendorName: name}, nil
}

// RouteResult is the combined parse-and-route outcome.
type RouteResult struct {
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	NeedsVendor bool         `json:"needs_vendor,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Candidates  []Candidate  `json:"candidates,omitempty"`
	Parsed      *ParsedOrder `json:"parsed,omitempty"`
	Routed      *RoutedLine  `json:"routed,omitempty"`
}

// RouteParsedOrder routes an already-parsed line.
func (r *Router) RouteParsedOrder(parsed *ParsedOrder, conversationID int64, addedBy string, explicitVendorID *uint) (*RouteResult, error) {
	routing, err := r.ResolveVendor(parsed.NormalizedItemName, conversationID, explicitVendorID)
	if err != nil {
		return nil, err
	}
	if !routing.Resolved {
		return &RouteResult{
			NeedsVendor: true,
			Reason:      routing.Reason,
			Candidates:  routing.Candidates,
			Parsed:      parsed,
		}, nil
	}

	routed, err := r.AddRoutedOrder(parsed, conversationID, addedBy, routing.VendorID)
	if err != nil {
		return nil, err
	}
	routed.RoutingReason = routing.Reason
	return &RouteResult{OK: true, Parsed: parsed, Routed: routed}, nil
}

// RecordPurchase applies the affinity decay update for one observed purchase
// of the item from the vendor.
func (r *Router) RecordPurchase(normalizedItemName string, vendorID uint) error {
	if normalizedItemName == "" {
		return nil
	}
	return database.WithRetry(func() error {
		var affinity models.VendorItemAffinity
		err := r.db.Where("normalized_item_name = ? and vendor_id = ?", normalizedItemName, vendorID).
			First(&affinity).Error
		if gorm.IsRecordNotFoundError(err) {
			return r.db.Create(&models.VendorItemAffinity{
				NormalizedItemName: normalizedItemName,
				VendorID:           vendorID,
				PurchaseCount:      1,
				Score:              1.0,
				LastSeenAt:         time.Now(),
			}).Error
		}
		if err != nil {
			return err
		}
		newScore := math.Round((affinity.Score*affinityDecay+1.0)*10000) / 10000
		return r.db.Model(&affinity).Updates(map[string]interface{}{
			"purchase_count": affinity.PurchaseCount + 1,
			"score":          newScore,
			"last_seen_at":   time.Now(),
		}).Error
	})
}

// PendingOrders lists pending lines grouped by vendor name.
func (r *Router) PendingOrders(limit int) ([]models.PendingOrderLine, error) {
	if limit <= 0 {
		limit = 200
	}
	var lines []models.PendingOrderLine
	err := r.db.Where("status = ?", models.OrderLineStatusPending).
		Order("vendor_id asc, item_name asc").
		Limit(limit).
		Find(&lines).Error
	return lines, err
}

// MarkVendorOrdered flips every pending line for the vendor to ordered.
func (r *Router) MarkVendorOrdered(vendorID uint) error {
	now := time.Now()
	return database.WithRetry(func() error {
		return r.db.Model(&models.PendingOrderLine{}).
			Where("vendor_id = ? and status = ?", vendorID, models.OrderLineStatusPending).
			Updates(map[string]interface{}{
				"status":     string(models.OrderLineStatusOrdered),
				"ordered_at": now,
			}).Error
	})
}
