// Package api exposes the HTTP surface: ingest submission, draft overrides,
// order routing, vendor views, knowledge search, and the status feed.
package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"go.uber.org/zap"

	"prepbrain/internal/knowledge"
	"prepbrain/internal/metrics"
	"prepbrain/internal/models"
	"prepbrain/internal/ordering"
	"prepbrain/internal/pipeline"
	"prepbrain/internal/resolver"
)

// Server wires the HTTP handlers to the pipeline and ordering components.
type Server struct {
	Router *gin.Engine

	db       *gorm.DB
	pipeline *pipeline.Pipeline
	parser   *ordering.Parser
	orders   *ordering.Router
	resolver *resolver.Resolver
	index    knowledge.Index
	logger   *zap.Logger
}

// New creates the API server and registers all routes.
func New(db *gorm.DB, pipe *pipeline.Pipeline, parser *ordering.Parser, orders *ordering.Router, index knowledge.Index, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		Router:   gin.Default(),
		db:       db,
		pipeline: pipe,
		parser:   parser,
		orders:   orders,
		resolver: resolver.New(db),
		index:    index,
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.Router.GET("/ws/status", s.handleStatusSocket)

	v1 := s.Router.Group("/api/v1")
	{
		// Ingest
		v1.POST("/ingest", s.QueueIngest)
		v1.GET("/ingest/jobs", s.ListIngestJobs)
		v1.GET("/ingest/jobs/:id", s.GetIngestJob)

		// Draft overrides
		v1.GET("/drafts", s.ListDrafts)
		v1.GET("/drafts/:id", s.GetDraft)
		v1.PATCH("/drafts/:id", s.EditDraft)
		v1.POST("/drafts/:id/ingredients", s.AddDraftIngredient)
		v1.DELETE("/drafts/:id/ingredients/:index", s.RemoveDraftIngredient)
		v1.POST("/drafts/:id/approve", s.ApproveDraft)
		v1.POST("/drafts/:id/hold", s.HoldDraft)
		v1.POST("/drafts/:id/reject", s.RejectDraft)

		// Ordering
		v1.POST("/orders", s.RouteOrder)
		v1.GET("/orders/pending", s.PendingOrders)
		v1.POST("/orders/purchase", s.RecordPurchase)

		// Vendors
		v1.GET("/vendors", s.ListVendors)
		v1.GET("/vendors/:id/email-draft", s.VendorEmailDraft)
		v1.POST("/vendors/:id/ordered", s.MarkVendorOrdered)

		// Knowledge and status
		v1.GET("/knowledge/search", s.SearchKnowledge)
		v1.GET("/resolve", s.ResolveName)
		v1.GET("/status", s.GetStatus)
		v1.GET("/prep/snapshot", s.PrepSnapshot)
	}
}

// Run starts the HTTP listener.
func (s *Server) Run(addr string) error {
	return s.Router.Run(addr)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

func limitQuery(c *gin.Context, fallback, max int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", ""))
	if err != nil || limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

// Ingest handlers

func (s *Server) QueueIngest(c *gin.Context) {
	var req struct {
		IngestID       string `json:"ingest_id"`
		SourceFilename string `json:"source_filename" binding:"required"`
		SourceType     string `json:"source_type"`
		RestaurantTag  string `json:"restaurant_tag"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := s.pipeline.QueueIngestJob(req.IngestID, req.SourceFilename, req.SourceType, req.RestaurantTag)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (s *Server) ListIngestJobs(c *gin.Context) {
	jobs, err := s.pipeline.ListIngestJobs(limitQuery(c, 20, 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (s *Server) GetIngestJob(c *gin.Context) {
	job, err := s.pipeline.GetIngestJob(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "ingest job not found"})
		return
	}
	c.JSON(http.StatusOK, job)
}

// Draft handlers

func (s *Server) ListDrafts(c *gin.Context) {
	drafts, err := s.pipeline.ListDrafts(c.Query("status"), limitQuery(c, 50, 200))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"drafts": drafts})
}

func (s *Server) GetDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	draft, err := s.pipeline.GetDraft(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) EditDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var edit pipeline.DraftEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := s.pipeline.EditDraft(id, edit)
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) AddDraftIngredient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var line models.DraftIngredient
	if err := c.ShouldBindJSON(&line); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	draft, err := s.pipeline.AddDraftIngredient(id, line)
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) RemoveDraftIngredient(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ingredient index"})
		return
	}
	draft, err := s.pipeline.RemoveDraftIngredient(id, index)
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) ApproveDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	recipe, err := s.pipeline.ApproveDraft(id)
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipe": recipe})
}

func (s *Server) HoldDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.pipeline.HoldDraft(id, req.Reason); err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "held"})
}

func (s *Server) RejectDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.pipeline.RejectDraft(id, req.Reason); err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "draft not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "rejected"})
}

// Ordering handlers

func (s *Server) RouteOrder(c *gin.Context) {
	var req struct {
		Text           string `json:"text" binding:"required"`
		RestaurantTag  string `json:"restaurant_tag"`
		ConversationID int64  `json:"conversation_id"`
		AddedBy        string `json:"added_by"`
		VendorID       *uint  `json:"vendor_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	parsed := s.parser.Parse(c.Request.Context(), req.Text, req.RestaurantTag)
	if parsed == nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "could not parse an order line from text"})
		return
	}

	result, err := s.orders.RouteParsedOrder(parsed, req.ConversationID, req.AddedBy, req.VendorID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if result.OK && result.Routed != nil {
		metrics.OrdersRouted.WithLabelValues(result.Routed.RoutingReason).Inc()
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) PendingOrders(c *gin.Context) {
	lines, err := s.orders.PendingOrders(limitQuery(c, 50, 500))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": lines})
}

func (s *Server) RecordPurchase(c *gin.Context) {
	var req struct {
		ItemName string `json:"item_name" binding:"required"`
		VendorID uint   `json:"vendor_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	normalized := ordering.NormalizeItemName(req.ItemName)
	if normalized == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "item_name is empty after normalization"})
		return
	}
	if err := s.orders.RecordPurchase(normalized, req.VendorID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded", "item_name": normalized})
}

// Vendor handlers

func (s *Server) ListVendors(c *gin.Context) {
	var vendors []models.Vendor
	if err := s.db.Order("name asc").Find(&vendors).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"vendors": vendors})
}

func (s *Server) VendorEmailDraft(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	draft, err := s.orders.BuildEmailDraft(id)
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "vendor not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, draft)
}

func (s *Server) MarkVendorOrdered(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := s.orders.MarkVendorOrdered(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ordered"})
}

// Knowledge and status handlers

func (s *Server) SearchKnowledge(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}
	var tiers []string
	if tier := strings.TrimSpace(c.Query("tier")); tier != "" {
		tiers = []string{knowledge.NormalizeTier(tier)}
	}
	hits, err := s.index.Search(query, tiers, limitQuery(c, 8, 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"hits": hits})
}

// ResolveName maps a free-text name onto a stored recipe or inventory item.
func (s *Server) ResolveName(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "q is required"})
		return
	}

	var result *resolver.Result
	var err error
	switch c.DefaultQuery("type", "recipe") {
	case "recipe":
		result, err = s.resolver.ResolveRecipe(query)
	case "inventory_item":
		result, err = s.resolver.ResolveInventoryItem(query)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be recipe or inventory_item"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetStatus(c *gin.Context) {
	status, err := s.pipeline.Snapshot()
	if err != nil {
		if gorm.IsRecordNotFoundError(err) {
			c.JSON(http.StatusOK, gin.H{"status": "idle"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) PrepSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.pipeline.BehindServiceSnapshot())
}
