package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"car-market-monitor/internal/catalog"
	"car-market-monitor/internal/cleanup"
	"car-market-monitor/internal/config"
	"car-market-monitor/internal/models"
	"car-market-monitor/internal/scheduler"
	"car-market-monitor/internal/search"
)

// APIHandler serves the read API over the catalog.
type APIHandler struct {
	store          catalog.Store
	searcher       *search.SearchClient
	scheduler      *scheduler.Scheduler
	cleanupService *cleanup.Service
}

func NewAPIHandler(store catalog.Store, searcher *search.SearchClient, sched *scheduler.Scheduler, cleanupService *cleanup.Service) *APIHandler {
	return &APIHandler{
		store:          store,
		searcher:       searcher,
		scheduler:      sched,
		cleanupService: cleanupService,
	}
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *APIHandler, cfg config.APIConfig) *gin.Engine {
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowOrigins) == 1 && cfg.AllowOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowOrigins
	}
	router.Use(cors.New(corsConfig))

	api := router.Group("/api")
	{
		api.GET("/health", h.Health)
		api.GET("/listings", h.ListListings)
		api.GET("/listings/:blocketID", h.GetListing)
		api.GET("/listings/:blocketID/prices", h.GetPriceHistory)
		api.GET("/runs", h.GetRuns)
		api.GET("/stats", h.GetMarketStats)
		api.GET("/search", h.Search)
		api.GET("/filter", h.Filter)

		admin := api.Group("/admin")
		{
			admin.POST("/run", h.TriggerRun)
			admin.POST("/purge", h.TriggerPurge)
		}
	}

	return router
}

func (h *APIHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListListings returns active listings, optionally filtered by region, make,
// fuel or seller type, with offset pagination.
func (h *APIHandler) ListListings(c *gin.Context) {
	active, err := h.store.ListActive()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	region := c.Query("region")
	mk := c.Query("make")
	fuel := c.Query("fuel")
	sellerType := c.Query("seller_type")

	filtered := active[:0:0]
	for _, l := range active {
		if region != "" && !strings.EqualFold(l.Region, region) {
			continue
		}
		if mk != "" && !strings.EqualFold(l.Make, mk) {
			continue
		}
		if fuel != "" && !strings.EqualFold(l.Fuel, fuel) {
			continue
		}
		if sellerType != "" && l.SellerType != sellerType {
			continue
		}
		filtered = append(filtered, l)
	}

	total := len(filtered)
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": filtered[offset:end],
		"total":    total,
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *APIHandler) GetListing(c *gin.Context) {
	listing, err := h.store.FindByBlocketID(c.Param("blocketID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *APIHandler) GetPriceHistory(c *gin.Context) {
	listing, err := h.store.FindByBlocketID(c.Param("blocketID"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if listing == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}

	events, err := h.store.PriceEvents(listing.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"blocket_id": listing.BlocketID,
		"events":     events,
		"count":      len(events),
	})
}

func (h *APIHandler) GetRuns(c *gin.Context) {
	runs, err := h.store.RecentRuns(intQuery(c, "limit", 50))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// GetMarketStats returns the daily aggregates for one date, defaulting to
// today.
func (h *APIHandler) GetMarketStats(c *gin.Context) {
	date := time.Now()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse("2006-01-02", d)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	stats, err := h.store.MarketStatsForDate(date)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"date":   date.Format("2006-01-02"),
		"stats":  stats,
		"groups": len(stats),
	})
}

func (h *APIHandler) Search(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not enabled"})
		return
	}

	req := search.SearchRequest{
		Query:  c.Query("q"),
		Limit:  int64(intQuery(c, "limit", 20)),
		Offset: int64(intQuery(c, "offset", 0)),
	}
	if f := c.QueryArray("filter"); len(f) > 0 {
		req.Filter = f
	}
	if s := c.QueryArray("sort"); len(s) > 0 {
		req.Sort = s
	}

	result, err := h.searcher.AdvancedSearch(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

// Filter runs a structured filter search over the index.
func (h *APIHandler) Filter(c *gin.Context) {
	if h.searcher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not enabled"})
		return
	}

	params := search.FilterParams{
		Query:      c.Query("q"),
		Region:     c.Query("region"),
		Fuel:       c.Query("fuel"),
		Gearbox:    c.Query("gearbox"),
		SellerType: c.Query("seller_type"),
		SortBy:     c.Query("sort_by"),
		Limit:      int64(intQuery(c, "limit", 20)),
	}
	if makes := c.Query("makes"); makes != "" {
		params.Makes = strings.Split(makes, ",")
	}
	if v := c.Query("min_price"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.MinPrice = &n
		}
	}
	if v := c.Query("max_price"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.MaxPrice = &n
		}
	}
	if v := c.Query("max_mileage"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.MaxMileage = &n
		}
	}
	if v := c.Query("min_year"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			params.MinYear = &n
		}
	}

	listings, err := h.searcher.FilterSearch(params)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}

// TriggerRun starts a polling run in the background.
func (h *APIHandler) TriggerRun(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	runType := c.DefaultQuery("type", models.RunTypeFull)
	if runType != models.RunTypeFull && runType != models.RunTypeLight {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be full or light"})
		return
	}

	log.Printf("API: manual %s run requested", runType)
	go func() {
		if err := h.scheduler.TriggerNow(context.Background(), runType); err != nil {
			log.Printf("API: manual run failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"message": "run started", "type": runType})
}

func (h *APIHandler) TriggerPurge(c *gin.Context) {
	if h.cleanupService == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cleanup not available"})
		return
	}

	result, err := h.cleanupService.Purge()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	v, err := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(fallback)))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
