package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"restaurant-pos/internal/models"
	"restaurant-pos/internal/service"
	"restaurant-pos/internal/util"

	"github.com/araddon/dateparse"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds everything the HTTP layer calls into
type Deps struct {
	Sales    *service.SaleService
	Ledger   *service.StockLedger
	Kitchen  *service.KitchenWorkflow
	Shifts   *service.ShiftAccount
	Tables   *service.TableOccupancy
	Auth     *Authenticator
	Ready    Pinger
	Location *time.Location
}

// Handler contains HTTP handlers
type Handler struct {
	sales   *service.SaleService
	ledger  *service.StockLedger
	kitchen *service.KitchenWorkflow
	shifts  *service.ShiftAccount
	tables  *service.TableOccupancy
	auth    *Authenticator
	ready   Pinger
	loc     *time.Location
}

// NewHandler creates a new HTTP handler
func NewHandler(d Deps) *Handler {
	loc := d.Location
	if loc == nil {
		loc = time.Local
	}
	return &Handler{
		sales:   d.Sales,
		ledger:  d.Ledger,
		kitchen: d.Kitchen,
		shifts:  d.Shifts,
		tables:  d.Tables,
		auth:    d.Auth,
		ready:   d.Ready,
		loc:     loc,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a := h.auth
	v1 := router.Group("/api/v1")
	{
		v1.POST("/sales", a.allow(CapSales), h.createSale)
		v1.GET("/sales/:id", a.enforce(CapSales), h.getSale)
		v1.POST("/sales/:id/void", a.allow(CapVoid), h.voidSale)

		v1.POST("/held-orders", a.allow(CapSales), h.holdOrder)
		v1.GET("/held-orders", a.enforce(CapSales), h.listHeldOrders)
		v1.POST("/held-orders/:id/resume", a.allow(CapSales), h.resumeHeldOrder)
		v1.DELETE("/held-orders/:id", a.allow(CapSales), h.deleteHeldOrder)

		v1.GET("/kitchen/orders", a.enforce(CapKitchen), h.kitchenBoard)
		v1.PUT("/kitchen/orders/:id/status", a.allow(CapKitchen), h.setKitchenStatus)
		v1.GET("/kitchen/orders/:id/log", a.enforce(CapKitchen), h.kitchenLog)
		v1.GET("/kitchen/prep-times", a.enforce(CapKitchen), h.prepTimes)

		v1.POST("/products/:id/adjust", a.allow(CapInventory), h.adjustStock)
		v1.GET("/products/:id/movements", a.enforce(CapInventory), h.listMovements)
		v1.POST("/products/:id/reconcile", a.enforce(CapInventory), h.reconcile)
		v1.GET("/movements", a.enforce(CapInventory), h.listMovements)

		v1.POST("/shifts", a.allow(CapShifts), h.openShift)
		v1.GET("/shifts/current", a.enforce(CapShifts), h.currentShift)
		v1.POST("/shifts/:id/close", a.allow(CapShifts), h.closeShift)

		v1.GET("/tables", a.enforce(CapTables), h.listTables)
		v1.POST("/tables/:number/occupy", a.allow(CapTables), h.occupyTable)
		v1.POST("/tables/:number/release", a.allow(CapTables), h.releaseTable)
		v1.POST("/tables/:number/reserve", a.allow(CapTables), h.reserveTable)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready once the database answers
func (h *Handler) readinessCheck(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unavailable",
				"time":   time.Now().Unix(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid id %q", c.Param("id"))
		return 0, false
	}
	return id, true
}

// bindJSON decodes the request body. An empty body is accepted when optional.
func bindJSON(c *gin.Context, dst interface{}, optional bool) bool {
	if optional && c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(dst); err != nil {
		badRequest(c, "invalid request body: %v", err)
		return false
	}
	return true
}

// createSale handles sale creation
func (h *Handler) createSale(c *gin.Context) {
	var req service.CreateSaleRequest
	if !bindJSON(c, &req, false) {
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	sale, err := h.sales.CreateSale(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sale)
}

// getSale handles get sale by ID
func (h *Handler) getSale(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	sale, err := h.sales.GetSale(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) voidSale(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if !bindJSON(c, &body, true) {
		return
	}

	sale, err := h.sales.VoidSale(c.Request.Context(), actorFrom(c), id, body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) holdOrder(c *gin.Context) {
	var req service.CreateSaleRequest
	if !bindJSON(c, &req, false) {
		return
	}
	held, err := h.sales.HoldOrder(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":         held.ID,
		"created_at": held.CreatedAt,
	})
}

func (h *Handler) listHeldOrders(c *gin.Context) {
	views, err := h.sales.ListHeldOrders(c.Request.Context(), actorFrom(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"held_orders": views})
}

func (h *Handler) resumeHeldOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	req, err := h.sales.ResumeHeldOrder(c.Request.Context(), actorFrom(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) deleteHeldOrder(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.sales.DeleteHeldOrder(c.Request.Context(), actorFrom(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) kitchenBoard(c *gin.Context) {
	tickets, err := h.kitchen.PendingOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": tickets})
}

func (h *Handler) setKitchenStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if !bindJSON(c, &body, false) {
		return
	}
	status, err := models.ParseKitchenStatus(body.Status)
	if err != nil {
		badRequest(c, "%v", err)
		return
	}

	sale, err := h.kitchen.SetStatus(c.Request.Context(), actorFrom(c), id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sale)
}

func (h *Handler) kitchenLog(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	logs, err := h.kitchen.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"log": logs})
}

// parseTime accepts any layout dateparse understands, in the business time zone
func (h *Handler) parseTime(v string) (time.Time, error) {
	return dateparse.ParseIn(v, h.loc)
}

func (h *Handler) prepTimes(c *gin.Context) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	var err error
	if v := c.Query("from"); v != "" {
		if from, err = h.parseTime(v); err != nil {
			badRequest(c, "invalid from: %v", err)
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = h.parseTime(v); err != nil {
			badRequest(c, "invalid to: %v", err)
			return
		}
	}

	stats, err := h.kitchen.PrepTimeStats(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) adjustStock(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req service.AdjustRequest
	if !bindJSON(c, &req, false) {
		return
	}
	req.ProductID = id

	result, err := h.ledger.AdjustStock(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// listMovements serves one product's movements, or every product's when the
// route has no id
func (h *Handler) listMovements(c *gin.Context) {
	var id int64
	if c.Param("id") != "" {
		var ok bool
		if id, ok = idParam(c); !ok {
			return
		}
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		badRequest(c, "invalid limit %q", c.Query("limit"))
		return
	}

	cursor, err := h.ledger.ListMovements(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	movements, err := cursor.Collect(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"movements": movements})
}

func (h *Handler) reconcile(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	result, err := h.ledger.Reconcile(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) openShift(c *gin.Context) {
	var body struct {
		OpeningBalance decimal.Decimal `json:"opening_balance"`
	}
	if !bindJSON(c, &body, true) {
		return
	}
	shift, err := h.shifts.Open(c.Request.Context(), actorFrom(c), body.OpeningBalance)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, shift)
}

func (h *Handler) currentShift(c *gin.Context) {
	summary, err := h.shifts.Current(c.Request.Context(), actorFrom(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) closeShift(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var body struct {
		PhysicalCash *decimal.Decimal `json:"physical_cash"`
	}
	if !bindJSON(c, &body, false) {
		return
	}
	if body.PhysicalCash == nil {
		badRequest(c, "physical_cash is required")
		return
	}

	summary, err := h.shifts.Close(c.Request.Context(), actorFrom(c), id, *body.PhysicalCash)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *Handler) listTables(c *gin.Context) {
	tables, err := h.tables.List(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tables": tables})
}

func (h *Handler) occupyTable(c *gin.Context) {
	var body struct {
		Notes string `json:"notes"`
	}
	if !bindJSON(c, &body, true) {
		return
	}
	table, err := h.tables.Occupy(c.Request.Context(), actorFrom(c), c.Param("number"), body.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

func (h *Handler) releaseTable(c *gin.Context) {
	table, err := h.tables.Release(c.Request.Context(), actorFrom(c), c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

func (h *Handler) reserveTable(c *gin.Context) {
	var body struct {
		Customer string `json:"customer"`
		Time     string `json:"time"`
		Notes    string `json:"notes"`
	}
	if !bindJSON(c, &body, false) {
		return
	}

	req := service.ReserveRequest{Customer: body.Customer, Notes: body.Notes}
	if body.Time != "" {
		at, err := h.parseTime(body.Time)
		if err != nil {
			badRequest(c, "invalid reservation time: %v", err)
			return
		}
		req.Time = at
	}

	table, err := h.tables.Reserve(c.Request.Context(), actorFrom(c), c.Param("number"), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, table)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger writes one structured line per request
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		util.GetLogger().Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
