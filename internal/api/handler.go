package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"workshop-sync/internal/models"
	"workshop-sync/internal/session"
	"workshop-sync/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler exposes the session façade over HTTP for the dashboard UI.
type Handler struct {
	session *session.Session
}

// NewHandler creates a new HTTP handler.
func NewHandler(s *session.Session) *Handler {
	return &Handler{session: s}
}

// SetupRoutes sets up HTTP routes.
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/requests", h.listRequests)
		v1.POST("/requests/load-more", h.loadMore)
		v1.GET("/requests/search", h.searchRequests)
		v1.POST("/requests/clear-search", h.clearSearch)
		v1.GET("/requests/range", h.requestsByRange)
		v1.POST("/requests/clear-range", h.clearRange)
		v1.POST("/requests", h.createRequest)
		v1.PATCH("/requests/:id", h.updateRequest)
		v1.POST("/requests/:id/activate", h.activateRequest)
		v1.POST("/requests/:id/advance", h.advanceRequest)
		v1.POST("/requests/:id/stamps/:stamp", h.stampRequest)
		v1.DELETE("/requests/:id", h.deleteRequest)

		v1.GET("/clients/:id", h.getClient)
		v1.GET("/makes", h.listMakes)
		v1.GET("/makes/:id/models", h.listModels)

		m := h.session.Mutate
		registerCRUD(v1.Group("/clients"), m.CreateClient, m.UpdateClient, m.DeleteClient)
		registerCRUD(v1.Group("/cars"), m.CreateCar, m.UpdateCar, m.DeleteCar)
		registerCRUD(v1.Group("/brokers"), m.CreateBroker, m.UpdateBroker, m.DeleteBroker)
		registerCRUD(v1.Group("/employees"), m.CreateEmployee, m.UpdateEmployee, m.DeleteEmployee)
		registerCRUD(v1.Group("/inspection-types"), m.CreateInspectionType, m.UpdateInspectionType, m.DeleteInspectionType)
		registerCRUD(v1.Group("/expenses"), m.CreateExpense, m.UpdateExpense, m.DeleteExpense)
		registerCRUD(v1.Group("/revenues"), m.CreateRevenue, m.UpdateRevenue, m.DeleteRevenue)
		registerCRUD(v1.Group("/reservations"), m.CreateReservation, m.UpdateReservation, m.DeleteReservation)
	}
}

func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// listRequests returns whatever the session currently displays: an active
// overlay or the primary feed.
func (h *Handler) listRequests(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"items":    h.session.Visible(),
		"has_more": h.session.Feed.HasMore(),
		"loading":  h.session.Feed.Loading(),
	})
}

func (h *Handler) loadMore(c *gin.Context) {
	if err := h.session.LoadMore(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load page", "details": err.Error()})
		return
	}
	h.listRequests(c)
}

func (h *Handler) searchRequests(c *gin.Context) {
	query := c.Query("q")
	if err := h.session.Overlay.SearchNow(c.Request.Context(), query); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Search failed", "details": err.Error()})
		return
	}
	h.listRequests(c)
}

func (h *Handler) clearSearch(c *gin.Context) {
	h.session.Overlay.ClearSearch()
	h.listRequests(c)
}

func (h *Handler) clearRange(c *gin.Context) {
	h.session.Overlay.ClearRange()
	h.listRequests(c)
}

func (h *Handler) requestsByRange(c *gin.Context) {
	start, err := time.Parse(time.RFC3339, c.Query("start"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid start"})
		return
	}
	end, err := time.Parse(time.RFC3339, c.Query("end"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid end"})
		return
	}

	if err := h.session.Overlay.ByDateRange(c.Request.Context(), start, end); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load range", "details": err.Error()})
		return
	}
	h.listRequests(c)
}

func (h *Handler) createRequest(c *gin.Context) {
	var draft session.RequestDraft
	if err := c.ShouldBindJSON(&draft); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	req, err := h.session.Mutate.CreateRequest(c.Request.Context(), draft)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, req)
}

func (h *Handler) updateRequest(c *gin.Context) {
	var patch models.Row
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	note, _ := patch["note"].(string)
	delete(patch, "note")

	req, err := h.session.Mutate.UpdateRequest(c.Request.Context(), c.Param("id"), patch, note)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) activateRequest(c *gin.Context) {
	var body struct {
		PaymentType string `json:"payment_type" binding:"required"`
		SplitCash   int64  `json:"split_cash"`
		SplitCard   int64  `json:"split_card"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	req, err := h.session.Mutate.ActivateRequest(c.Request.Context(), c.Param("id"), body.PaymentType, body.SplitCash, body.SplitCard)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Failed to activate request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) advanceRequest(c *gin.Context) {
	req, err := h.session.Mutate.AdvanceRequestStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "Failed to advance request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) stampRequest(c *gin.Context) {
	req, err := h.session.Mutate.StampReport(c.Request.Context(), c.Param("id"), c.Param("stamp"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to stamp request", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, req)
}

func (h *Handler) deleteRequest(c *gin.Context) {
	if err := h.session.Mutate.DeleteRequest(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete request", "details": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getClient(c *gin.Context) {
	client, err := h.session.Resolver().Client(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load client", "details": err.Error()})
		return
	}
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Client not found"})
		return
	}
	c.JSON(http.StatusOK, client)
}

func (h *Handler) listMakes(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": h.session.Caches.Makes.GetAll()})
}

// listModels lazily pages in one make's models on first access.
func (h *Handler) listModels(c *gin.Context) {
	makeID := c.Param("id")
	if err := h.session.Resolver().EnsureModels(c.Request.Context(), makeID); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to load models", "details": err.Error()})
		return
	}

	var items []models.CarModel
	for _, m := range h.session.Caches.Models.GetAll() {
		if m.MakeID == makeID {
			items = append(items, m)
		}
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// registerCRUD wires the generic create/update/delete shape shared by the
// simple lookup entities.
func registerCRUD[T any](
	group *gin.RouterGroup,
	create func(ctx context.Context, payload models.Row) (T, error),
	update func(ctx context.Context, id string, patch models.Row) (T, error),
	remove func(ctx context.Context, id string) error,
) {
	group.POST("", func(c *gin.Context) {
		var payload models.Row
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		item, err := create(c.Request.Context(), payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Create failed", "details": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, item)
	})

	group.PATCH("/:id", func(c *gin.Context) {
		var patch models.Row
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
			return
		}
		item, err := update(c.Request.Context(), c.Param("id"), patch)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Update failed", "details": err.Error()})
			return
		}
		c.JSON(http.StatusOK, item)
	})

	group.DELETE("/:id", func(c *gin.Context) {
		if err := remove(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Delete failed", "details": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

// prometheusMiddleware collects HTTP metrics.
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
