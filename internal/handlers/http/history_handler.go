package http

import (
	"net/http"
	"strings"

	"meshcall/internal/core/ports"
	"meshcall/internal/core/services"
	"meshcall/pkg/errors"

	"github.com/gin-gonic/gin"
)

// HistoryHandler serves the signed-in user's meeting history. Routes must sit
// behind middleware.AuthMiddleware.
type HistoryHandler struct {
	history     ports.HistoryService
	authService services.AuthService
}

func NewHistoryHandler(history ports.HistoryService, authService services.AuthService) *HistoryHandler {
	return &HistoryHandler{
		history:     history,
		authService: authService,
	}
}

func (h *HistoryHandler) SetupRoutes(users *gin.RouterGroup) {
	users.GET("/get_all_activity", h.GetAllActivity)
	users.POST("/add_to_activity", h.AddToActivity)
}

type AddActivityRequest struct {
	MeetingCode string `json:"meeting_code" binding:"required,max=256"`
}

func (h *HistoryHandler) GetAllActivity(c *gin.Context) {
	userID, err := h.authService.GetUserFromContext(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	records, err := h.history.List(c.Request.Context(), userID)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func (h *HistoryHandler) AddToActivity(c *gin.Context) {
	userID, err := h.authService.GetUserFromContext(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	var req AddActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("meeting_code is required"))
		return
	}

	record, err := h.history.Record(c.Request.Context(), userID, strings.TrimSpace(req.MeetingCode))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, record)
}
