package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// UserStore is the subset of the task repository the user endpoints need
type UserStore interface {
	UserLookup
	CreateUser(ctx context.Context, user *tasks.User) error
	ListUsers(ctx context.Context) ([]tasks.User, error)
}

type Handler struct {
	users  UserStore
	logger *zap.Logger
}

func NewHandler(users UserStore, logger *zap.Logger) *Handler {
	return &Handler{users: users, logger: logger}
}

type createUserRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
	Role  string `json:"role" binding:"required"`
}

// RegisterRoutes registers user routes on an authenticated group
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/me", h.Me)
	users := rg.Group("/users", RequireRole(workflows.RoleSuperUser))
	{
		users.POST("", h.CreateUser)
		users.GET("", h.ListUsers)
	}
}

func (h *Handler) Me(c *gin.Context) {
	user, ok := CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, user)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	role, err := workflows.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	user := &tasks.User{Name: strings.TrimSpace(req.Name), Email: strings.TrimSpace(req.Email), Role: role}
	if err := h.users.CreateUser(c.Request.Context(), user); err != nil {
		h.logger.Error("Failed to create user", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("User created",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)))
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, users)
}
