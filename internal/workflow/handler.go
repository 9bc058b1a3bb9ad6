package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"infraflow/task-portal/task-portal-backend/internal/auth"
	"infraflow/task-portal/task-portal-backend/internal/export"
	"infraflow/task-portal/task-portal-backend/internal/tasks"
	"infraflow/task-portal/task-portal-backend/pkg/workflows"
)

// maxUploadBytes bounds a single multipart document upload
const maxUploadBytes = 32 << 20

// Handler exposes the engine's intents over HTTP
type Handler struct {
	engine *Engine
	logger *zap.Logger
}

// NewHandler creates a new workflow handler
func NewHandler(engine *Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logger,
	}
}

type assignRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// RegisterRoutes registers task routes on an authenticated group
func (h *Handler) RegisterRoutes(router *gin.RouterGroup) {
	t := router.Group("/tasks")
	{
		t.POST("", h.createTask)
		t.GET("", h.listTasks)
		t.GET("/:id", h.getTask)

		t.POST("/:id/assign", h.assign)
		t.POST("/:id/reassign", h.reassign)
		t.POST("/:id/submit", h.submit)
		t.POST("/:id/approve", h.approve)
		t.POST("/:id/reject", h.reject)
		t.POST("/:id/complete", h.complete)
		t.POST("/:id/abandon", h.abandon)

		t.POST("/:id/documents", h.uploadDocument)
		t.GET("/:id/documents/:docId", h.downloadDocument)
		t.GET("/:id/audit", h.history)
		t.GET("/:id/audit/export", h.exportHistory)
	}
}

// createTask handles POST /api/v1/tasks
func (h *Handler) createTask(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": Code(ErrInvalidInput)})
		return
	}
	task, err := h.engine.CreateTask(c.Request.Context(), actor, req)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// listTasks handles GET /api/v1/tasks
func (h *Handler) listTasks(c *gin.Context) {
	var filter tasks.TaskFilter
	if s := c.Query("status"); s != "" {
		status, err := workflows.ParseStatus(s)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
			return
		}
		filter.Status = &status
	}
	if a := c.Query("assigned_to"); a != "" {
		id, err := uuid.Parse(a)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: invalid assigned_to", ErrInvalidInput))
			return
		}
		filter.AssignedTo = &id
	}
	filter.ActiveOnly = c.Query("active") == "true"
	filter.Limit = h.getIntParam(c, "limit", 50)
	filter.Offset = h.getIntParam(c, "offset", 0)

	list, err := h.engine.ListTasks(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": list, "count": len(list)})
}

// getTask handles GET /api/v1/tasks/:id
func (h *Handler) getTask(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, err := h.engine.GetTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) assign(c *gin.Context) {
	h.assignment(c, h.engine.Assign)
}

func (h *Handler) reassign(c *gin.Context) {
	h.assignment(c, h.engine.Reassign)
}

func (h *Handler) assignment(c *gin.Context, intent func(ctx context.Context, actor *tasks.User, taskID, userID uuid.UUID) (*tasks.Task, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		h.fail(c, fmt.Errorf("%w: invalid user_id", ErrInvalidInput))
		return
	}
	task, err := intent(c.Request.Context(), actor, id, userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) submit(c *gin.Context) {
	h.simple(c, h.engine.Submit)
}

func (h *Handler) approve(c *gin.Context) {
	h.simple(c, h.engine.Approve)
}

func (h *Handler) complete(c *gin.Context) {
	h.simple(c, h.engine.Complete)
}

func (h *Handler) reject(c *gin.Context) {
	h.withReason(c, h.engine.Reject)
}

func (h *Handler) abandon(c *gin.Context) {
	h.withReason(c, h.engine.Abandon)
}

func (h *Handler) simple(c *gin.Context, intent func(ctx context.Context, actor *tasks.User, taskID uuid.UUID) (*tasks.Task, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	task, err := intent(c.Request.Context(), actor, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) withReason(c *gin.Context, intent func(ctx context.Context, actor *tasks.User, taskID uuid.UUID, reason string) (*tasks.Task, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	var req reasonRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
			return
		}
	}
	task, err := intent(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// uploadDocument handles POST /api/v1/tasks/:id/documents as multipart form
// data with fields file, document_type and comments
func (h *Handler) uploadDocument(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	id, ok := h.taskID(c)
	if !ok {
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.fail(c, fmt.Errorf("%w: file is required", ErrInvalidInput))
		return
	}
	docType, err := workflows.ParseDocumentType(c.PostForm("document_type"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}
	defer file.Close()

	doc, err := h.engine.AcknowledgeUpload(c.Request.Context(), actor, UploadRequest{
		TaskID:       id,
		DocumentType: docType,
		Filename:     fileHeader.Filename,
		Comments:     c.PostForm("comments"),
		Size:         fileHeader.Size,
		Body:         file,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// downloadDocument handles GET /api/v1/tasks/:id/documents/:docId
func (h *Handler) downloadDocument(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	docID, err := uuid.Parse(c.Param("docId"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: invalid document id", ErrInvalidInput))
		return
	}
	doc, body, err := h.engine.OpenDocument(c.Request.Context(), id, docID)
	if err != nil {
		h.fail(c, err)
		return
	}
	defer body.Close()

	c.Header("Content-Disposition", "attachment; filename="+strconv.Quote(doc.Filename))
	c.DataFromReader(http.StatusOK, doc.Size, "application/octet-stream", body, nil)
}

// history handles GET /api/v1/tasks/:id/audit
func (h *Handler) history(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	entries, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": id, "entries": entries})
}

// exportHistory handles GET /api/v1/tasks/:id/audit/export?format=csv|xlsx|pdf
func (h *Handler) exportHistory(c *gin.Context) {
	id, ok := h.taskID(c)
	if !ok {
		return
	}
	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: %v", ErrInvalidInput, err))
		return
	}
	task, err := h.engine.GetTask(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.engine.History(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteAuditTrail(&buf, format, task, entries); err != nil {
		h.logger.Error("Failed to export audit trail", zap.String("task_id", id.String()), zap.Error(err))
		h.fail(c, err)
		return
	}
	filename := fmt.Sprintf("task-%s-audit.%s", id, format)
	c.Header("Content-Disposition", "attachment; filename="+filename)
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

func (h *Handler) actor(c *gin.Context) (*tasks.User, bool) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil, false
	}
	return user, true
}

func (h *Handler) taskID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.fail(c, fmt.Errorf("%w: invalid task id", ErrInvalidInput))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) getIntParam(c *gin.Context, key string, defaultVal int) int {
	if val := c.Query(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil && i >= 0 {
			return i
		}
	}
	return defaultVal
}

// fail writes err as {"error","code"} with the status its kind maps to
func (h *Handler) fail(c *gin.Context, err error) {
	code := Code(err)
	body := gin.H{"error": err.Error(), "code": code}

	var gateErr *DocumentGateError
	if errors.As(err, &gateErr) {
		body["document_type"] = gateErr.Required
	}
	c.JSON(StatusFor(err), body)
}

// StatusFor maps an error kind onto an HTTP status
func StatusFor(err error) int {
	switch Code(err) {
	case "INVALID_TRANSITION", "STALE_STATE":
		return http.StatusConflict
	case "ROLE_MISMATCH", "DOCUMENT_GATE_BLOCKED":
		return http.StatusUnprocessableEntity
	case "MISSING_REASON", "INVALID_INPUT":
		return http.StatusBadRequest
	case "NOT_FOUND":
		return http.StatusNotFound
	case "FORBIDDEN":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}
