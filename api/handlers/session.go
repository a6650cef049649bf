// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/remote-agent-terminal/ipmbridge/internal/bridge"
	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

// defaultHistoryLimit bounds the history returned by List.
const defaultHistoryLimit = 50

// SessionHandler handles HTTP requests for session management.
type SessionHandler struct {
	service *bridge.Service
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(service *bridge.Service) *SessionHandler {
	return &SessionHandler{
		service: service,
	}
}

// SessionResponse represents a live session in API responses.
type SessionResponse struct {
	Key             string `json:"key"`
	RecordID        string `json:"recordId"`
	Server          string `json:"server"`
	Namespace       string `json:"namespace"`
	State           string `json:"state"`
	Sequence        int    `json:"sequence"`
	LastCommand     string `json:"lastCommand,omitempty"`
	ProtocolVersion int    `json:"protocolVersion,omitempty"`
	RemoteVersion   string `json:"remoteVersion,omitempty"`
	LogFilePath     string `json:"logFilePath"`
	Panels          int    `json:"panels"`
	Duration        string `json:"duration"`
	CreatedAt       string `json:"createdAt"`
}

// ListResponse is the body of GET /api/sessions.
type ListResponse struct {
	Sessions []*SessionResponse      `json:"sessions"`
	History  []*model.SessionRecord `json:"history"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (h *SessionHandler) toSessionResponse(live *bridge.Live) *SessionResponse {
	sess := live.Session
	protocolVersion, remoteVersion := sess.RemoteVersion()
	panels := 0
	if hub := h.service.Hubs().Get(sess.Key()); hub != nil {
		panels = hub.ClientCount()
	}
	return &SessionResponse{
		Key:             sess.Key(),
		RecordID:        live.RecordID,
		Server:          sess.Target().Name,
		Namespace:       sess.Namespace(),
		State:           sess.State().String(),
		Sequence:        sess.Sequence(),
		LastCommand:     sess.LastCommand(),
		ProtocolVersion: protocolVersion,
		RemoteVersion:   remoteVersion,
		LogFilePath:     live.LogFilePath,
		Panels:          panels,
		Duration:        formatDuration(time.Since(live.CreatedAt)),
		CreatedAt:       live.CreatedAt.Format(time.RFC3339),
	}
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	return d.Round(time.Second).String()
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendOpenError maps a failure of bridge.Service.Open to a response.
func sendOpenError(c *gin.Context, err error) {
	var openErr *bridge.OpenError
	errors.As(err, &openErr)

	switch {
	case errors.Is(err, model.ErrNamespaceRequired):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case openErr != nil && errors.Is(err, model.ErrServerNotFound):
		sendError(c, http.StatusNotFound, "SERVER_NOT_FOUND", openErr.Message)
	case errors.Is(err, model.ErrServerNotFound):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case openErr != nil && errors.Is(err, model.ErrAuth):
		sendError(c, http.StatusBadGateway, "AUTH_FAILED", openErr.Message)
	case openErr != nil && errors.Is(err, model.ErrConnect):
		sendError(c, http.StatusBadGateway, "CONNECT_FAILED", openErr.Message)
	case openErr != nil:
		sendError(c, http.StatusBadGateway, "OPEN_FAILED", openErr.Message)
	default:
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to open session: "+err.Error())
	}
}

// Open handles POST /api/sessions - opens a session or returns the one
// already open for the same server and namespace.
func (h *SessionHandler) Open(c *gin.Context) {
	var req model.OpenSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	live, created, err := h.service.Open(c.Request.Context(), req.Server, req.Namespace)
	if err != nil {
		sendOpenError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, h.toSessionResponse(live))
}

// List handles GET /api/sessions - lists live sessions and recent history.
func (h *SessionHandler) List(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := h.service.History(c.Request.Context(), limit)
	if err != nil {
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list sessions: "+err.Error())
		return
	}

	live := h.service.List()
	response := ListResponse{
		Sessions: make([]*SessionResponse, len(live)),
		History:  history,
	}
	for i, l := range live {
		response.Sessions[i] = h.toSessionResponse(l)
	}

	c.JSON(http.StatusOK, response)
}

// Get handles GET /api/sessions/:key - gets a live session.
func (h *SessionHandler) Get(c *gin.Context) {
	key := c.Param("key")
	live, ok := h.service.Get(key)
	if !ok {
		sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+key+" not found")
		return
	}
	c.JSON(http.StatusOK, h.toSessionResponse(live))
}

// Delete handles DELETE /api/sessions/:key - closes a live session.
func (h *SessionHandler) Delete(c *gin.Context) {
	key := c.Param("key")
	if err := h.service.Close(key); err != nil {
		if errors.Is(err, model.ErrSessionNotFound) {
			sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+key+" not found")
			return
		}
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to close session: "+err.Error())
		return
	}
	c.Status(http.StatusNoContent)
}

// GetLogs handles GET /api/sessions/:key/logs - downloads the asciinema
// transcript of a live session, or of a past session by record ID.
func (h *SessionHandler) GetLogs(c *gin.Context) {
	key := c.Param("key")

	var id, path string
	if live, ok := h.service.Get(key); ok {
		id, path = live.RecordID, live.LogFilePath
	} else {
		rec, err := h.service.Record(c.Request.Context(), key)
		if err != nil {
			if errors.Is(err, model.ErrSessionNotFound) {
				sendError(c, http.StatusNotFound, "SESSION_NOT_FOUND", "Session "+key+" not found")
				return
			}
			sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get session: "+err.Error())
			return
		}
		id, path = rec.ID, rec.LogFilePath
	}

	if path == "" {
		sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Log file not found for session "+key)
		return
	}
	if _, err := os.Stat(path); err != nil {
		sendError(c, http.StatusNotFound, "LOG_NOT_FOUND", "Log file not found for session "+key)
		return
	}

	c.Header("Content-Type", "application/x-asciicast")
	c.Header("Content-Disposition", "attachment; filename="+id+".cast")
	c.File(path)
}

// RegisterRoutes registers the session handler routes on a Gin router group.
func (h *SessionHandler) RegisterRoutes(rg *gin.RouterGroup) {
	sessions := rg.Group("/sessions")
	{
		sessions.POST("", h.Open)
		sessions.GET("", h.List)
		sessions.GET("/:key", h.Get)
		sessions.DELETE("/:key", h.Delete)
		sessions.GET("/:key/logs", h.GetLogs)
	}
}
