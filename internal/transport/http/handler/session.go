package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/model"
	"gopherai-rag/internal/transport/http/response"
)

type SessionHandler struct {
	sessions *app.SessionService
}

type CreateSessionRequest struct {
	Name           string   `json:"name" binding:"max=128"`
	Model          *string  `json:"model"`
	EmbeddingModel *string  `json:"embedding_model"`
	Temperature    *float32 `json:"temperature"`
	ContextWindow  *int     `json:"context_window_length"`
}

type UpdateSessionRequest struct {
	Name           *string  `json:"name" binding:"omitempty,max=128"`
	Model          *string  `json:"model"`
	EmbeddingModel *string  `json:"embedding_model"`
	Temperature    *float32 `json:"temperature"`
	ContextWindow  *int     `json:"context_window_length"`
}

type CleanupRequest struct {
	Days int `json:"days" binding:"required"`
}

func NewSessionHandler(sessions *app.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Create(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	session, err := h.sessions.Create(c.Request.Context(), req.Name, app.Preferences{
		Model:          req.Model,
		EmbeddingModel: req.EmbeddingModel,
		Temperature:    req.Temperature,
		ContextWindow:  req.ContextWindow,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) List(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, sessions)
}

func (h *SessionHandler) Get(c *gin.Context) {
	session, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, session)
}

func (h *SessionHandler) Update(c *gin.Context) {
	var req UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	var (
		session *model.Session
		err     error
	)
	if req.Name != nil {
		if session, err = h.sessions.Rename(ctx, id, *req.Name); err != nil {
			response.Fail(c, err)
			return
		}
	}
	prefs := app.Preferences{
		Model:          req.Model,
		EmbeddingModel: req.EmbeddingModel,
		Temperature:    req.Temperature,
		ContextWindow:  req.ContextWindow,
	}
	if prefs.Model != nil || prefs.EmbeddingModel != nil || prefs.Temperature != nil || prefs.ContextWindow != nil {
		if session, err = h.sessions.UpdatePreferences(ctx, id, prefs); err != nil {
			response.Fail(c, err)
			return
		}
	}
	if session == nil {
		if session, err = h.sessions.Get(ctx, id); err != nil {
			response.Fail(c, err)
			return
		}
	}
	response.OK(c, session)
}

func (h *SessionHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	if err := h.sessions.Delete(c.Request.Context(), id); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_session_id": id})
}

func (h *SessionHandler) Messages(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	messages, err := h.sessions.Messages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, messages)
}

func (h *SessionHandler) Cleanup(c *gin.Context) {
	var req CleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	removed, err := h.sessions.CleanupOlderThan(c.Request.Context(), req.Days)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"removed": removed, "days": req.Days})
}
