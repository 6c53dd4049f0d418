package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/response"
)

type ChatHandler struct {
	chatService *app.ChatService
}

type ChatRequest struct {
	SessionID           string   `json:"session_id"`
	Collection          string   `json:"collection" binding:"required"`
	Query               string   `json:"query" binding:"required"`
	TopK                int      `json:"top_k"`
	SimilarityThreshold *float64 `json:"similarity_threshold"`
	UseCollectionModel  bool     `json:"use_collection_model"`
	Model               string   `json:"model"`
	Temperature         *float32 `json:"temperature"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

func (h *ChatHandler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.chatService.Chat(c.Request.Context(), app.ChatInput{
		SessionID:          req.SessionID,
		Collection:         req.Collection,
		Query:              req.Query,
		TopK:               req.TopK,
		Threshold:          req.SimilarityThreshold,
		UseCollectionModel: req.UseCollectionModel,
		Model:              req.Model,
		Temperature:        req.Temperature,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}
