package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/response"
)

type QAHandler struct {
	qa *app.QAService
}

type GenerateQARequest struct {
	Chunks      []string `json:"chunks"`
	Count       int      `json:"count" binding:"required"`
	Difficulty  string   `json:"difficulty"`
	Temperature float32  `json:"temperature"`
	Keywords    []string `json:"keywords"`
	Model       string   `json:"model"`
}

type VectorizeQARequest struct {
	Pairs          []app.QAPair `json:"pairs" binding:"required"`
	Collection     string       `json:"collection" binding:"required"`
	EmbeddingModel string       `json:"embedding_model"`
}

func NewQAHandler(qa *app.QAService) *QAHandler {
	return &QAHandler{qa: qa}
}

func (h *QAHandler) Generate(c *gin.Context) {
	var req GenerateQARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	pairs, err := h.qa.Generate(c.Request.Context(), app.GenerateQAInput{
		Chunks:      req.Chunks,
		Count:       req.Count,
		Difficulty:  req.Difficulty,
		Temperature: req.Temperature,
		Keywords:    req.Keywords,
		Model:       req.Model,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"pairs": pairs})
}

func (h *QAHandler) Vectorize(c *gin.Context) {
	var req VectorizeQARequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.qa.Vectorize(c.Request.Context(), req.Pairs, req.Collection, req.EmbeddingModel)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

type ModelHandler struct {
	registry *ai.ModelRegistry
}

func NewModelHandler(registry *ai.ModelRegistry) *ModelHandler {
	return &ModelHandler{registry: registry}
}

func (h *ModelHandler) List(c *gin.Context) {
	response.OK(c, h.registry.List())
}
