package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/response"
)

type CollectionHandler struct {
	collections  *app.CollectionService
	defaultModel string
}

type CreateCollectionRequest struct {
	Name           string `json:"name" binding:"required,max=128"`
	EmbeddingModel string `json:"embedding_model"`
	Description    string `json:"description" binding:"max=512"`
}

func NewCollectionHandler(collections *app.CollectionService, defaultModel string) *CollectionHandler {
	return &CollectionHandler{collections: collections, defaultModel: defaultModel}
}

func (h *CollectionHandler) Create(c *gin.Context) {
	var req CreateCollectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	modelID := req.EmbeddingModel
	if modelID == "" {
		modelID = h.defaultModel
	}
	collection, err := h.collections.Ensure(c.Request.Context(), req.Name, modelID, req.Description)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, collection)
}

func (h *CollectionHandler) List(c *gin.Context) {
	collections, err := h.collections.List(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, collections)
}

func (h *CollectionHandler) Get(c *gin.Context) {
	info, err := h.collections.Describe(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, info)
}

func (h *CollectionHandler) Delete(c *gin.Context) {
	name := c.Param("name")
	if err := h.collections.Delete(c.Request.Context(), name); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_collection": name})
}
