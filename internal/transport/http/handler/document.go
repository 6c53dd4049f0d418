package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/response"
)

type DocumentHandler struct {
	ingest    *app.IngestService
	retriever *app.Retriever
}

type IngestDocumentRequest struct {
	DocumentID     string            `json:"document_id" binding:"required,max=255"`
	Text           string            `json:"text"`
	FileName       string            `json:"file_name" binding:"max=255"`
	EmbeddingModel string            `json:"embedding_model"`
	ChunkSize      int               `json:"chunk_size"`
	ChunkOverlap   int               `json:"chunk_overlap"`
	Async          bool              `json:"async"`
	Metadata       map[string]string `json:"metadata"`
}

type SearchRequest struct {
	Query     string   `json:"query" binding:"required"`
	TopK      int      `json:"top_k"`
	Threshold *float64 `json:"threshold"`
}

func NewDocumentHandler(ingest *app.IngestService, retriever *app.Retriever) *DocumentHandler {
	return &DocumentHandler{ingest: ingest, retriever: retriever}
}

func (h *DocumentHandler) Ingest(c *gin.Context) {
	var req IngestDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	in := app.IngestInput{
		DocumentID:     req.DocumentID,
		Collection:     c.Param("name"),
		EmbeddingModel: req.EmbeddingModel,
		Text:           req.Text,
		FileName:       req.FileName,
		ChunkSize:      req.ChunkSize,
		ChunkOverlap:   req.ChunkOverlap,
		Extra:          req.Metadata,
	}
	if req.Async {
		queued, err := h.ingest.Enqueue(c.Request.Context(), in)
		if err != nil {
			response.Fail(c, err)
			return
		}
		response.Accepted(c, queued)
		return
	}
	result, err := h.ingest.Ingest(c.Request.Context(), in)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.ingest.ListDocuments(c.Request.Context(), c.Param("name"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, docs)
}

func (h *DocumentHandler) Delete(c *gin.Context) {
	docID := c.Param("doc")
	if err := h.ingest.DeleteDocument(c.Request.Context(), c.Param("name"), docID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"deleted_document_id": docID})
}

func (h *DocumentHandler) Search(c *gin.Context) {
	var req SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	result, err := h.retriever.Search(c.Request.Context(), app.SearchInput{
		Collection: c.Param("name"),
		Query:      req.Query,
		TopK:       req.TopK,
		Threshold:  req.Threshold,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}
