package http

import (
	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/transport/http/handler"
)

type Services struct {
	Collections  *app.CollectionService
	Ingest       *app.IngestService
	Sessions     *app.SessionService
	Retriever    *app.Retriever
	Chat         *app.ChatService
	QA           *app.QAService
	Models       *ai.ModelRegistry
	DefaultModel string
}

func registerAPI(v1 *gin.RouterGroup, svc Services) {
	modelHandler := handler.NewModelHandler(svc.Models)
	collectionHandler := handler.NewCollectionHandler(svc.Collections, svc.DefaultModel)
	documentHandler := handler.NewDocumentHandler(svc.Ingest, svc.Retriever)
	chatHandler := handler.NewChatHandler(svc.Chat)
	sessionHandler := handler.NewSessionHandler(svc.Sessions)
	qaHandler := handler.NewQAHandler(svc.QA)

	v1.GET("/models", modelHandler.List)

	collections := v1.Group("/collections")
	collections.POST("", collectionHandler.Create)
	collections.GET("", collectionHandler.List)
	collections.GET("/:name", collectionHandler.Get)
	collections.DELETE("/:name", collectionHandler.Delete)
	collections.POST("/:name/documents", documentHandler.Ingest)
	collections.GET("/:name/documents", documentHandler.List)
	collections.DELETE("/:name/documents/:doc", documentHandler.Delete)
	collections.POST("/:name/search", documentHandler.Search)

	v1.POST("/chat", chatHandler.Chat)

	sessions := v1.Group("/sessions")
	sessions.POST("", sessionHandler.Create)
	sessions.GET("", sessionHandler.List)
	sessions.POST("/cleanup", sessionHandler.Cleanup)
	sessions.GET("/:id", sessionHandler.Get)
	sessions.PATCH("/:id", sessionHandler.Update)
	sessions.DELETE("/:id", sessionHandler.Delete)
	sessions.GET("/:id/messages", sessionHandler.Messages)

	qa := v1.Group("/qa")
	qa.POST("/generate", qaHandler.Generate)
	qa.POST("/vectorize", qaHandler.Vectorize)
}
