package http

import (
	"github.com/gin-gonic/gin"

	"gopherai-rag/internal/bootstrap"
	"gopherai-rag/internal/transport/http/handler"
	"gopherai-rag/internal/transport/http/middleware"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestLogger())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	registerAPI(router.Group("/api/v1"), Services{
		Collections:  app.Collections,
		Ingest:       app.Ingest,
		Sessions:     app.Sessions,
		Retriever:    app.Retriever,
		Chat:         app.Chat,
		QA:           app.QA,
		Models:       app.Models,
		DefaultModel: app.Config.Embedding.DefaultModel,
	})
	return router
}
