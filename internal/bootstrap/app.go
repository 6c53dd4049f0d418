package bootstrap

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gopherai-rag/internal/ai"
	"gopherai-rag/internal/app"
	"gopherai-rag/internal/cache"
	"gopherai-rag/internal/config"
	"gopherai-rag/internal/job"
	"gopherai-rag/internal/pkg/logutil"
	"gopherai-rag/internal/platform/database"
	rabbitmqClient "gopherai-rag/internal/platform/rabbitmq"
	redisClient "gopherai-rag/internal/platform/redis"
	"gopherai-rag/internal/repository"
	"gopherai-rag/internal/schedule"
	"gopherai-rag/internal/vectorstore"
	"gopherai-rag/internal/vectorstore/memory"
	"gopherai-rag/internal/vectorstore/pgvector"
	"gopherai-rag/internal/vectorstore/qdrant"
	"gopherai-rag/internal/worker"
)

type Options struct {
	ConfigPath string
	// Background starts the ingest worker and the cron scheduler.
	Background bool
}

type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *gorm.DB
	VectorDB    *gorm.DB
	Redis       *redis.Client
	MQConn      *amqp.Connection
	VectorStore vectorstore.Store
	Models      *ai.ModelRegistry

	Collections *app.CollectionService
	Ingest      *app.IngestService
	Sessions    *app.SessionService
	Retriever   *app.Retriever
	Chat        *app.ChatService
	QA          *app.QAService

	IngestWorker *worker.IngestWorker
	Scheduler    *schedule.CronScheduler

	StartedAt time.Time
}

func New(ctx context.Context, opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger := initLogger(cfg)
	ctx = logutil.WithLogger(ctx, logger)

	a := &App{Config: cfg, Logger: logger, StartedAt: time.Now()}
	if err := a.init(ctx, opts); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

// Migrate creates the relational tables and, for the pgvector backend, the
// vector tables. It does not start any other dependency.
func Migrate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	ctx = logutil.WithLogger(ctx, initLogger(cfg))

	db, err := database.New(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	defer database.Close(db)
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	if cfg.VectorStore.Backend != "pgvector" {
		return nil
	}
	vectorDB, owned, err := openVectorDB(ctx, cfg, db)
	if err != nil {
		return err
	}
	if owned {
		defer database.Close(vectorDB)
	}
	return pgvector.New(vectorDB).Migrate(ctx)
}

func (a *App) init(ctx context.Context, opts Options) error {
	cfg := a.Config

	db, err := database.New(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return err
	}
	a.DB = db
	if err := database.Migrate(ctx, db); err != nil {
		return err
	}

	store, err := a.openVectorStore(ctx)
	if err != nil {
		return err
	}
	a.VectorStore = vectorstore.WithRetry(
		store,
		cfg.VectorStore.RetryAttempts,
		time.Duration(cfg.VectorStore.RetryBackoffMS)*time.Millisecond,
	)

	if err := a.initModels(); err != nil {
		return err
	}
	gateway, err := a.initGateway(ctx)
	if err != nil {
		return err
	}
	embedder := ai.WrapLRU(
		gateway,
		cfg.Embedding.CacheSize,
		time.Duration(cfg.Embedding.CacheTTLSeconds)*time.Second,
	)

	// Interfaces stay nil when the optional dependency is disabled.
	var historyCache app.HistoryCache
	if cfg.Redis.Enabled {
		client, err := redisClient.New(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		a.Redis = client
		historyCache = cache.NewHistoryCache(
			client,
			time.Duration(cfg.Redis.HistoryTTLSeconds)*time.Second,
			time.Duration(cfg.Redis.HistoryDirtyTTLSeconds)*time.Second,
		)
	}

	var publisher app.IngestJobPublisher
	if cfg.RabbitMQ.Enabled {
		conn, err := rabbitmqClient.New(ctx, cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
		if err != nil {
			return err
		}
		a.MQConn = conn
		publisher = rabbitmqClient.NewIngestPublisher(conn, cfg.RabbitMQ.IngestQueue)
	}

	embedTimeout := time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second
	completeTimeout := time.Duration(cfg.LLM.TimeoutSeconds) * time.Second

	a.Collections = app.NewCollectionService(repository.NewCollectionRepository(db), a.VectorStore, a.Models)
	a.Ingest = app.NewIngestService(a.Collections, a.VectorStore, embedder, publisher, app.IngestOptions{
		DefaultModel: cfg.Embedding.DefaultModel,
		ChunkSize:    cfg.RAG.ChunkSize,
		ChunkOverlap: cfg.RAG.ChunkOverlap,
		BatchSize:    cfg.Embedding.BatchSize,
		EmbedTimeout: embedTimeout,
	})
	a.Sessions = app.NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewMessageRepository(db),
		historyCache,
		app.SessionDefaults{
			Model:         cfg.LLM.ChatModel,
			Temperature:   float32(cfg.RAG.DefaultTemperature),
			ContextWindow: cfg.RAG.DefaultContextWindow,
		},
	)
	a.Retriever = app.NewRetriever(a.Collections, a.VectorStore, embedder, app.RetrievalOptions{
		TopK:         cfg.RAG.TopK,
		MaxTopK:      cfg.RAG.MaxTopK,
		Threshold:    cfg.RAG.SimilarityThreshold,
		EmbedTimeout: embedTimeout,
	})
	a.Chat = app.NewChatService(a.Sessions, a.Retriever, gateway, app.ChatOptions{
		ChatModel:               cfg.LLM.ChatModel,
		MaxTokens:               cfg.LLM.MaxTokens,
		MaxContextChars:         cfg.RAG.MaxContextChars,
		CompleteTimeout:         completeTimeout,
		DegradeOnRetrievalError: cfg.RAG.DegradeOnRetrievalError,
	})
	qaModel := cfg.QA.Model
	if qaModel == "" {
		qaModel = cfg.LLM.ChatModel
	}
	a.QA = app.NewQAService(gateway, a.Ingest, app.QAOptions{
		MaxPairs:        cfg.QA.MaxPairs,
		MaxCharsPerCall: cfg.QA.MaxCharsPerCall,
		Model:           qaModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		CompleteTimeout: completeTimeout,
	})

	if !opts.Background {
		return nil
	}
	return a.startBackground(ctx)
}

func (a *App) startBackground(ctx context.Context) error {
	cfg := a.Config
	if a.MQConn != nil {
		a.IngestWorker = worker.NewIngestWorker(a.MQConn, a.Ingest, cfg.RabbitMQ.IngestQueue, 1)
		if err := a.IngestWorker.Start(ctx); err != nil {
			return fmt.Errorf("start ingest worker failed: %w", err)
		}
	}

	if cfg.Retention.Enabled {
		a.Scheduler = schedule.NewCronScheduler()
		retention := job.NewSessionRetentionJob(a.Sessions, cfg.Retention.MaxAgeDays)
		if err := a.Scheduler.AddJob(retention, cfg.Retention.Cron); err != nil {
			return fmt.Errorf("schedule %s failed: %w", retention.Name(), err)
		}
		a.Scheduler.Start(ctx)
	}
	return nil
}

func (a *App) openVectorStore(ctx context.Context) (vectorstore.Store, error) {
	cfg := a.Config.VectorStore
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "pgvector":
		vectorDB, owned, err := openVectorDB(ctx, a.Config, a.DB)
		if err != nil {
			return nil, err
		}
		if owned {
			a.VectorDB = vectorDB
		}
		store := pgvector.New(vectorDB)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		store := qdrant.New(qdrant.Config{
			URL:     cfg.QdrantURL,
			APIKey:  cfg.QdrantAPIKey,
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("ping qdrant failed: %w", err)
		}
		logutil.GetLogger(ctx).Info("qdrant connected", zap.String("url", cfg.QdrantURL))
		return store, nil
	}
}

// openVectorDB reuses the relational database when it is already PostgreSQL
// and no separate DSN is configured.
func openVectorDB(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gorm.DB, bool, error) {
	if cfg.VectorStore.PostgresDSN == "" {
		if cfg.Database.Driver != "postgres" {
			return nil, false, fmt.Errorf("vector_store.postgres_dsn is required unless database.driver is postgres")
		}
		return db, false, nil
	}
	vectorDB, err := database.New(ctx, "postgres", cfg.VectorStore.PostgresDSN)
	if err != nil {
		return nil, false, err
	}
	return vectorDB, true, nil
}

func (a *App) initModels() error {
	extra := make([]ai.EmbeddingModel, 0, len(a.Config.Embedding.Models))
	for _, m := range a.Config.Embedding.Models {
		extra = append(extra, ai.EmbeddingModel{ID: m.ID, Provider: m.Provider, Dimension: m.Dimension})
	}
	models, err := ai.NewModelRegistry(extra...)
	if err != nil {
		return fmt.Errorf("build model registry failed: %w", err)
	}
	if _, err := models.Get(a.Config.Embedding.DefaultModel); err != nil {
		return fmt.Errorf("default embedding model %q is not registered", a.Config.Embedding.DefaultModel)
	}
	a.Models = models
	return nil
}

func (a *App) initGateway(ctx context.Context) (*ai.Gateway, error) {
	llm := a.Config.LLM
	gateway := ai.NewGateway(a.Models, llm.DefaultProvider)

	openai := ai.NewOpenAIProvider(llm.OpenAIAPIKey, llm.OpenAIBaseURL)
	gateway.RegisterEmbedder(ai.ProviderOpenAI, openai)
	gateway.RegisterCompleter(ai.ProviderOpenAI, openai)

	gemini, err := ai.NewGeminiProvider(ctx, llm.GeminiAPIKey)
	if err != nil {
		return nil, fmt.Errorf("init gemini provider failed: %w", err)
	}
	gateway.RegisterEmbedder(ai.ProviderGemini, gemini)
	gateway.RegisterCompleter(ai.ProviderGemini, gemini)
	return gateway, nil
}

func initLogger(cfg *config.Config) *zap.Logger {
	return logutil.Init(logutil.Options{
		Level:      cfg.Log.Level,
		Console:    cfg.Log.Console,
		JSON:       cfg.Log.JSON,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
}

func (a *App) Close() error {
	var closeErr error
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.IngestWorker != nil {
		a.IngestWorker.Close()
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			closeErr = err
		}
	}
	if a.MQConn != nil {
		if err := a.MQConn.Close(); err != nil {
			closeErr = err
		}
	}
	if err := database.Close(a.VectorDB); err != nil {
		closeErr = err
	}
	if err := database.Close(a.DB); err != nil {
		closeErr = err
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
	return closeErr
}
