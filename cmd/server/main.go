// Package main 是应用程序的入口点。
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"duoread-go/internal/config"
	"duoread-go/internal/handler"
	"duoread-go/internal/middleware"
	"duoread-go/internal/model"
	"duoread-go/internal/pipeline"
	"duoread-go/internal/repository"
	"duoread-go/internal/service"
	"duoread-go/pkg/database"
	"duoread-go/pkg/embedding"
	"duoread-go/pkg/es"
	"duoread-go/pkg/extractor"
	"duoread-go/pkg/kafka"
	"duoread-go/pkg/llm"
	"duoread-go/pkg/log"
	"duoread-go/pkg/storage"
	"duoread-go/pkg/token"
	"duoread-go/pkg/workerpool"

	"github.com/gin-gonic/gin"
)

func main() {
	configPath := flag.String("config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 1. 初始化配置
	config.Init(*configPath)
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("日志记录器初始化成功")

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// 3. 初始化数据库、Redis、对象存储与向量索引
	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatal("数据库初始化失败", err)
	}
	if err := database.Migrate(db, &model.Document{}, &model.FileBlob{}, &model.DocumentChunk{}); err != nil {
		log.Fatal("数据库迁移失败", err)
	}
	rdb, err := database.OpenRedis(rootCtx, cfg.Database.Redis)
	if err != nil {
		log.Fatal("Redis 初始化失败", err)
	}
	blobStore, err := storage.NewMinIOStore(rootCtx, cfg.MinIO)
	if err != nil {
		log.Fatal("MinIO 初始化失败", err)
	}
	esClient, err := es.NewClient(cfg.Elasticsearch)
	if err != nil {
		log.Fatal("Elasticsearch 初始化失败", err)
	}
	vectorStore := es.NewVectorStore(esClient, cfg.Elasticsearch.IndexName, cfg.Embedding.Dimensions, cfg.Retrieval.NumCandidates)
	if err := vectorStore.EnsureIndex(rootCtx); err != nil {
		log.Fatal("创建向量索引失败", err)
	}

	// 4. 初始化外部服务客户端
	embeddingClient, err := embedding.NewClient(rootCtx, cfg.Embedding)
	if err != nil {
		log.Fatal("Embedding 客户端初始化失败", err)
	}
	llmClient, err := llm.NewClient(rootCtx, cfg.LLM)
	if err != nil {
		log.Fatal("LLM 客户端初始化失败", err)
	}
	textExtractor, err := extractor.New(cfg.Ingestion.Extractor, cfg.Tika)
	if err != nil {
		log.Fatal("文本提取器初始化失败", err)
	}

	// 5. 初始化 Repository
	docRepo := repository.NewDocumentRepository(db)
	chunkRepo := repository.NewChunkRepository(db)
	conversationRepo := repository.NewConversationRepository(rdb, cfg.Chat.HistoryTTL)

	// 6. 初始化索引管道与后台工作池
	processor := pipeline.NewProcessor(
		docRepo,
		chunkRepo,
		blobStore,
		textExtractor,
		pipeline.NewLanguageDetector(cfg.Ingestion.DefaultLanguage, cfg.Ingestion.LanguageSampleRunes),
		pipeline.NewChunker(cfg.Ingestion.Chunk.MaxLength, cfg.Ingestion.Chunk.Overlap),
		embeddingClient,
		vectorStore,
		cfg.Embedding,
	)
	pool, err := workerpool.New("indexer", workerpool.Config{
		Workers:   cfg.Ingestion.Workers,
		QueueSize: cfg.Ingestion.QueueSize,
	})
	if err != nil {
		log.Fatal("工作池初始化失败", err)
	}

	var (
		publisher service.TaskPublisher
		producer  *kafka.Producer
	)
	if cfg.Ingestion.Dispatcher == "kafka" {
		producer = kafka.NewProducer(cfg.Kafka)
		publisher = producer
	}

	// 7. 初始化 Service (依赖注入)
	ingestionService := service.NewIngestionService(docRepo, blobStore, processor, pool, publisher, cfg.Ingestion)
	retrievalService := service.NewRetrievalService(docRepo, embeddingClient, vectorStore, cfg.Retrieval)
	chatService := service.NewChatService(retrievalService, docRepo, llmClient, conversationRepo, cfg.LLM, cfg.Chat, cfg.Retrieval)
	conversationService := service.NewConversationService(conversationRepo)
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)

	// 8. 启动后台 Kafka 消费者
	if producer != nil {
		go kafka.StartConsumer(rootCtx, cfg.Kafka, ingestionService)
	}

	// 8.1 导入演示文档（幂等）
	if cfg.Seed.DemoDir != "" {
		go func() {
			n, err := service.SeedDemoDocuments(rootCtx, ingestionService, docRepo, cfg.Seed.DemoDir, cfg.Ingestion.DemoOwnerID, cfg.Ingestion.AllowedExtensions)
			if err != nil {
				log.Warnf("导入演示文档失败: %v", err)
				return
			}
			log.Infof("演示文档导入完成，新增 %d 个", n)
		}()
	}

	// 9. 设置 Gin 模式并注册路由
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.RequestLogger(), gin.Recovery())

	documentHandler := handler.NewDocumentHandler(ingestionService, cfg.Ingestion.MaxFileSize)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)
	conversationHandler := handler.NewConversationHandler(conversationService)

	apiV1 := r.Group("/api/v1")
	{
		apiV1.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"code": http.StatusOK, "message": "ok", "data": pool.Stats()})
		})

		documents := apiV1.Group("/documents")
		documents.Use(middleware.AuthMiddleware(jwtManager))
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("/:id/status", documentHandler.Status)
		}

		// WebSocket 在路径中携带令牌，不经过 Authorization 头认证
		apiV1.GET("/chat/ws/:token", chatHandler.HandleWebSocket)

		chat := apiV1.Group("/chat")
		chat.Use(middleware.AuthMiddleware(jwtManager))
		{
			chat.POST("/stream", chatHandler.Stream)
			chat.GET("/history", conversationHandler.GetConversations)
			chat.DELETE("/history", conversationHandler.ClearConversations)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP 服务监听失败: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("HTTP 服务器关闭失败: %v", err)
	}

	// 停止消费与导入，再等待已提交的索引任务结束
	cancelRoot()
	if err := pool.Release(cfg.Ingestion.ShutdownTimeout); err != nil {
		log.Warnf("工作池关闭超时: %v", err)
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Warnf("关闭 Kafka 生产者失败: %v", err)
		}
	}
	if err := rdb.Close(); err != nil {
		log.Warnf("关闭 Redis 连接失败: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("服务已优雅关闭")
}
