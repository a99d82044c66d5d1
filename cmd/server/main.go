// Package main 是应用程序的入口点。
package main

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"vectrieve-go/internal/config"
	"vectrieve-go/internal/handler"
	"vectrieve-go/internal/middleware"
	"vectrieve-go/internal/model"
	"vectrieve-go/internal/pipeline"
	"vectrieve-go/internal/repository"
	"vectrieve-go/internal/service"
	"vectrieve-go/internal/splitter"
	"vectrieve-go/internal/vectorstore"
	"vectrieve-go/pkg/database"
	"vectrieve-go/pkg/embedding"
	"vectrieve-go/pkg/es"
	"vectrieve-go/pkg/kafka"
	"vectrieve-go/pkg/llm"
	"vectrieve-go/pkg/log"
	"vectrieve-go/pkg/storage"
	"vectrieve-go/pkg/tasks"
	"vectrieve-go/pkg/tika"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. 初始化配置
	config.Init("./configs/config.yaml")
	cfg := config.Conf

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化数据库、Redis 与对象存储
	database.InitMySQL(cfg.Database.MySQL.DSN)
	if err := database.DB.AutoMigrate(&model.Document{}, &model.QueryRecord{}, &model.FeedbackRecord{}); err != nil {
		log.Fatalf("数据库迁移失败: %v", err)
	}
	database.InitRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	storage.InitMinIO(cfg.MinIO)
	objects := storage.NewObjectStore(cfg.MinIO)

	// 4. 初始化向量索引："es" 为默认实现，"memory" 用于本地无外部依赖运行
	var store vectorstore.Store
	if cfg.RAG.VectorStore == "memory" {
		store = vectorstore.NewMemoryStore()
		log.Info("使用内存向量索引")
	} else {
		if err := es.InitES(cfg.Elasticsearch, cfg.Embedding.Dimensions); err != nil {
			log.Fatalf("es 初始化失败: %v", err)
		}
		store = vectorstore.NewESStore(es.ESClient, cfg.Elasticsearch.IndexName)
	}

	kafka.InitProducer(cfg.Kafka)

	// 5. 初始化 Repository
	docRepo := repository.NewDocumentRepository(database.DB)
	conversationRepo := repository.NewConversationRepository(database.RDB)
	feedbackRepo := repository.NewFeedbackRepository(database.DB)

	// 6. 初始化外部能力客户端与 Service (依赖注入)
	var extractor pipeline.TextExtractor
	if cfg.Tika.ServerURL != "" {
		extractor = tika.NewClient(cfg.Tika)
	}
	embeddingClient := embedding.NewClient(cfg.Embedding)
	llmClient := llm.NewClient(cfg.LLM)

	sp := splitter.New(cfg.RAG.Chunking.MaxChunkChars, cfg.RAG.Chunking.OverlapChars)
	processor := pipeline.NewProcessor(sp, extractor, embeddingClient, store, objects, docRepo, cfg.Embedding.Model)

	retrievalService := service.NewRetrievalService(embeddingClient, store, cfg.RAG.Retrieval)
	chatService := service.NewChatService(retrievalService, llmClient, conversationRepo, feedbackRepo, cfg.LLM)
	analyticsService := service.NewAnalyticsService(feedbackRepo)
	documentService := service.NewDocumentService(docRepo, cfg.MinIO)
	conversationService := service.NewConversationService(conversationRepo)

	// 7. 启动后台 Kafka 消费者
	go kafka.StartConsumer(cfg.Kafka, processor)

	// 7.1 启动时扫描种子目录，把未登记的文件投递为摄取任务（幂等）
	if cfg.RAG.SeedDir != "" {
		go importSeedFiles(context.Background(), cfg.RAG.SeedDir, docRepo, objects)
	}

	// 8. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery())

	// 9. 注册路由
	healthHandler := handler.NewHealthHandler(store, cfg.LLM.Model)
	r.GET("/health", healthHandler.Check)

	apiV1 := r.Group("/api/v1")
	{
		documentHandler := handler.NewDocumentHandler(processor, documentService)
		documents := apiV1.Group("/documents")
		{
			documents.POST("", documentHandler.Upload)
			documents.GET("", documentHandler.ListDocuments)
			documents.DELETE("/:fileName", documentHandler.Delete)
			documents.GET("/download", documentHandler.GenerateDownloadURL)
		}
		apiV1.GET("/files", documentHandler.ListFiles)

		apiV1.GET("/search", handler.NewSearchHandler(retrievalService).Search)

		feedbackHandler := handler.NewFeedbackHandler(analyticsService)
		apiV1.POST("/feedback", feedbackHandler.Record)
		apiV1.GET("/analytics", feedbackHandler.Snapshot)

		apiV1.GET("/conversation", handler.NewConversationHandler(conversationService).GetConversation)
	}

	// Chat 路由 (WebSocket)
	r.GET("/chat", handler.NewChatHandler(chatService).Handle)

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	log.Info("服务已优雅关闭")
}

// importSeedFiles 扫描目录，把尚未登记的文件上传到对象存储并投递摄取任务。
// 已登记的文件直接跳过，重复启动是幂等的。
func importSeedFiles(ctx context.Context, dir string, docRepo repository.DocumentRepository, objects storage.ObjectStore) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		log.Infof("importSeedFiles: 目录 '%s' 不存在或不可用，跳过初始化导入", dir)
		return
	}

	walkErr := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		fileName := info.Name()

		// 幂等检查：已登记则跳过
		if _, ferr := docRepo.FindByFileName(fileName); ferr == nil {
			log.Infof("importSeedFiles: 已存在，跳过: %s", fileName)
			return nil
		}

		data, rerr := os.ReadFile(path)
		if rerr != nil {
			log.Warnf("importSeedFiles: 读取文件失败: %s, err=%v", path, rerr)
			return nil
		}
		if len(data) == 0 {
			log.Infof("importSeedFiles: 空文件跳过: %s", path)
			return nil
		}

		objectName := "raw/" + fileName
		if perr := objects.PutObject(ctx, objectName, data); perr != nil {
			log.Warnf("importSeedFiles: 上传对象存储失败: %s, err=%v", path, perr)
			return nil
		}

		md5Sum := md5.Sum(data)
		task := tasks.IngestTask{
			FileMD5:   fmt.Sprintf("%x", md5Sum),
			ObjectKey: objectName,
			FileName:  fileName,
			FileSize:  info.Size(),
		}
		if perr := kafka.ProduceIngestTask(task); perr != nil {
			log.Warnf("importSeedFiles: 投递摄取任务失败: %s, err=%v", fileName, perr)
			return nil
		}
		log.Infof("importSeedFiles: 已投递摄取任务: %s", fileName)
		return nil
	})
	if walkErr != nil {
		log.Warnf("importSeedFiles: 遍历目录发生错误: %v", walkErr)
	}
}
