package http

import (
	"context"
	"fmt"
	"strings"

	"Nexus/internal/config"
	"Nexus/internal/initial"
	jwtMiddleware "Nexus/internal/middleware/jwt"
	accountService "Nexus/internal/modules/account/application/service"
	accountPersistence "Nexus/internal/modules/account/infrastructure/persistence"
	accountHandler "Nexus/internal/modules/account/interface/http"
	"Nexus/internal/modules/inventory/application/service"
	"Nexus/internal/modules/inventory/domain/repository"
	"Nexus/internal/modules/inventory/infrastructure/embedding"
	"Nexus/internal/modules/inventory/infrastructure/extraction"
	"Nexus/internal/modules/inventory/infrastructure/mq"
	"Nexus/internal/modules/inventory/infrastructure/mq/kafka"
	"Nexus/internal/modules/inventory/infrastructure/persistence"
	"Nexus/internal/modules/inventory/infrastructure/pipeline"
	"Nexus/internal/modules/inventory/infrastructure/queue"
	"Nexus/internal/modules/inventory/infrastructure/vectordb"
	inventoryHandler "Nexus/internal/modules/inventory/interface/http"
	"Nexus/pkg/ssl"
	"Nexus/pkg/ws"
	"Nexus/pkg/zlog"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

var GE *gin.Engine

// IngestWorker 异步摄取消费端，Kafka 未启用时为 nil，由 main 驱动生命周期
var IngestWorker *queue.IngestConsumerWorker

// KafkaPublisher 摄取任务生产端，Kafka 未启用时为 nil
var KafkaPublisher mq.Publisher

func init() {
	conf := config.GetConfig()
	ctx := context.Background()

	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(conf.MainConfig.Host, conf.MainConfig.Port))

	wsHub := ws.NewHub()

	itemRepo := persistence.NewItemRepository(initial.GormDB)
	taskRepo := persistence.NewIngestTaskRepository(initial.GormDB)
	accountRepo := accountPersistence.NewAccountRepository(initial.GormDB)

	index := newVectorIndex(conf, itemRepo)
	if err := index.Load(ctx); err != nil {
		zlog.Fatal(fmt.Sprintf("vector index load failed: %v", err))
		return
	}

	embedder, meta, err := embedding.NewEmbedderFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("embedding provider init failed: %v", err))
		return
	}
	provider, err := embedding.NewProviderAdapter(embedder, meta.Dim, conf.EngineConfig.MaxImageBytes)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("embedding adapter init failed: %v", err))
		return
	}
	extractor, err := extraction.NewExtractorFromConfig(ctx, conf)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("attribute extractor init failed: %v", err))
		return
	}

	observer := service.NewTaskStateObserver(wsHub)
	ingestPipe, err := pipeline.NewIngestPipeline(provider, extractor, itemRepo, taskRepo, index,
		conf.EngineConfig.RetryTimes, observer)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("ingest pipeline build failed: %v", err))
		return
	}
	searchPipe, err := pipeline.NewSearchPipeline(provider, itemRepo, index, conf.EngineConfig.DefaultTopK)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("search pipeline build failed: %v", err))
		return
	}

	// Kafka 初始化失败只降级为同步摄取，不阻塞启动
	var payloads queue.PayloadStore
	asyncEnabled := conf.EngineConfig.AsyncEnabled && len(conf.KafkaConfig.Brokers) > 0
	if asyncEnabled {
		pub, worker, err := newAsyncIngest(conf, taskRepo, ingestPipe)
		if err != nil {
			zlog.Warn(fmt.Sprintf("kafka init failed, async ingest disabled: %v", err))
			asyncEnabled = false
		} else {
			KafkaPublisher = pub
			IngestWorker = worker
			payloads = queue.NewRedisPayloadStore()
		}
	}

	ingestSvc := service.NewIngestService(ingestPipe, taskRepo, KafkaPublisher, payloads,
		conf.KafkaConfig.IngestTopic, asyncEnabled, conf.EngineConfig.MaxImageBytes)
	querySvc := service.NewQueryService(searchPipe, itemRepo, index,
		conf.EngineConfig.EdgeThreshold, conf.EngineConfig.MaxEdges)
	taskSvc := service.NewTaskService(taskRepo)
	accountSvc := accountService.NewAccountService(accountRepo)

	itemH := inventoryHandler.NewItemHandler(ingestSvc, querySvc)
	searchH := inventoryHandler.NewSearchHandler(querySvc)
	graphH := inventoryHandler.NewGraphHandler(querySvc)
	taskH := inventoryHandler.NewTaskHandler(taskSvc, wsHub)
	accountH := accountHandler.NewAccountHandler(accountSvc)

	GE.POST("/login", accountH.Login)
	GE.POST("/register", accountH.Register)
	GE.GET("/task/ws", taskH.Subscribe)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.GET("/auth/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"uuid":     c.GetString("uuid"),
			"username": c.GetString("username"),
		})
	})
	authed.POST("/item/ingest", itemH.Ingest)
	authed.POST("/item/list", itemH.List)
	authed.GET("/item/count", itemH.Count)
	authed.GET("/item/:id", itemH.Get)
	authed.DELETE("/item/:id", itemH.Delete)
	authed.POST("/search/semantic", searchH.Semantic)
	authed.GET("/graph/snapshot", graphH.Snapshot)
	authed.GET("/task/:id", taskH.Get)
}

func newVectorIndex(conf *config.Config, itemRepo repository.ItemRepository) repository.VectorIndex {
	dim := conf.EngineConfig.Dimension
	if conf.EngineConfig.IndexBackend == "milvus" {
		collection := strings.TrimSpace(conf.MilvusConfig.CollectionName)
		if collection == "" {
			collection = "nexus_item_vectors"
		}
		metricType := entity.MetricType(strings.TrimSpace(conf.MilvusConfig.MetricType))
		if metricType == "" {
			metricType = entity.COSINE
		}
		idx, err := vectordb.NewMilvusIndex(initial.MilvusClient, collection, dim, metricType, itemRepo)
		if err != nil {
			zlog.Fatal(fmt.Sprintf("milvus index init failed: %v", err))
			return nil
		}
		return idx
	}
	idx, err := vectordb.NewMemoryIndex(dim, itemRepo)
	if err != nil {
		zlog.Fatal(fmt.Sprintf("memory index init failed: %v", err))
		return nil
	}
	return idx
}

func newAsyncIngest(conf *config.Config, taskRepo repository.IngestTaskRepository,
	ingestPipe *pipeline.IngestPipeline) (mq.Publisher, *queue.IngestConsumerWorker, error) {
	kafkaConf := conf.KafkaConfig
	if err := kafka.EnsureTopic(kafka.TopicAdminConfig{
		Brokers:  kafkaConf.Brokers,
		ClientID: kafkaConf.ClientID,
	}, kafkaConf.IngestTopic, kafkaConf.Partitions, kafkaConf.Replication); err != nil {
		return nil, nil, err
	}
	pub, err := kafka.NewSaramaPublisher(kafka.PublisherConfig{
		Brokers:  kafkaConf.Brokers,
		ClientID: kafkaConf.ClientID,
	})
	if err != nil {
		return nil, nil, err
	}
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:  kafkaConf.Brokers,
		GroupID:  kafkaConf.ConsumerGroupID,
		Topics:   []string{kafkaConf.IngestTopic},
		ClientID: kafkaConf.ClientID,
	})
	if err != nil {
		if closeErr := pub.Close(); closeErr != nil {
			zlog.Warn(fmt.Sprintf("kafka publisher close failed: %v", closeErr))
		}
		return nil, nil, err
	}
	worker := queue.NewIngestConsumerWorker(consumer, taskRepo, queue.NewRedisPayloadStore(), ingestPipe)
	return pub, worker, nil
}
