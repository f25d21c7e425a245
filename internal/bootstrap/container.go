package bootstrap

import (
	"context"
	"log"

	"business-copilot-be/internal/config"
	"business-copilot-be/internal/constant"
	"business-copilot-be/internal/controller"
	"business-copilot-be/internal/dto"
	"business-copilot-be/internal/pkg/logger"
	"business-copilot-be/internal/repository/unitofwork"
	"business-copilot-be/internal/service"
	"business-copilot-be/pkg/cache"
	"business-copilot-be/pkg/dataset"
	"business-copilot-be/pkg/permission"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Container struct {
	ChatController controller.IChatController

	// Background services, run by main.
	ConsumerService service.IConsumerService

	Logger logger.ILogger
}

func NewContainer(db *gorm.DB, cfg *config.Config) *Container {
	// Core facades
	uowFactory := unitofwork.NewRepositoryFactory(db)
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")

	// Event bus
	watermillLogger := watermill.NewStdLogger(false, false)
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{},
		watermillLogger,
	)

	// Cache backend
	var store cache.Store
	if cfg.App.CacheBackend == "redis" {
		opt, err := redis.ParseURL(cfg.App.RedisURL)
		if err != nil {
			log.Printf("[WARN] Failed to parse Redis URL: %v. Using direct Addr", err)
			opt = &redis.Options{Addr: cfg.App.RedisURL}
		}
		rdb := redis.NewClient(opt)
		if _, err := rdb.Ping(context.Background()).Result(); err != nil {
			log.Printf("[WARN] Failed to connect to Redis: %v", err)
		}
		store = cache.NewRedisStore(rdb, "copilot")
		log.Println("[INFO] Using cache backend: REDIS")
	} else {
		store = cache.NewMemoryStore()
		log.Println("[INFO] Using cache backend: MEMORY")
	}
	cacheLayer := cache.New(store)

	// Dataset assembly
	assembler := dataset.NewAssembler(db, cfg.Copilot.Currency)
	if cfg.Copilot.DatasetBudget > 0 {
		assembler = assembler.WithBudget(cfg.Copilot.DatasetBudget)
	}
	oracle := permission.NewGormOracle(db)

	// Services
	publisherService := service.NewPublisherService(constant.ExchangeCompletedTopic, pubSub)
	consumerService := service.NewConsumerService(pubSub, constant.ExchangeCompletedTopic, sysLogger)

	fallback := dto.CopilotSettings{
		Enabled:  cfg.Ai.APIKey != "",
		Provider: cfg.Ai.Provider,
		APIKey:   cfg.Ai.APIKey,
		Model:    cfg.Ai.Model,
		BaseURL:  cfg.Ai.BaseURL,
		Currency: cfg.Copilot.Currency,
		Language: cfg.Copilot.Language,
	}

	chatService := service.NewChatService(
		uowFactory,
		oracle,
		assembler,
		cacheLayer,
		publisherService,
		sysLogger,
		fallback,
	)

	return &Container{
		ChatController:  controller.NewChatController(chatService),
		ConsumerService: consumerService,
		Logger:          sysLogger,
	}
}
