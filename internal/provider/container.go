package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/payment/signature"
	"github.com/jifen-next/internal/payment/wechatpay"
	"github.com/jifen-next/internal/queue"
	"github.com/jifen-next/internal/repository"
	"github.com/jifen-next/internal/service"

	"gorm.io/gorm"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	DB          *gorm.DB
	QueueClient *queue.Client

	// Payment
	SignatureEngine *signature.Engine
	Gateway         *wechatpay.Client

	// Repositories
	UserRepo         repository.UserRepository
	MerchantRepo     repository.MerchantRepository
	PaymentOrderRepo repository.PaymentOrderRepository
	PointsRepo       repository.PointsRepository
	CallbackLogRepo  repository.CallbackLogRepository
	StatsRepo        repository.StatsRepository

	// Services
	PointsService     *service.PointsService
	OrderService      *service.OrderService
	SettlementService *service.SettlementService
	QRCodeService     *service.QRCodeService
	StatsService      *service.StatsService
}

// NewContainer 初始化容器；支付密钥材料无效时返回错误，调用方应终止启动
func NewContainer(cfg *config.Config, db *gorm.DB) (*Container, error) {
	if cfg == nil || db == nil {
		return nil, fmt.Errorf("provider: config and db are required")
	}
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端
	var queueClient *queue.Client
	if cfg.Queue.Enabled {
		qc, err := queue.NewClient(&cfg.Queue)
		if err != nil {
			logger.Errorw("provider_init_queue_client_failed", "error", err)
		} else {
			queueClient = qc
		}
	}

	c := &Container{
		Config:      cfg,
		DB:          db,
		QueueClient: queueClient,
	}

	// 1. 支付网关与签名引擎
	if err := c.initPayment(); err != nil {
		return nil, err
	}

	// 2. 初始化 Repositories
	c.initRepositories()

	// 3. 初始化 Services
	c.initServices()

	return c, nil
}

func (c *Container) initPayment() error {
	wechatCfg := c.Config.Wechat
	engine, err := signature.NewEngine(signature.Config{
		APIVersion:         wechatCfg.APIVersion,
		APIKey:             wechatCfg.APIKey,
		SignType:           wechatCfg.SignType,
		MerchantPrivateKey: wechatCfg.MerchantPrivateKey,
		APIV3Key:           wechatCfg.APIV3Key,
		PlatformCerts:      wechatCfg.PlatformCerts,
	})
	if err != nil {
		logger.Errorw("provider_init_signature_engine_failed", "api_version", wechatCfg.APIVersion, "error", err)
		return err
	}
	gateway, err := wechatpay.NewClient(context.Background(), wechatpay.Config{
		APIVersion:         wechatCfg.APIVersion,
		AppID:              wechatCfg.AppID,
		MchID:              wechatCfg.MchID,
		MerchantSerialNo:   wechatCfg.MerchantSerialNo,
		MerchantPrivateKey: wechatCfg.MerchantPrivateKey,
		APIV3Key:           wechatCfg.APIV3Key,
		NotifyURL:          wechatCfg.NotifyURL,
		BaseURL:            wechatCfg.BaseURL,
		Timeout:            time.Duration(wechatCfg.TimeoutSeconds) * time.Second,
	}, engine)
	if err != nil {
		logger.Errorw("provider_init_wechatpay_failed", "api_version", wechatCfg.APIVersion, "error", err)
		return err
	}
	c.SignatureEngine = engine
	c.Gateway = gateway
	logger.Infow("provider_payment_ready", "api_version", engine.APIVersion(), "sign_type", engine.SignType())
	return nil
}

func (c *Container) initRepositories() {
	db := c.DB
	c.UserRepo = repository.NewUserRepository(db)
	c.MerchantRepo = repository.NewMerchantRepository(db)
	c.PaymentOrderRepo = repository.NewPaymentOrderRepository(db)
	c.PointsRepo = repository.NewPointsRepository(db)
	c.CallbackLogRepo = repository.NewCallbackLogRepository(db)
	c.StatsRepo = repository.NewStatsRepository(db)
}

func (c *Container) initServices() {
	var tasks service.TaskEnqueuer
	if c.QueueClient != nil {
		tasks = c.QueueClient
	}

	c.PointsService = service.NewPointsService(c.UserRepo, c.PointsRepo, cache.NewPointsBalanceStore(), c.Config.Points)
	c.OrderService = service.NewOrderService(
		c.PaymentOrderRepo,
		c.UserRepo,
		c.MerchantRepo,
		c.PointsService,
		c.Gateway,
		tasks,
		c.Config.Order,
	)
	c.SettlementService = service.NewSettlementService(
		c.Gateway,
		c.SignatureEngine,
		c.PaymentOrderRepo,
		c.CallbackLogRepo,
		c.OrderService,
		c.PointsService,
		tasks,
	)
	c.QRCodeService = service.NewQRCodeService(c.MerchantRepo, c.Config.QRCode)
	c.StatsService = service.NewStatsService(c.StatsRepo)
}

// Close 释放容器持有的外部连接
func (c *Container) Close() error {
	if c == nil || c.QueueClient == nil {
		return nil
	}
	return c.QueueClient.Close()
}
