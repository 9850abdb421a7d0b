package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/jifen-next/internal/cache"
	"github.com/jifen-next/internal/config"
	adminhandlers "github.com/jifen-next/internal/http/handlers/admin"
	publichandlers "github.com/jifen-next/internal/http/handlers/public"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/provider"

	"github.com/gin-gonic/gin"
)

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	// 初始化 Handler（按前台/后台分组）
	publicHandler := publichandlers.New(c)
	adminHandler := adminhandlers.New(c)
	redisPrefix := strings.TrimSpace(cfg.Redis.Prefix)
	if redisPrefix == "" {
		redisPrefix = "jf"
	}
	redisClient := cache.Client()
	orderRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:order", redisPrefix),
		WindowSeconds: cfg.Security.OrderRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.OrderRateLimit.MaxRequests,
		Message:       "下单过于频繁",
	}
	callbackRule := RateLimitRule{
		Prefix:        fmt.Sprintf("%s:rate:callback", redisPrefix),
		WindowSeconds: cfg.Security.CallbackRateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.CallbackRateLimit.MaxRequests,
	}

	// 中间件
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	r.GET("/healthz", healthz(c))

	apiV1 := r.Group("/api/v1")
	{
		// 支付网关回调（原始报文，协议应答）
		apiV1.POST("/payments/notify", RateLimitMiddleware(redisClient, callbackRule, KeyByIP), publicHandler.HandlePaymentNotify)

		// 公开接口
		apiV1.POST("/qrcode/verify", publicHandler.VerifyQRCode)

		// 用户接口（需鉴权）
		user := apiV1.Group("")
		user.Use(UserJWTAuthMiddleware(cfg.UserJWT.SecretKey, c.UserRepo))
		{
			user.POST("/orders", RateLimitMiddleware(redisClient, orderRule, KeyByUserID), publicHandler.CreateOrder)
			user.GET("/orders", publicHandler.ListOrders)
			user.GET("/orders/:order_no", publicHandler.GetOrder)
			user.POST("/orders/:order_no/pay", RateLimitMiddleware(redisClient, orderRule, KeyByUserID), publicHandler.PayOrder)
			user.POST("/orders/:order_no/cancel", publicHandler.CancelOrder)
			user.GET("/points/balance", publicHandler.GetPointsBalance)
			user.GET("/points/records", publicHandler.ListPointsRecords)
			user.POST("/points/consume", publicHandler.ConsumePoints)
		}

		// 内部接口（静态令牌）
		internal := apiV1.Group("")
		internal.Use(AdminTokenMiddleware(cfg.Admin.Token))
		{
			internal.GET("/merchants/:id/qrcode", adminHandler.GetMerchantQRCode)
		}

		admin := apiV1.Group("/admin")
		admin.Use(AdminTokenMiddleware(cfg.Admin.Token))
		{
			admin.POST("/orders/:order_no/refund", adminHandler.RefundOrder)
			admin.POST("/points/adjust", adminHandler.AdjustPoints)
			admin.GET("/users/:id/ledger-check", adminHandler.VerifyUserLedger)
			admin.GET("/callback-logs", adminHandler.ListCallbackLogs)
			admin.GET("/stats/overview", adminHandler.GetStatsOverview)
			admin.GET("/stats/points-trends", adminHandler.GetPointsTrends)
		}
	}

	return r
}

func healthz(c *provider.Container) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if err := models.PingDB(ctx.Request.Context(), c.DB); err != nil {
			logger.Warnw("healthz_db_unavailable", "error", err)
			ctx.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
