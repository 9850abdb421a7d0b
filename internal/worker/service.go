package worker

import (
	"context"
	"errors"
	"time"

	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/queue"

	"github.com/hibiken/asynq"
)

const (
	defaultOrderExpireSweepInterval = time.Minute
	defaultPointsSweepInterval      = time.Hour
)

// Service 异步队列服务
type Service struct {
	name     string
	server   *asynq.Server
	mux      *asynq.ServeMux
	consumer *Consumer
}

// NewService 创建异步队列服务
func NewService(cfg *config.QueueConfig, consumer *Consumer) (*Service, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, errors.New("queue disabled")
	}
	if consumer == nil {
		return nil, errors.New("consumer is nil")
	}
	opt, serverCfg := queue.BuildServerConfig(cfg)
	server := asynq.NewServer(opt, serverCfg)
	mux := asynq.NewServeMux()
	consumer.Register(mux)
	return &Service{
		name:     "worker",
		server:   server,
		mux:      mux,
		consumer: consumer,
	}, nil
}

// Name 服务名称
func (s *Service) Name() string {
	if s == nil || s.name == "" {
		return "worker"
	}
	return s.name
}

// Start 启动服务
func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.server == nil || s.mux == nil {
		return errors.New("worker not initialized")
	}
	StartSweepLoops(ctx, s.consumer)
	return s.server.Run(s.mux)
}

// Stop 停止服务
func (s *Service) Stop(ctx context.Context) error {
	if s == nil || s.server == nil {
		return nil
	}
	_ = ctx
	s.server.Shutdown()
	return nil
}

// StartSweepLoops 启动订单过期与积分过期的定时扫描；队列未启用时由 HTTP 进程调用
func StartSweepLoops(ctx context.Context, consumer *Consumer) {
	if consumer == nil || consumer.Container == nil {
		return
	}
	cfg := consumer.Config
	if consumer.OrderService != nil {
		interval := sweepInterval(cfg.Order.ExpireSweepSeconds, defaultOrderExpireSweepInterval)
		go runTicker(ctx, interval, consumer.sweepExpiredOrders)
	}
	if consumer.PointsService != nil {
		interval := sweepInterval(cfg.Points.SweepSeconds, defaultPointsSweepInterval)
		go runTicker(ctx, interval, consumer.sweepExpiredPoints)
	}
}

func (c *Consumer) sweepExpiredOrders(_ context.Context) {
	if _, err := c.OrderService.ExpireStalePending(time.Now()); err != nil {
		logger.Warnw("worker_order_expire_sweep_failed", "error", err)
	}
}

func (c *Consumer) sweepExpiredPoints(ctx context.Context) {
	applied, err := c.PointsService.SweepExpired(ctx, time.Now())
	if err != nil {
		logger.Warnw("worker_points_expire_sweep_failed", "applied", applied, "error", err)
		return
	}
	if applied > 0 {
		logger.Infow("worker_points_expire_sweep_done", "applied", applied)
	}
}

func runTicker(ctx context.Context, interval time.Duration, runOnce func(context.Context)) {
	runOnce(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx)
		}
	}
}

func sweepInterval(seconds int, fallback time.Duration) time.Duration {
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}

// SweepService 队列未启用时仅运行定时扫描
type SweepService struct {
	consumer *Consumer
}

// NewSweepService 创建定时扫描服务
func NewSweepService(consumer *Consumer) *SweepService {
	return &SweepService{consumer: consumer}
}

// Name 服务名称
func (s *SweepService) Name() string {
	return "sweeper"
}

// Start 启动扫描并阻塞到上下文结束
func (s *SweepService) Start(ctx context.Context) error {
	if s == nil || s.consumer == nil {
		return errors.New("sweeper not initialized")
	}
	StartSweepLoops(ctx, s.consumer)
	<-ctx.Done()
	return nil
}

// Stop 扫描随上下文取消退出
func (s *SweepService) Stop(ctx context.Context) error {
	return nil
}
