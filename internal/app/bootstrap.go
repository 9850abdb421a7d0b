package app

import (
	"errors"

	"github.com/jifen-next/internal/config"
	"github.com/jifen-next/internal/logger"
	"github.com/jifen-next/internal/models"
	"github.com/jifen-next/internal/provider"
	"github.com/jifen-next/internal/router"
	"github.com/jifen-next/internal/worker"
)

// BuildRunner 构建服务运行器
func BuildRunner(cfg *config.Config, container *provider.Container, mode string) (*Runner, error) {
	if cfg == nil || container == nil {
		return nil, errors.New("config and container are required")
	}

	var services []Service

	// 初始化 HTTP 服务
	if mode == ModeAll || mode == ModeAPI {
		engine := router.SetupRouter(cfg, container)
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		httpService := NewHTTPService(addr, engine)
		services = append(services, httpService)
	}

	// 初始化 Worker 服务；队列未启用时退化为进程内定时扫描
	if mode == ModeAll || mode == ModeWorker {
		consumer := worker.NewConsumer(container)
		if cfg.Queue.Enabled {
			workerService, err := worker.NewService(&cfg.Queue, consumer)
			if err != nil {
				return nil, err
			}
			services = append(services, workerService)
		} else {
			logger.Infow("app_queue_disabled_use_sweeper")
			services = append(services, worker.NewSweepService(consumer))
		}
	}

	if len(services) == 0 {
		return nil, errors.New("no services initialized (check mode and config)")
	}

	return NewRunner(services...), nil
}

// Run 应用启动入口
func Run(opts Options) error {
	opts = normalizeOptions(opts)
	if opts.Config == nil {
		return errors.New("config is nil")
	}
	cfg := opts.Config

	db, err := models.OpenDB(cfg.Database.Driver, cfg.Database.DSN, cfg.Database.LogLevel, models.DBPoolConfig{
		MaxOpenConns:           cfg.Database.Pool.MaxOpenConns,
		MaxIdleConns:           cfg.Database.Pool.MaxIdleConns,
		ConnMaxLifetimeSeconds: cfg.Database.Pool.ConnMaxLifetimeSeconds,
		ConnMaxIdleTimeSeconds: cfg.Database.Pool.ConnMaxIdleTimeSeconds,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := models.CloseDB(db); err != nil {
			opts.Logger.Warnw("app_close_db_failed", "error", err)
		}
	}()
	if err := models.AutoMigrate(db); err != nil {
		return err
	}

	container, err := provider.NewContainer(cfg, db)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Close(); err != nil {
			opts.Logger.Warnw("app_close_container_failed", "error", err)
		}
	}()

	runner, err := BuildRunner(cfg, container, opts.Mode)
	if err != nil {
		return err
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	opts.Logger.Infow("app_start", "addr", addr, "mode", opts.Mode)
	return RunWithOptions(runner, opts)
}
