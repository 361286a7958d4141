// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package app composes the service from its configuration: it owns the
// single database pool, the lifecycle controller, the router and the server.
package app

import (
	"fmt"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cloud-spin/chili"
	"github.com/cloud-spin/chili/api"
	"github.com/cloud-spin/chili/config"
	"github.com/cloud-spin/chili/database"
	"github.com/cloud-spin/chili/lifecycle"
	"github.com/cloud-spin/chili/logging"
	"github.com/cloud-spin/chili/metrics"
)

// App is the application context, built once at startup.
type App struct {
	Config     *config.Config
	Logger     *zap.Logger
	DB         *database.Handle
	Metrics    *metrics.Metrics
	Controller *lifecycle.Controller
	Router     *mux.Router
	Server     chili.Server
}

// Option customises the App built by New.
type Option func(*options)

type options struct {
	lifecycle []lifecycle.Option
}

// WithLifecycleOptions appends options to the lifecycle controller, after the
// ones derived from configuration.
func WithLifecycleOptions(opts ...lifecycle.Option) Option {
	return func(o *options) {
		o.lifecycle = append(o.lifecycle, opts...)
	}
}

// New builds the application. The database pool is created eagerly but not
// contacted, so the service can start while the database is unavailable.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	logger = logging.OrNop(logger)

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	db, err := database.Open(database.Config{
		Dialect:        database.Dialect(cfg.Database.Dialect),
		Host:           cfg.Database.Host,
		Port:           cfg.Database.Port,
		Name:           cfg.Database.Name,
		User:           cfg.Database.User,
		Password:       cfg.Database.Password,
		PoolMax:        cfg.Database.PoolMax,
		AcquireTimeout: cfg.Database.AcquireTimeout,
		IdleTimeout:    cfg.Database.IdleTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if cfg.Database.PoolMin > 0 {
		logger.Warn("Minimum pool size is not enforced, idle connections are released after the idle timeout",
			zap.Int("pool_min", cfg.Database.PoolMin))
	}

	m := metrics.New()
	if err := m.RegisterDB(db.SQLDB(), cfg.Database.Name); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to register database metrics: %w", err)
	}

	lifecycleOpts := append([]lifecycle.Option{
		lifecycle.WithGracePeriod(cfg.Server.GracePeriod),
		lifecycle.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
		lifecycle.WithAwaitPing(cfg.Server.LivenessAwaitPing),
		lifecycle.WithLogger(logger),
	}, o.lifecycle...)
	controller := lifecycle.New(db, lifecycleOpts...)
	controller.OnStateChange(m.ObserveState)
	m.ObserveState(controller.State())

	router := mux.NewRouter()

	serverConfigs := chili.NewConfigs()
	serverConfigs.Port = cfg.Server.Port
	serverConfigs.ShutdownTimeout = cfg.Server.ShutdownTimeout
	server := chili.New(serverConfigs, router, controller, logger)

	// Registered after the probes so the static fallback never shadows them.
	api.Register(router, api.Options{
		Info: api.InfoSource{
			Color:    cfg.UI.Color,
			Logo:     cfg.UI.Logo,
			Message:  cfg.UI.Message,
			Revision: cfg.Server.Revision,
		},
		PublicDir: cfg.Server.PublicDir,
		Metrics:   m,
		Logger:    logger,
	})

	return &App{
		Config:     cfg,
		Logger:     logger,
		DB:         db,
		Metrics:    m,
		Controller: controller,
		Router:     router,
		Server:     server,
	}, nil
}

// Run serves until the termination signal drains the process.
func (a *App) Run() error {
	a.Logger.Info("Starting chili",
		zap.String("version", api.Version),
		zap.String("revision", a.Config.Server.Revision),
		zap.Int("port", a.Config.Server.Port),
		zap.String("db_dialect", a.Config.Database.Dialect),
	)

	if err := a.Server.Start(); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
