package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"tasksync/internal/auth"
	"tasksync/internal/config"
	"tasksync/internal/connectivity"
	"tasksync/internal/gateway"
	"tasksync/internal/logging"
	"tasksync/internal/repository"
	"tasksync/internal/service"
)

// app wires the client together: config, local store, gateway client,
// connectivity observer, and the reconciling services.
type app struct {
	cfg      config.Config
	log      zerolog.Logger
	db       *gorm.DB
	tokens   *auth.FileTokenStore
	gw       *gateway.Client
	observer *connectivity.Observer
	tasks    *service.TaskService
	reports  *service.ReportService
	profiles *repository.ProfileRepository
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logging.New(cfg.LogLevel)

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	tokens := auth.NewFileTokenStore(cfg.TokenFile)
	gw := gateway.New(cfg.BaseURL, tokens, cfg.HTTPTimeout, log)

	// One synchronous probe decides the starting state; watch mode keeps it
	// fresh afterwards.
	observer := connectivity.NewObserver(initialOnline(ctx, gw), cfg.Debounce, log)

	taskRepo := repository.NewTaskRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	tasks := service.NewTaskService(taskRepo, gw, observer, log)
	reports := service.NewReportService(taskRepo, observer)

	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		tokens:   tokens,
		gw:       gw,
		observer: observer,
		tasks:    tasks,
		reports:  reports,
		profiles: profileRepo,
	}, nil
}

func initialOnline(ctx context.Context, gw *gateway.Client) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return gw.Ping(probeCtx) == nil
}

func (a *app) close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
