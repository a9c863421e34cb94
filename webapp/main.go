package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/daumittal/carprice/internal/experiment"
	"github.com/daumittal/carprice/internal/pipeline"
	"github.com/daumittal/carprice/internal/platform/httpserver"
	"github.com/daumittal/carprice/internal/platform/objectstore"
	"github.com/daumittal/carprice/internal/platform/postgres"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := appConfigFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	logFile, err := openLogFile(cfg.LogDir, time.Now())
	if err != nil {
		logger.Error("log file unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = logFile.Close() }()
	logger = newLogger(io.MultiWriter(os.Stdout, logFile))

	l, err := resolveLayout(cfg, time.Now())
	if err != nil {
		logger.Error("invalid pipeline config", "path", cfg.ConfigPath, "error", err)
		os.Exit(2)
	}

	var readiness []httpserver.ReadinessCheck

	var experiments experiment.Store
	if postgres.Configured() {
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid database config", "error", err)
			os.Exit(2)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		sqlStore := experiment.NewSQLStore(db)
		if err := sqlStore.EnsureSchema(ctx); err != nil {
			logger.Error("experiment schema init failed", "error", err)
			os.Exit(1)
		}
		experiments = sqlStore
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name:    "postgres",
			Timeout: dbCfg.PingTimeout,
			Check: func(ctx context.Context) error {
				return postgres.Ping(ctx, db, dbCfg.PingTimeout)
			},
		})
		logger.Info("experiment history in postgres", "target", dbCfg.Target())
	} else {
		logger.Warn("DATABASE_URL not set, experiment history kept in memory")
		experiments = experiment.NewMemoryStore()
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	minioClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	objects, err := objectstore.NewMinioStoreWithClient(minioClient)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		os.Exit(2)
	}
	if storeCfg.Bucket != "" {
		readiness = append(readiness, httpserver.ReadinessCheck{
			Name:    "s3",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				return objectstore.CheckBucket(ctx, minioClient, storeCfg.Bucket)
			},
		})
	}

	runner, err := pipeline.New(pipeline.Options{
		ConfigPath: cfg.ConfigPath,
		RootDir:    cfg.RootDir,
		Stages: pipeline.DefaultStages(
			&pipeline.IngestionStage{Store: objects, TestEvery: cfg.TestEvery},
			cfg.TransformCmd,
			cfg.TrainCmd,
			cfg.EvaluateCmd,
		),
		Store:  experiments,
		Logger: logger,
	})
	if err != nil {
		logger.Error("pipeline init failed", "error", err)
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, readiness...))

	api := newWebAPI(ctx, logger, runner, experiments, l)
	if len(cfg.PredictCmd) > 0 {
		api.predictor = &pipeline.Predictor{Command: cfg.PredictCmd, Dir: cfg.RootDir, Timeout: cfg.PredictTimeout}
	}
	api.register(mux)

	srvCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	logger.Info("service configured",
		"root_dir", cfg.RootDir,
		"config_path", cfg.ConfigPath,
		"artifact_root", l.ArtifactRoot,
		"model_root", l.ModelRoot,
		"training_enabled", len(cfg.TrainCmd) > 0,
		"prediction_enabled", len(cfg.PredictCmd) > 0,
	)

	err = httpserver.Run(ctx, logger, srvCfg, httpserver.Wrap(logger, serviceName, mux))
	runner.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
