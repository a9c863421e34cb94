package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/daumittal/carprice/internal/config"
	"github.com/daumittal/carprice/internal/platform/env"
)

const serviceName = "carprice"

type appConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
	RootDir         string
	ConfigPath      string
	LogDir          string
	TestEvery       int
	TransformCmd    []string
	TrainCmd        []string
	EvaluateCmd     []string
	PredictCmd      []string
	PredictTimeout  time.Duration
}

func appConfigFromEnv() (appConfig, error) {
	shutdownTimeout, err := env.Duration("CARPRICE_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return appConfig{}, err
	}
	predictTimeout, err := env.Duration("CARPRICE_PREDICT_TIMEOUT", 30*time.Second)
	if err != nil {
		return appConfig{}, err
	}
	testEvery, err := env.Int("CARPRICE_TEST_EVERY", 5)
	if err != nil {
		return appConfig{}, err
	}
	root := strings.TrimSpace(env.String("CARPRICE_ROOT_DIR", ""))
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return appConfig{}, fmt.Errorf("working directory: %w", err)
		}
	}
	root, err = filepath.Abs(root)
	if err != nil {
		return appConfig{}, fmt.Errorf("root dir: %w", err)
	}

	cfg := appConfig{
		Addr:            env.String("CARPRICE_HTTP_ADDR", ":8080"),
		ShutdownTimeout: shutdownTimeout,
		RootDir:         root,
		ConfigPath:      env.String("CARPRICE_CONFIG_PATH", config.DefaultConfigPath(root)),
		LogDir:          env.String("CARPRICE_LOG_DIR", filepath.Join(root, "logs")),
		TestEvery:       testEvery,
		TransformCmd:    env.Fields("CARPRICE_TRANSFORM_CMD"),
		TrainCmd:        env.Fields("CARPRICE_TRAIN_CMD"),
		EvaluateCmd:     env.Fields("CARPRICE_EVALUATE_CMD"),
		PredictCmd:      env.Fields("CARPRICE_PREDICT_CMD"),
		PredictTimeout:  predictTimeout,
	}
	if err := cfg.Validate(); err != nil {
		return appConfig{}, err
	}
	return cfg, nil
}

func (c appConfig) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("http addr is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if strings.TrimSpace(c.ConfigPath) == "" {
		return errors.New("config path is required")
	}
	if strings.TrimSpace(c.LogDir) == "" {
		return errors.New("log dir is required")
	}
	if c.TestEvery < 2 {
		return fmt.Errorf("test split interval must be at least 2: %d", c.TestEvery)
	}
	if c.PredictTimeout <= 0 {
		return errors.New("predict timeout must be positive")
	}
	if len(c.EvaluateCmd) > 0 && len(c.TrainCmd) == 0 {
		return errors.New("evaluate command requires a train command")
	}
	return nil
}
