package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/daumittal/carprice/internal/platform/env"
)

// Config describes the S3-compatible endpoint holding the raw datasets.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	UseSSL    bool
	Bucket    string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("CARPRICE_S3_USE_SSL", true)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:  env.String("CARPRICE_S3_ENDPOINT", "s3.amazonaws.com"),
		AccessKey: env.String("CARPRICE_S3_ACCESS_KEY", ""),
		SecretKey: env.String("CARPRICE_S3_SECRET_KEY", ""),
		Region:    env.String("CARPRICE_S3_REGION", "us-east-1"),
		UseSSL:    useSSL,
		Bucket:    env.String("CARPRICE_S3_BUCKET", ""),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the endpoint settings. Bucket is optional here because the
// pipeline document names the dataset bucket; when set it is used for readiness checks.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("endpoint is required")
	}
	if strings.TrimSpace(c.AccessKey) == "" {
		return errors.New("access key is required")
	}
	if strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("secret key is required")
	}
	if strings.TrimSpace(c.Region) == "" {
		return errors.New("region is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
