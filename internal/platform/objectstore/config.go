package objectstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rasterflow-labs/rasterflow-go/internal/platform/env"
)

type Config struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Region         string
	UseSSL         bool
	BucketOutputs  string
	BucketProfiles string
}

func ConfigFromEnv() (Config, error) {
	useSSL, err := env.Bool("RASTERFLOW_MINIO_USE_SSL", false)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		Endpoint:       env.String("RASTERFLOW_MINIO_ENDPOINT", "localhost:9000"),
		AccessKey:      env.String("RASTERFLOW_MINIO_ACCESS_KEY", "rasterflow"),
		SecretKey:      env.String("RASTERFLOW_MINIO_SECRET_KEY", "rasterflowminio"),
		Region:         env.String("RASTERFLOW_MINIO_REGION", "us-east-1"),
		UseSSL:         useSSL,
		BucketOutputs:  env.String("RASTERFLOW_MINIO_BUCKET_OUTPUTS", "outputs"),
		BucketProfiles: env.String("RASTERFLOW_MINIO_BUCKET_PROFILES", "profiles"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

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
	if strings.TrimSpace(c.BucketOutputs) == "" {
		return errors.New("outputs bucket is required")
	}
	if strings.TrimSpace(c.BucketProfiles) == "" {
		return errors.New("profiles bucket is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("endpoint must not include scheme: %q", c.Endpoint)
	}
	return nil
}
