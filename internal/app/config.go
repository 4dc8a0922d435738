package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/paperplanet/paperplanet-backend/internal/platform/envutil"
	"github.com/paperplanet/paperplanet-backend/internal/platform/logger"
)

// Config is assembled from the environment, then overlaid with the optional
// yaml file named by CONFIG_FILE. File values win.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Log struct {
		Mode string `yaml:"mode"`
	} `yaml:"log"`
	Vector struct {
		Backend string `yaml:"backend"`
	} `yaml:"vector"`
	Blob struct {
		Backend string `yaml:"backend"`
	} `yaml:"blob"`
}

func LoadConfig(log *logger.Logger) (Config, error) {
	var cfg Config
	cfg.Server.Addr = envutil.GetEnv("SERVER_ADDR", ":8080", log)
	cfg.Log.Mode = envutil.GetEnv("LOG_MODE", "development", log)
	cfg.Vector.Backend = strings.ToLower(envutil.GetEnv("VECTOR_BACKEND", "memory", log))
	cfg.Blob.Backend = strings.ToLower(envutil.GetEnv("BLOB_BACKEND", "", log))

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		log.Info("Loaded config file", "path", path)
	}

	// When no blob backend is forced, a configured bucket selects GCS.
	if cfg.Blob.Backend == "" {
		if strings.TrimSpace(os.Getenv("GCS_BUCKET_NAME")) != "" {
			cfg.Blob.Backend = "gcs"
		} else {
			cfg.Blob.Backend = "db"
		}
	}
	return cfg, nil
}
