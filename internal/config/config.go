// Package config provides configuration loading for the migrator.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full migrator configuration. Values come from an optional
// YAML file first, then environment variables with the MIG_ prefix override.
type Config struct {
	// Remote warehouse (SQL Server style DSN).
	WarehouseDSN string `yaml:"warehouseDsn"`
	// Destination platform database (Postgres DSN).
	DatabaseDSN string `yaml:"databaseDsn"`

	// Blob store settings. An http(s) endpoint selects the S3 client; a
	// file:// endpoint selects the local store.
	BlobEndpointURL     string `yaml:"blobEndpointUrl"`
	BlobAccessKeyID     string `yaml:"blobAccessKeyId"`
	BlobSecretAccessKey string `yaml:"blobSecretAccessKey"`
	BlobBucket          string `yaml:"blobBucket"`
	BlobRegion          string `yaml:"blobRegion"`
	BlobUseSSL          bool   `yaml:"blobUseSsl"`

	// Only source file URLs under this host prefix are relocated; others are
	// skipped with a log line.
	SourceHostPrefix string `yaml:"sourceHostPrefix"`

	// Cohort-version prefixes eligible for this migration pass, e.g. "24,25".
	CohortPrefixes []string `yaml:"cohortPrefixes"`

	// Executor pool size.
	Workers int `yaml:"workers"`
	// Per-executor warehouse connection allowance; the pool is sized
	// Workers * WarehouseConnsPerWorker.
	WarehouseConnsPerWorker int `yaml:"warehouseConnsPerWorker"`
	// Warehouse queries per second across all executors.
	WarehouseQueryRate float64 `yaml:"warehouseQueryRate"`

	ProgressInterval time.Duration `yaml:"progressInterval"`
	FlushInterval    time.Duration `yaml:"flushInterval"`

	MigratedLogPath string `yaml:"migratedLogPath"`
	FailedLogPath   string `yaml:"failedLogPath"`
}

// Load builds a Config from defaults, an optional YAML file, and environment.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		BlobEndpointURL:         "file:///var/lib/migrator/blobs",
		BlobBucket:              "submissions",
		SourceHostPrefix:        "https://legacy-files.openmark.io/",
		CohortPrefixes:          []string{"24"},
		Workers:                 5,
		WarehouseConnsPerWorker: 2,
		WarehouseQueryRate:      20,
		ProgressInterval:        10 * time.Second,
		FlushInterval:           30 * time.Second,
		MigratedLogPath:         "migrated.csv",
		FailedLogPath:           "failed.csv",
	}
}

func (c *Config) applyEnv() {
	c.WarehouseDSN = getEnv("MIG_WAREHOUSE_DSN", c.WarehouseDSN)
	c.DatabaseDSN = getEnv("MIG_DATABASE_DSN", c.DatabaseDSN)
	c.BlobEndpointURL = getEnv("MIG_BLOB_ENDPOINT_URL", c.BlobEndpointURL)
	c.BlobAccessKeyID = getEnv("MIG_BLOB_ACCESS_KEY_ID", c.BlobAccessKeyID)
	c.BlobSecretAccessKey = getEnv("MIG_BLOB_SECRET_ACCESS_KEY", c.BlobSecretAccessKey)
	c.BlobBucket = getEnv("MIG_BLOB_BUCKET", c.BlobBucket)
	c.BlobRegion = getEnv("MIG_BLOB_REGION", c.BlobRegion)
	c.BlobUseSSL = getEnvBool("MIG_BLOB_USE_SSL", c.BlobUseSSL)
	c.SourceHostPrefix = getEnv("MIG_SOURCE_HOST_PREFIX", c.SourceHostPrefix)
	c.Workers = getEnvInt("MIG_WORKERS", c.Workers)
	c.WarehouseConnsPerWorker = getEnvInt("MIG_WAREHOUSE_CONNS_PER_WORKER", c.WarehouseConnsPerWorker)
	c.WarehouseQueryRate = getEnvFloat("MIG_WAREHOUSE_QUERY_RATE", c.WarehouseQueryRate)
	c.ProgressInterval = getEnvDuration("MIG_PROGRESS_INTERVAL", c.ProgressInterval)
	c.FlushInterval = getEnvDuration("MIG_FLUSH_INTERVAL", c.FlushInterval)
	c.MigratedLogPath = getEnv("MIG_MIGRATED_LOG", c.MigratedLogPath)
	c.FailedLogPath = getEnv("MIG_FAILED_LOG", c.FailedLogPath)

	if raw := os.Getenv("MIG_COHORT_PREFIXES"); raw != "" {
		var prefixes []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				prefixes = append(prefixes, p)
			}
		}
		c.CohortPrefixes = prefixes
	}
}

// Validate enforces the startup preconditions. A violation here aborts the
// run before any record is processed.
func (c *Config) Validate() error {
	if c.WarehouseDSN == "" {
		return fmt.Errorf("warehouse DSN is required (MIG_WAREHOUSE_DSN)")
	}
	if c.DatabaseDSN == "" {
		return fmt.Errorf("database DSN is required (MIG_DATABASE_DSN)")
	}
	if len(c.CohortPrefixes) == 0 {
		return fmt.Errorf("at least one cohort prefix is required (MIG_COHORT_PREFIXES)")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.WarehouseConnsPerWorker < 1 {
		return fmt.Errorf("warehouseConnsPerWorker must be >= 1, got %d", c.WarehouseConnsPerWorker)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
