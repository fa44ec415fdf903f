package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"strconv"
)

// Load reads LitScout's configuration from environment variables and
// validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Name:     getenv("DB_NAME", "litscout"),
			User:     getenv("DB_USER", "admin"),
			Password: getenv("DB_PASSWORD", "admin"),
			Host:     getenv("DB_HOST", "localhost"),
			Port:     5432,
			DataDir:  os.Getenv("PGDATA"),
		},
		Encoder: EncoderConfig{
			ModelLabel: getenv("EMBED_MODEL", "bge-base-en-v1.5"),
			BaseURL:    getenv("ENCODER_BASE_URL", "http://localhost:8000"),
		},
		Provider: ProviderConfig{
			BaseURL: os.Getenv("OPENALEX_BASE_URL"),
		},
		Ingest: IngestConfig{
			MaxWorkers: 0,
		},
		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if raw := os.Getenv("DB_PORT"); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: DB_PORT must be an integer, got %q: %w", raw, err)
		}
		cfg.Database.Port = port
	}

	if raw := os.Getenv("INGEST_MAX_WORKERS"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: INGEST_MAX_WORKERS must be an integer, got %q: %w", raw, err)
		}
		cfg.Ingest.MaxWorkers = n
	}
	if cfg.Ingest.MaxWorkers <= 0 {
		cfg.Ingest.MaxWorkers = runtime.NumCPU()
	}
	if cfg.Ingest.MaxWorkers > MaxIngestWorkers {
		cfg.Ingest.MaxWorkers = MaxIngestWorkers
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxIngestWorkers is the hard ceiling on concurrent concept-ingestion
// workers, a courtesy to the upstream provider's rate limits.
const MaxIngestWorkers = 8

// DSN assembles a PostgreSQL connection string from the database settings.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.Database.User, c.Database.Password),
		Host:   fmt.Sprintf("%s:%d", c.Database.Host, c.Database.Port),
		Path:   "/" + c.Database.Name,
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// Validate checks that every required field is set and internally
// consistent.
func Validate(cfg *Config) error {
	var errs []error
	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("config: DB_NAME must not be empty"))
	}
	if cfg.Database.Host == "" {
		errs = append(errs, errors.New("config: DB_HOST must not be empty"))
	}
	if cfg.Database.Port <= 0 || cfg.Database.Port > 65535 {
		errs = append(errs, fmt.Errorf("config: DB_PORT must be between 1 and 65535, got %d", cfg.Database.Port))
	}
	if cfg.Encoder.ModelLabel == "" {
		errs = append(errs, errors.New("config: EMBED_MODEL must not be empty"))
	}
	if cfg.Ingest.MaxWorkers <= 0 {
		errs = append(errs, errors.New("config: INGEST_MAX_WORKERS resolved to a non-positive value"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
