// Package config provides the configuration schema and environment-variable
// loader for LitScout.
package config

// Config is LitScout's root configuration, assembled entirely from
// environment variables — there is no config file.
type Config struct {
	Database DatabaseConfig
	Encoder  EncoderConfig
	Provider ProviderConfig
	Ingest   IngestConfig
	LogLevel string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// Name, User, Password, Host, Port assemble the connection DSN. DataDir
	// is informational only — LitScout connects to an externally managed
	// Postgres instance; it does not start or stop one.
	Name     string
	User     string
	Password string
	Host     string
	Port     int
	DataDir  string
}

// EncoderConfig selects and addresses the text-embedding backend.
type EncoderConfig struct {
	// ModelLabel is recorded alongside every stored embedding and used as
	// the storage conflict key's second component.
	ModelLabel string
	// BaseURL is the local embedding server's address.
	BaseURL string
}

// ProviderConfig addresses the upstream scholarly catalog.
type ProviderConfig struct {
	// BaseURL overrides the default OpenAlex API root; used in tests
	// against a fake server.
	BaseURL string
}

// IngestConfig bounds ingestion concurrency.
type IngestConfig struct {
	// MaxWorkers caps the number of concepts ingested concurrently. Defaults
	// to min(runtime.NumCPU(), 8); the hard 8-worker ceiling is a courtesy
	// to the upstream provider's rate limits, not a local resource limit.
	MaxWorkers int
}
