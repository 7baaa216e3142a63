// Package config loads verifier settings from the environment, optionally
// overlaid by a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/pcclite/pkg/crypto"
	"github.com/Mindburn-Labs/pcclite/pkg/ledger"
)

// Config holds verifier configuration.
type Config struct {
	Port      string `yaml:"port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // "text" | "json"

	AnchorsPath string `yaml:"anchors_path"`
	RedisAddr   string `yaml:"redis_addr"` // if set, anchors come from Redis instead of AnchorsPath
	RedisKey    string `yaml:"redis_key"`

	LedgerDriver string `yaml:"ledger_driver"` // memory | file | sqlite | postgres
	LedgerDSN    string `yaml:"ledger_dsn"`

	VectorsDir string `yaml:"vectors_dir"`
	OutDir     string `yaml:"out_dir"`
	HashAlg    string `yaml:"hash_alg"`

	OTLPEndpoint    string `yaml:"otlp_endpoint"` // empty disables export
	OTLPInsecure    bool   `yaml:"otlp_insecure"`
	MetricsTextfile string `yaml:"metrics_textfile"`

	ArtifactStore    string `yaml:"artifact_store"` // "" disables publishing; fs | s3 | gcs
	ArtifactBucket   string `yaml:"artifact_bucket"`
	ArtifactPrefix   string `yaml:"artifact_prefix"`
	ArtifactRegion   string `yaml:"artifact_region"`
	ArtifactEndpoint string `yaml:"artifact_endpoint"`
}

// Load reads configuration from environment variables, then overlays the
// YAML file named by PCC_CONFIG when set. Keys present in the file win.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getenv("PORT", "8080"),
		LogLevel:         getenv("LOG_LEVEL", "INFO"),
		LogFormat:        getenv("LOG_FORMAT", "text"),
		AnchorsPath:      getenv("PCC_ANCHORS_PATH", "anchors.json"),
		RedisAddr:        os.Getenv("PCC_REDIS_ADDR"),
		RedisKey:         getenv("PCC_REDIS_KEY", "pcclite:anchors"),
		LedgerDriver:     getenv("PCC_LEDGER_DRIVER", ledger.BackendFile),
		LedgerDSN:        os.Getenv("PCC_LEDGER_DSN"),
		VectorsDir:       getenv("PCC_VECTORS_DIR", "vectors"),
		OutDir:           getenv("PCC_OUT_DIR", "out"),
		HashAlg:          getenv("PCC_HASH_ALG", crypto.AlgSHA256),
		OTLPEndpoint:     os.Getenv("PCC_OTLP_ENDPOINT"),
		OTLPInsecure:     os.Getenv("PCC_OTLP_INSECURE") == "true",
		MetricsTextfile:  os.Getenv("PCC_METRICS_TEXTFILE"),
		ArtifactStore:    os.Getenv("PCC_ARTIFACT_STORE"),
		ArtifactBucket:   os.Getenv("PCC_ARTIFACT_BUCKET"),
		ArtifactPrefix:   os.Getenv("PCC_ARTIFACT_PREFIX"),
		ArtifactRegion:   getenv("PCC_ARTIFACT_REGION", os.Getenv("AWS_REGION")),
		ArtifactEndpoint: os.Getenv("PCC_ARTIFACT_ENDPOINT"),
	}

	if path := os.Getenv("PCC_CONFIG"); path != "" {
		if err := cfg.Overlay(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Overlay applies the keys present in a YAML file. Unknown keys are an
// error so a typo cannot silently fall back to a default.
func (c *Config) Overlay(path string) error {
	f, err := os.Open(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return fmt.Errorf("load config %q: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// Validate rejects settings no component can honor.
func (c *Config) Validate() error {
	if _, err := crypto.New(c.HashAlg); err != nil {
		return fmt.Errorf("config: hash_alg: %w", err)
	}
	switch c.LedgerDriver {
	case ledger.BackendMemory, ledger.BackendFile, ledger.BackendSQLite, ledger.BackendPostgres:
	default:
		return fmt.Errorf("config: unknown ledger_driver %q", c.LedgerDriver)
	}
	if c.LedgerDriver == ledger.BackendPostgres && c.LedgerDSN == "" {
		return fmt.Errorf("config: ledger_dsn is required for postgres")
	}
	switch c.ArtifactStore {
	case "", "fs", "s3", "gcs":
	default:
		return fmt.Errorf("config: unknown artifact_store %q", c.ArtifactStore)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	return nil
}

// SlogLevel returns LogLevel as a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// LedgerTarget resolves the ledger DSN, defaulting the file ledger to
// ledger_seal.jsonl under OutDir.
func (c *Config) LedgerTarget() string {
	if c.LedgerDSN == "" && (c.LedgerDriver == ledger.BackendFile || c.LedgerDriver == "") {
		return strings.TrimRight(c.OutDir, "/") + "/ledger_seal.jsonl"
	}
	return c.LedgerDSN
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
