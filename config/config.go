// Package config loads registry node settings from REGISTRY_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/blockberries/registry/types"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds every setting of the registry-node binary.
type Config struct {
	GRPCAddr string `env:"REGISTRY_GRPC_ADDR" envDefault:"127.0.0.1:9090"`
	HTTPAddr string `env:"REGISTRY_HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	Store       string `env:"REGISTRY_STORE"        envDefault:"sqlite"`
	SQLitePath  string `env:"REGISTRY_SQLITE_PATH"  envDefault:"registry.db"`
	PostgresDSN string `env:"REGISTRY_POSTGRES_DSN"`

	GenesisFile string `env:"REGISTRY_GENESIS_FILE"`
	ChainID     string `env:"REGISTRY_CHAIN_ID" envDefault:"registry-dev"`

	BlockInterval    time.Duration `env:"REGISTRY_BLOCK_INTERVAL"      envDefault:"1s"`
	InstantBlocks    bool          `env:"REGISTRY_INSTANT_BLOCKS"`
	Author           string        `env:"REGISTRY_AUTHOR"`
	MaxAncestryDepth int           `env:"REGISTRY_MAX_ANCESTRY_DEPTH"  envDefault:"1024"`
	SnapshotChunk    int           `env:"REGISTRY_SNAPSHOT_CHUNK_SIZE" envDefault:"65536"`

	LogLevel  string `env:"REGISTRY_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"REGISTRY_LOG_FORMAT" envDefault:"json"`

	OTLPEndpoint string `env:"REGISTRY_OTLP_ENDPOINT"`
	ServiceName  string `env:"REGISTRY_SERVICE_NAME" envDefault:"registry-node"`
}

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	return parse(env.Options{})
}

// LoadFrom parses the given variables instead of the process environment.
func LoadFrom(vars map[string]string) (Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("REGISTRY_SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("REGISTRY_POSTGRES_DSN is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_STORE %q: want memory, sqlite or postgres", c.Store))
	}
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("REGISTRY_GRPC_ADDR is required"))
	}
	if !c.InstantBlocks && c.BlockInterval <= 0 {
		errs = append(errs, fmt.Errorf("REGISTRY_BLOCK_INTERVAL %s must be positive", c.BlockInterval))
	}
	if c.MaxAncestryDepth <= 0 {
		errs = append(errs, fmt.Errorf("REGISTRY_MAX_ANCESTRY_DEPTH %d must be positive", c.MaxAncestryDepth))
	}
	if c.Author != "" {
		if _, err := types.ParseAccountId(c.Author); err != nil {
			errs = append(errs, fmt.Errorf("REGISTRY_AUTHOR: %w", err))
		}
	}
	if _, err := c.level(); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("REGISTRY_LOG_FORMAT %q: want json or text", c.LogFormat))
	}
	if c.GenesisFile == "" && c.ChainID == "" {
		errs = append(errs, errors.New("REGISTRY_CHAIN_ID is required without a genesis file"))
	}
	return errors.Join(errs...)
}

// AuthorAccount returns the account credited with block fees, if any.
func (c Config) AuthorAccount() (types.AccountId, bool, error) {
	if c.Author == "" {
		return types.AccountId{}, false, nil
	}
	id, err := types.ParseAccountId(c.Author)
	if err != nil {
		return types.AccountId{}, false, fmt.Errorf("REGISTRY_AUTHOR: %w", err)
	}
	return id, true, nil
}

func (c Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("REGISTRY_LOG_LEVEL %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// Logger builds the process logger writing to w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, err := c.level()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
