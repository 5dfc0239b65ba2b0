package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the node configuration read from TOML. Durations are strings in
// time.ParseDuration syntax and are parsed by Runtime.
type Config struct {
	DataDir            string `toml:"DataDir"`
	GenesisFile        string `toml:"GenesisFile"`
	Environment        string `toml:"Environment"`
	CheckpointInterval string `toml:"CheckpointInterval"`
	AdapterTimeout     string `toml:"AdapterTimeout"`

	Log          Log          `toml:"log"`
	Oracle       Oracle       `toml:"oracle"`
	Yield        Yield        `toml:"yield"`
	API          API          `toml:"api"`
	Journal      Journal      `toml:"journal"`
	Telemetry    Telemetry    `toml:"telemetry"`
	FeeConverter FeeConverter `toml:"fee_converter"`
	Webhook      Webhook      `toml:"webhook"`
}

// Default returns the configuration written when no file exists.
func Default() *Config {
	return &Config{
		DataDir:            "./reflex-data",
		GenesisFile:        "genesis.yaml",
		Environment:        "local",
		CheckpointInterval: "1m",
		AdapterTimeout:     "10s",
		Log: Log{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		Oracle: Oracle{
			FeedID:         "reflex-usd",
			MaxAge:         "1h",
			CacheTTL:       "30s",
			Primary:        "manual",
			ManualPrice:    "1",
			ManualDecimals: 8,
		},
		Yield: Yield{
			MaxAttempts:    4,
			MinBackoff:     "200ms",
			MaxBackoff:     "5s",
			RequestTimeout: "10s",
		},
		API: API{
			ListenAddress:     ":8080",
			MetricsAddress:    ":9090",
			JWTSecretEnv:      "REFLEX_JWT_SECRET",
			JWTIssuer:         "reflexstake",
			RateLimitPerSec:   20,
			RateLimitBurst:    40,
			ReadHeaderTimeout: "5s",
		},
		Telemetry: Telemetry{SampleRatio: 1},
		Webhook:   Webhook{SecretEnv: "REFLEX_WEBHOOK_SECRET", MaxAttempts: 5},
	}
}

// Load loads the configuration from the given path, writing the defaults there
// first when the file does not exist.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if cfg.GenesisFile != "" && !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
