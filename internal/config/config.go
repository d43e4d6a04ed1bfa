package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the fully-resolved indexer configuration: TOML file contents
// with environment variable overrides applied on top.
type Config struct {
	General General                `toml:"general"`
	Chains  map[string]ChainConfig `toml:"chains"`
	Storage StorageConfig          `toml:"storage"`

	APIHost string
	APIPort string
}

type General struct {
	IndexerName string `toml:"indexer_name"`
}

type ChainConfig struct {
	Active        bool             `toml:"active"`
	RPCURL        string           `toml:"rpc_url"`
	ChainID       uint64           `toml:"chain_id"`
	BlockTime     uint64           `toml:"block_time"`
	PollingBlocks uint64           `toml:"polling_blocks"`
	ReorgBuffer   uint64           `toml:"reorg_buffer"`
	UseFinalized  bool             `toml:"use_finalized"`
	Contracts     []ContractConfig `toml:"contracts"`
}

type ContractConfig struct {
	Name    string        `toml:"name"`
	Address string        `toml:"address"`
	Events  []EventConfig `toml:"events"`
}

type EventConfig struct {
	Signature string   `toml:"signature"`
	Name      string   `toml:"name"`
	Params    []string `toml:"params"`
}

type StorageConfig struct {
	KafkaBroker    string   `toml:"kafka_broker"`
	KafkaTopics    []string `toml:"kafka_topics"`
	KafkaGroupID   string   `toml:"kafka_group_id"`
	TimescaleDBURL string   `toml:"timescale_db_url"`
	RedisURL       string   `toml:"redis_url"`
}

// Load reads the .env file (if present), parses the TOML file at
// CONFIG_PATH (default "config.toml"), and applies the documented
// environment variable overrides on top.
func Load() (*Config, error) {
	_ = godotenv.Load()

	path := getEnv("CONFIG_PATH", "config.toml")
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	cfg.APIHost = getEnv("API_HOST", "0.0.0.0")
	cfg.APIPort = getEnv("API_PORT", "8081")

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	for name, chain := range cfg.Chains {
		envVar := strings.ToUpper(name) + "_RPC_URL"
		if rpc := os.Getenv(envVar); rpc != "" {
			chain.RPCURL = rpc
			cfg.Chains[name] = chain
		}
	}

	if v := os.Getenv("TIMESCALE_DB_URL"); v != "" {
		cfg.Storage.TimescaleDBURL = v
	}
	if v := os.Getenv("KAFKA_BROKER"); v != "" {
		cfg.Storage.KafkaBroker = v
	}
	if v := os.Getenv("KAFKA_TOPICS"); v != "" {
		cfg.Storage.KafkaTopics = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_GROUP_ID"); v != "" {
		cfg.Storage.KafkaGroupID = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
