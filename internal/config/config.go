package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	NATS       NATSConfig       `yaml:"nats"`
	Settlement SettlementConfig `yaml:"settlement"`
	Vault      VaultConfig      `yaml:"vault"`
	Token      TokenConfig      `yaml:"token"`
	CORS       CORSConfig       `yaml:"cors"`
	Admin      AdminConfig      `yaml:"admin"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig database configuration
// Driver "memory" runs the service against in-memory repositories (dev/test).
type DatabaseConfig struct {
	DSN    string `yaml:"dsn"`
	Driver string `yaml:"driver"`
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	StreamName      string `yaml:"stream_name"`
}

// SettlementConfig settlement node configuration
type SettlementConfig struct {
	// LocalEid is the endpoint id this node answers for.
	LocalEid uint32 `yaml:"local_eid"`
	// Identity is the hex address this node signs outbound messages with.
	// Remote peers must register it before accepting our deliveries.
	Identity string `yaml:"identity"`
	// Peers maps remote endpoint ids to the trusted sender identity
	// (hex address) allowed to deliver messages for that endpoint.
	Peers map[uint32]string `yaml:"peers"`
	// FeePerByte native fee charged per encoded payload byte.
	FeePerByte string `yaml:"fee_per_byte"`
}

// VaultConfig yield vault / rate source configuration
type VaultConfig struct {
	// Provider is "http" for a remote rate source or "static" for a
	// fixed-ratio vault (dev/test).
	Provider string `yaml:"provider"`
	URL      string `yaml:"url"`
	// StaticRatio shares-per-underlying ratio scaled by 1e18, used when
	// Provider is "static".
	StaticRatio string `yaml:"static_ratio"`
	// Address of the vault; the zero address is rejected.
	Address string `yaml:"address"`
	Timeout int    `yaml:"timeout"`
}

// TokenConfig underlying asset configuration
type TokenConfig struct {
	// Provider is "erc20" for an on-chain token or "ledger" for the
	// in-process token book (dev/test).
	Provider string `yaml:"provider"`
	RPCURL   string `yaml:"rpc_url"`
	Address  string `yaml:"address"`
	Decimals uint8  `yaml:"decimals"`
	// OperatorKey hex private key used to sign transfer transactions.
	// Prefer the TOKEN_OPERATOR_KEY environment variable.
	OperatorKey string `yaml:"operator_key"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// AdminConfig admin API access control configuration
type AdminConfig struct {
	Enabled       bool     `yaml:"enabled"`
	SessionExpiry string   `yaml:"session_expiry"`
	AllowedIPs    []string `yaml:"allowed_ips"`
}

// AppConfig global configuration instance
var AppConfig *Config

// LoadConfig loads configuration from the given YAML file and applies
// environment variable overrides.
func LoadConfig(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	AppConfig = cfg
	log.Printf("✅ Configuration loaded from %s", path)
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}
	if cfg.NATS.Timeout == 0 {
		cfg.NATS.Timeout = 10
	}
	if cfg.NATS.StreamName == "" {
		cfg.NATS.StreamName = "SETTLEMENT_MESSAGES"
	}
	if cfg.Settlement.FeePerByte == "" {
		cfg.Settlement.FeePerByte = "1000000000" // 1 gwei per byte
	}
	if cfg.Vault.Provider == "" {
		cfg.Vault.Provider = "static"
	}
	if cfg.Vault.StaticRatio == "" {
		cfg.Vault.StaticRatio = "1000000000000000000" // 1:1
	}
	if cfg.Vault.Timeout == 0 {
		cfg.Vault.Timeout = 15
	}
	if cfg.Token.Provider == "" {
		cfg.Token.Provider = "ledger"
	}
	if cfg.Token.Decimals == 0 {
		cfg.Token.Decimals = 6
	}
	if cfg.Admin.SessionExpiry == "" {
		cfg.Admin.SessionExpiry = "24h"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("VAULT_URL"); v != "" {
		cfg.Vault.URL = v
		cfg.Vault.Provider = "http"
	}
	if v := os.Getenv("TOKEN_RPC_URL"); v != "" {
		cfg.Token.RPCURL = v
	}
	if v := os.Getenv("TOKEN_OPERATOR_KEY"); v != "" {
		cfg.Token.OperatorKey = v
	}
	if v := os.Getenv("SETTLEMENT_LOCAL_EID"); v != "" {
		if eid, err := strconv.ParseUint(v, 10, 32); err == nil {
			cfg.Settlement.LocalEid = uint32(eid)
		}
	}
}

// ParsedSessionExpiry returns the admin session expiry duration,
// defaulting to 24h on parse failure.
func (c *AdminConfig) ParsedSessionExpiry() time.Duration {
	d, err := time.ParseDuration(c.SessionExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}
