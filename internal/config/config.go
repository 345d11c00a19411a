package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration loaded from config.yaml with
// environment-variable overrides.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	TokenRail    TokenRailConfig    `yaml:"token_rail"`
	ContractRail ContractRailConfig `yaml:"contract_rail"`
	Judge        JudgeConfig        `yaml:"judge"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	NATS         NATSConfig         `yaml:"nats"`
	CORS         CORSConfig         `yaml:"cors"`
	Admin        AdminConfig        `yaml:"admin"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	Driver       string `yaml:"driver"`
	MaxOpenConns int    `yaml:"maxOpenConns"`
	MaxIdleConns int    `yaml:"maxIdleConns"`
}

// TokenRailConfig configures the ledger-transfer rail. The custodial escrow
// credential signs release/refund transfers; deposits are signed with the
// caller-supplied credential.
type TokenRailConfig struct {
	BaseURL          string `yaml:"baseUrl"`
	APIKey           string `yaml:"apiKey"`
	EscrowAddress    string `yaml:"escrowAddress"`
	EscrowCredential string `yaml:"escrowCredential"`
	TimeoutSeconds   int    `yaml:"timeout"`       // per HTTP call
	TicketPollMillis int    `yaml:"ticketPollMs"`  // interval between ticket status polls
	TicketWaitSecs   int    `yaml:"ticketWaitSec"` // total budget to resolve a ticket
	Enabled          bool   `yaml:"enabled"`
}

// ContractRailConfig configures the on-chain escrow-contract rail.
type ContractRailConfig struct {
	RPCEndpoints   []string `yaml:"rpcEndpoints"`
	ChainID        int64    `yaml:"chainId"`
	EscrowContract string   `yaml:"escrowContract"`
	PrivateKey     string   `yaml:"privateKey"` // hex, no 0x prefix; env override preferred
	GasLimit       uint64   `yaml:"gasLimit"`
	ConfirmTimeout int      `yaml:"confirmTimeout"` // seconds to wait for one confirmation
	Enabled        bool     `yaml:"enabled"`
}

type JudgeConfig struct {
	BaseURL        string `yaml:"baseUrl"`
	APIKey         string `yaml:"apiKey"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout"`
}

type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval"`    // seconds between passes
	GraceDays       int `yaml:"graceDays"`   // refund window after a task deadline
	MaxLockDays     int `yaml:"maxLockDays"` // lock ceiling for tasks without a deadline
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subjectPrefix"`
	Timeout       int    `yaml:"timeout"`
	Enabled       bool   `yaml:"enabled"`
}

type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AdminConfig gates the operator surface (sweeper trigger, dead letters).
// Secrets come from the environment only.
type AdminConfig struct {
	AllowedIPs []string `yaml:"allowedIPs"`
	JWTSecret  string   `yaml:"-"`
	TOTPSecret string   `yaml:"-"`
	Password   string   `yaml:"-"`
}

var AppConfig *Config

// LoadConfig reads the yaml config file, preferring config.local.yaml when it
// exists, then applies environment overrides.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&config)
	overrideFromEnv(&config)

	AppConfig = &config
	return nil
}

func applyDefaults(config *Config) {
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = 25
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = 5
	}
	if config.TokenRail.TimeoutSeconds == 0 {
		config.TokenRail.TimeoutSeconds = 15
	}
	if config.TokenRail.TicketPollMillis == 0 {
		config.TokenRail.TicketPollMillis = 1000
	}
	if config.TokenRail.TicketWaitSecs == 0 {
		config.TokenRail.TicketWaitSecs = 30
	}
	if config.ContractRail.ConfirmTimeout == 0 {
		config.ContractRail.ConfirmTimeout = 90
	}
	if config.ContractRail.GasLimit == 0 {
		config.ContractRail.GasLimit = 300000
	}
	if config.Judge.TimeoutSeconds == 0 {
		config.Judge.TimeoutSeconds = 60
	}
	if config.Sweeper.IntervalSeconds == 0 {
		config.Sweeper.IntervalSeconds = 300
	}
	if config.Sweeper.GraceDays == 0 {
		config.Sweeper.GraceDays = 7
	}
	if config.Sweeper.MaxLockDays == 0 {
		config.Sweeper.MaxLockDays = 90
	}
	if config.NATS.Timeout == 0 {
		config.NATS.Timeout = 5
	}
}

func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	// Token rail
	if url := os.Getenv("TOKEN_RAIL_BASE_URL"); url != "" {
		config.TokenRail.BaseURL = url
	}
	if key := os.Getenv("TOKEN_RAIL_API_KEY"); key != "" {
		config.TokenRail.APIKey = key
	}
	if addr := os.Getenv("ESCROW_ADDRESS"); addr != "" {
		config.TokenRail.EscrowAddress = addr
	}
	if cred := os.Getenv("ESCROW_CREDENTIAL"); cred != "" {
		config.TokenRail.EscrowCredential = cred
	}

	// Contract rail
	if rpc := os.Getenv("ETH_RPC_ENDPOINTS"); rpc != "" {
		config.ContractRail.RPCEndpoints = splitAndTrim(rpc)
	}
	if contract := os.Getenv("ESCROW_CONTRACT_ADDRESS"); contract != "" {
		config.ContractRail.EscrowContract = contract
	}
	if pk := os.Getenv("ETH_ADMIN_PRIVATE_KEY"); pk != "" {
		config.ContractRail.PrivateKey = pk
	}

	// Judge
	if url := os.Getenv("JUDGE_BASE_URL"); url != "" {
		config.Judge.BaseURL = url
	}
	if key := os.Getenv("JUDGE_API_KEY"); key != "" {
		config.Judge.APIKey = key
	}
	if model := os.Getenv("JUDGE_MODEL"); model != "" {
		config.Judge.Model = model
	}

	// NATS
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
		config.NATS.Enabled = true
	}

	// Sweeper
	if interval := os.Getenv("SWEEPER_INTERVAL_SECONDS"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			config.Sweeper.IntervalSeconds = v
		}
	}

	// CORS
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		config.CORS.AllowedOrigins = splitAndTrim(corsOrigins)
	}

	// Admin secrets are environment-only.
	config.Admin.JWTSecret = os.Getenv("ADMIN_JWT_SECRET")
	config.Admin.TOTPSecret = os.Getenv("ADMIN_TOTP_SECRET")
	config.Admin.Password = os.Getenv("ADMIN_PASSWORD")
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// SweepInterval returns the sweeper pass interval as a duration.
func (c *SweeperConfig) SweepInterval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// GracePeriod returns the post-deadline refund grace window.
func (c *SweeperConfig) GracePeriod() time.Duration {
	return time.Duration(c.GraceDays) * 24 * time.Hour
}

// MaxLockDuration returns the lock ceiling for tasks without a deadline.
func (c *SweeperConfig) MaxLockDuration() time.Duration {
	return time.Duration(c.MaxLockDays) * 24 * time.Hour
}
