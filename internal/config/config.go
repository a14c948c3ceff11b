package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	Redis         RedisConfig         `json:"redis"`
	Stellar       StellarConfig       `json:"stellar"`
	AWS           AWSConfig           `json:"aws"`
	Security      SecurityConfig      `json:"security"`
	Logging       LoggingConfig       `json:"logging"`
	Escrow        EscrowConfig        `json:"escrow"`
	Validators    ValidatorsConfig    `json:"validators"`
	Notifications NotificationsConfig `json:"notifications"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ReadTimeout     Duration `json:"read_timeout"`
	WriteTimeout    Duration `json:"write_timeout"`
	IdleTimeout     Duration `json:"idle_timeout"`
	ShutdownTimeout Duration `json:"shutdown_timeout"`
	AllowedOrigins  []string `json:"allowed_origins"`
}

// DatabaseConfig represents database configuration. Driver "memory" keeps
// everything in process.
type DatabaseConfig struct {
	Driver         string   `json:"driver"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	User           string   `json:"user"`
	Password       string   `json:"password"`
	DBName         string   `json:"db_name"`
	SSLMode        string   `json:"ssl_mode"`
	MaxConnections int      `json:"max_connections"`
	MaxIdleConns   int      `json:"max_idle_conns"`
	MaxLifetime    Duration `json:"max_lifetime"`
	AutoMigrate    bool     `json:"auto_migrate"`
}

// RedisConfig enables distributed locking when Addr is set
type RedisConfig struct {
	Addr       string   `json:"addr"`
	Password   string   `json:"password"`
	DB         int      `json:"db"`
	LockPrefix string   `json:"lock_prefix"`
	LockTTL    Duration `json:"lock_ttl"`
}

// StellarConfig selects and configures the ledger. Driver "memory" uses an
// in-process ledger.
type StellarConfig struct {
	Driver        string   `json:"driver"`
	HorizonURL    string   `json:"horizon_url"`
	Network       string   `json:"network"`
	PoolSecretKey string   `json:"pool_secret_key"`
	TxTimeoutSecs int64    `json:"tx_timeout_secs"`
	CallTimeout   Duration `json:"call_timeout"`
}

// AWSConfig holds the evidence archive and notification transport settings
type AWSConfig struct {
	Region         string `json:"region"`
	EvidenceBucket string `json:"evidence_bucket"`
	EvidencePrefix string `json:"evidence_prefix"`
	SNSTopicARN    string `json:"sns_topic_arn"`
	SESSender      string `json:"ses_sender"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret   string   `json:"jwt_secret"`
	TokenIssuer string   `json:"token_issuer"`
	TokenTTL    Duration `json:"token_ttl"`
}

// LoggingConfig
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// EscrowConfig tunes the escrow engine
type EscrowConfig struct {
	HighTrustReputation float64  `json:"high_trust_reputation"`
	SoftProgressRatio   float64  `json:"soft_progress_ratio"`
	HoldGracePeriod     Duration `json:"hold_grace_period"`
	PendingOpTimeout    Duration `json:"pending_op_timeout"`
	PoolAddress         string   `json:"pool_address"`
}

// ValidatorsConfig tunes the validator registry
type ValidatorsConfig struct {
	SearchRadiusKm      float64 `json:"search_radius_km"`
	RewardPerValidation float64 `json:"reward_per_validation"`
	SeedDefaults        bool    `json:"seed_defaults"`
}

// NotificationsConfig tunes validator recruitment. Transports lists any of
// "websocket", "sns" and "ses".
type NotificationsConfig struct {
	RatePerSecond  float64  `json:"rate_per_second"`
	Burst          int      `json:"burst"`
	ResponseWindow Duration `json:"response_window"`
	SendTimeout    Duration `json:"send_timeout"`
	Backups        int      `json:"backups"`
	Transports     []string `json:"transports"`
}

// SchedulerConfig configures the deadline sweeper
type SchedulerConfig struct {
	Enabled             bool     `json:"enabled"`
	Spec                string   `json:"spec"`
	Concurrency         int      `json:"concurrency"`
	ClawbackGracePeriod Duration `json:"clawback_grace_period"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration{15 * time.Second},
			WriteTimeout:    Duration{30 * time.Second},
			IdleTimeout:     Duration{60 * time.Second},
			ShutdownTimeout: Duration{20 * time.Second},
		},
		Database: DatabaseConfig{
			Driver:         "memory",
			Host:           "localhost",
			Port:           5432,
			User:           os.Getenv("USER"),
			DBName:         "impact_escrow",
			SSLMode:        "disable",
			MaxConnections: 20,
			MaxIdleConns:   5,
			MaxLifetime:    Duration{30 * time.Minute},
			AutoMigrate:    true,
		},
		Redis: RedisConfig{
			LockPrefix: "escrow:lock:",
			LockTTL:    Duration{30 * time.Second},
		},
		Stellar: StellarConfig{
			Driver:        "memory",
			Network:       "testnet",
			TxTimeoutSecs: 60,
			CallTimeout:   Duration{15 * time.Second},
		},
		AWS: AWSConfig{
			Region:         "eu-west-1",
			EvidencePrefix: "evidence",
		},
		Security: SecurityConfig{
			TokenIssuer: "impactd",
			TokenTTL:    Duration{24 * time.Hour},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Escrow: EscrowConfig{
			HighTrustReputation: 80,
			SoftProgressRatio:   0.5,
			HoldGracePeriod:     Duration{7 * 24 * time.Hour},
			PendingOpTimeout:    Duration{2 * time.Minute},
		},
		Validators: ValidatorsConfig{
			SearchRadiusKm:      100,
			RewardPerValidation: 50,
			SeedDefaults:        true,
		},
		Notifications: NotificationsConfig{
			RatePerSecond:  5,
			Burst:          10,
			ResponseWindow: Duration{7 * 24 * time.Hour},
			SendTimeout:    Duration{30 * time.Second},
			Backups:        2,
			Transports:     []string{"websocket"},
		},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			Spec:                "@every 1m",
			Concurrency:         8,
			ClawbackGracePeriod: Duration{7 * 24 * time.Hour},
		},
	}
}

// LoadConfig loads configuration from defaults, then the JSON file, then
// environment variables. envFiles are loaded into the environment first;
// missing files are ignored.
func LoadConfig(configPath string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) error {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("SERVER_HOST", &config.Server.Host)
	if err := num("SERVER_PORT", &config.Server.Port); err != nil {
		return err
	}

	str("DATABASE_DRIVER", &config.Database.Driver)
	str("DATABASE_HOST", &config.Database.Host)
	if err := num("DATABASE_PORT", &config.Database.Port); err != nil {
		return err
	}
	str("DATABASE_USER", &config.Database.User)
	str("DATABASE_PASSWORD", &config.Database.Password)
	str("DATABASE_DBNAME", &config.Database.DBName)
	str("DATABASE_SSLMODE", &config.Database.SSLMode)

	str("REDIS_ADDR", &config.Redis.Addr)
	str("REDIS_PASSWORD", &config.Redis.Password)

	str("LEDGER_DRIVER", &config.Stellar.Driver)
	str("STELLAR_HORIZON_URL", &config.Stellar.HorizonURL)
	str("STELLAR_NETWORK", &config.Stellar.Network)
	str("STELLAR_POOL_SECRET", &config.Stellar.PoolSecretKey)

	str("AWS_REGION", &config.AWS.Region)
	str("EVIDENCE_BUCKET", &config.AWS.EvidenceBucket)
	str("SNS_TOPIC_ARN", &config.AWS.SNSTopicARN)
	str("SES_SENDER", &config.AWS.SESSender)

	str("JWT_SECRET", &config.Security.JWTSecret)
	str("LOG_LEVEL", &config.Logging.Level)
	str("LOG_FORMAT", &config.Logging.Format)

	str("ESCROW_POOL_ADDRESS", &config.Escrow.PoolAddress)
	str("SCHEDULER_SPEC", &config.Scheduler.Spec)
	if v := os.Getenv("NOTIFICATION_TRANSPORTS"); v != "" {
		config.Notifications.Transports = splitList(v)
	}
	return nil
}

func splitList(v string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that would otherwise fail late at startup
func (c *Config) Validate() error {
	switch {
	case c.Server.Port <= 0 || c.Server.Port > 65535:
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	case c.Database.Driver != "memory" && c.Database.Driver != "postgres":
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	case c.Stellar.Driver != "memory" && c.Stellar.Driver != "stellar":
		return fmt.Errorf("unknown ledger driver %q", c.Stellar.Driver)
	case c.Stellar.Driver == "stellar" && c.Stellar.PoolSecretKey == "":
		return errors.New("stellar ledger requires a pool secret key")
	case c.Escrow.SoftProgressRatio < 0 || c.Escrow.SoftProgressRatio > 1:
		return fmt.Errorf("soft_progress_ratio must be within 0-1, got %v", c.Escrow.SoftProgressRatio)
	case c.Escrow.HighTrustReputation < 0 || c.Escrow.HighTrustReputation > 100:
		return fmt.Errorf("high_trust_reputation must be within 0-100, got %v", c.Escrow.HighTrustReputation)
	}
	for _, t := range c.Notifications.Transports {
		switch t {
		case "websocket", "sns", "ses":
		default:
			return fmt.Errorf("unknown notification transport %q", t)
		}
	}
	return nil
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HasTransport reports whether name is an enabled notification transport
func (c *NotificationsConfig) HasTransport(name string) bool {
	for _, t := range c.Transports {
		if t == name {
			return true
		}
	}
	return false
}
