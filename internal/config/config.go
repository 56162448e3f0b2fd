package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/tracefund/trace-backend/internal/logger"
)

const (
	DefaultPageSize                  = 50
	DefaultDonationCollectCountLimit = 15
	DefaultGRPCAddr                  = ":8080"
	DefaultMetricsAddr               = ":9090"
	DefaultAPIToken                  = "dev-token"
	DefaultMinimumPayoutUSD          = 35
)

// DonationSource selects where donation pages are read from
type DonationSource string

const (
	DonationSourceHTTP     DonationSource = "http"
	DonationSourcePostgres DonationSource = "postgres"
)

// Config is the application configuration
type Config struct {
	GRPCAddr    string
	MetricsAddr string
	APIToken    string

	DBConnStr      string
	DonationSource DonationSource

	BackendURL      string
	BackendTimeout  time.Duration
	ConversionRPS   float64
	RealtimeURL     string
	RelayURL        string
	ChainRPCURL     string
	RequiredChainID int64
	ExplorerTxURL   string
	Confirmations   uint64
	ConfirmTimeout  time.Duration

	MinimumPayoutUSD          decimal.Decimal
	DonationCollectCountLimit int
	PageSize                  int
	// NativeCurrencyDecimals is the display precision per native currency symbol
	NativeCurrencyDecimals map[string]int32

	Log logger.Config
}

// File is the YAML layout of the configuration file
type File struct {
	Server struct {
		GRPCAddr    string `yaml:"grpc_addr"`
		MetricsAddr string `yaml:"metrics_addr"`
		APIToken    string `yaml:"api_token"`
	} `yaml:"server"`
	Database struct {
		ConnStr string `yaml:"conn_str"`
	} `yaml:"database"`
	Donations struct {
		Source string `yaml:"source"`
	} `yaml:"donations"`
	Backend struct {
		URL           string  `yaml:"url"`
		TimeoutSecs   int     `yaml:"timeout_secs"`
		ConversionRPS float64 `yaml:"conversion_rps"`
		RealtimeURL   string  `yaml:"realtime_url"`
	} `yaml:"backend"`
	Chain struct {
		RPCURL             string `yaml:"rpc_url"`
		RelayURL           string `yaml:"relay_url"`
		ChainID            int64  `yaml:"chain_id"`
		ExplorerTxURL      string `yaml:"explorer_tx_url"`
		Confirmations      uint64 `yaml:"confirmations"`
		ConfirmTimeoutSecs int    `yaml:"confirm_timeout_secs"`
	} `yaml:"chain"`
	Withdrawal struct {
		MinimumPayoutUSD          string `yaml:"minimum_payout_usd"`
		DonationCollectCountLimit int    `yaml:"donation_collect_count_limit"`
		PageSize                  int    `yaml:"page_size"`
	} `yaml:"withdrawal"`
	NativeCurrencies map[string]int32 `yaml:"native_currencies"`
	Log              struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"log"`
}

// Load reads the optional YAML file at path, then applies .env and environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	var f File
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg, err := fromFile(&f)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(f *File) (*Config, error) {
	cfg := &Config{
		GRPCAddr:                  f.Server.GRPCAddr,
		MetricsAddr:               f.Server.MetricsAddr,
		APIToken:                  f.Server.APIToken,
		DBConnStr:                 f.Database.ConnStr,
		DonationSource:            DonationSource(f.Donations.Source),
		BackendURL:                f.Backend.URL,
		BackendTimeout:            time.Duration(f.Backend.TimeoutSecs) * time.Second,
		ConversionRPS:             f.Backend.ConversionRPS,
		RealtimeURL:               f.Backend.RealtimeURL,
		RelayURL:                  f.Chain.RelayURL,
		ChainRPCURL:               f.Chain.RPCURL,
		RequiredChainID:           f.Chain.ChainID,
		ExplorerTxURL:             f.Chain.ExplorerTxURL,
		Confirmations:             f.Chain.Confirmations,
		ConfirmTimeout:            time.Duration(f.Chain.ConfirmTimeoutSecs) * time.Second,
		MinimumPayoutUSD:          decimal.NewFromInt(DefaultMinimumPayoutUSD),
		DonationCollectCountLimit: f.Withdrawal.DonationCollectCountLimit,
		PageSize:                  f.Withdrawal.PageSize,
		NativeCurrencyDecimals:    f.NativeCurrencies,
		Log: logger.Config{
			Level:      f.Log.Level,
			Format:     f.Log.Format,
			OutputFile: f.Log.File,
			MaxSize:    f.Log.MaxSize,
			MaxBackups: f.Log.MaxBackups,
			MaxAge:     f.Log.MaxAge,
			Compress:   f.Log.Compress,
		},
	}

	if f.Withdrawal.MinimumPayoutUSD != "" {
		minPayout, err := decimal.NewFromString(f.Withdrawal.MinimumPayoutUSD)
		if err != nil {
			return nil, fmt.Errorf("invalid minimum_payout_usd: %w", err)
		}
		cfg.MinimumPayoutUSD = minPayout
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.GRPCAddr == "" {
		c.GRPCAddr = DefaultGRPCAddr
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = DefaultMetricsAddr
	}
	if c.APIToken == "" {
		c.APIToken = DefaultAPIToken
	}
	if c.DonationSource == "" {
		c.DonationSource = DonationSourceHTTP
	}
	if c.BackendTimeout <= 0 {
		c.BackendTimeout = 30 * time.Second
	}
	if c.ConversionRPS <= 0 {
		c.ConversionRPS = 5
	}
	if c.Confirmations == 0 {
		c.Confirmations = 1
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Minute
	}
	if c.DonationCollectCountLimit <= 0 {
		c.DonationCollectCountLimit = DefaultDonationCollectCountLimit
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.NativeCurrencyDecimals == nil {
		c.NativeCurrencyDecimals = map[string]int32{}
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// applyEnv overrides file values with environment variables
func applyEnv(c *Config) error {
	setString(&c.GRPCAddr, "GRPC_ADDR")
	setString(&c.MetricsAddr, "METRICS_ADDR")
	setString(&c.APIToken, "API_TOKEN")
	setString(&c.BackendURL, "BACKEND_URL")
	setString(&c.RealtimeURL, "REALTIME_URL")
	setString(&c.RelayURL, "RELAY_URL")
	setString(&c.ChainRPCURL, "CHAIN_RPC_URL")
	setString(&c.ExplorerTxURL, "EXPLORER_TX_URL")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.OutputFile, "LOG_FILE")

	if v := os.Getenv("DONATION_SOURCE"); v != "" {
		c.DonationSource = DonationSource(v)
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid CHAIN_ID: %w", err)
		}
		c.RequiredChainID = id
	}
	if v := os.Getenv("MINIMUM_PAYOUT_USD"); v != "" {
		minPayout, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("invalid MINIMUM_PAYOUT_USD: %w", err)
		}
		c.MinimumPayoutUSD = minPayout
	}
	if v := os.Getenv("DONATION_COLLECT_COUNT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid DONATION_COLLECT_COUNT_LIMIT: %w", err)
		}
		c.DonationCollectCountLimit = n
	}

	if c.RelayURL == "" {
		c.RelayURL = c.BackendURL
	}
	if c.RealtimeURL == "" && c.BackendURL != "" {
		c.RealtimeURL = realtimeURLFor(c.BackendURL)
	}
	if c.DBConnStr == "" {
		c.DBConnStr = os.Getenv("DB_CONN_STR")
	}
	if c.DBConnStr == "" && c.DonationSource == DonationSourcePostgres {
		c.DBConnStr = connStrFromEnv()
	}
	return nil
}

// realtimeURLFor derives the websocket endpoint served next to the backend API
func realtimeURLFor(backendURL string) string {
	u := strings.TrimSuffix(backendURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/realtime"
}

// connStrFromEnv builds the connection string from individual vars (Docker friendly)
func connStrFromEnv() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		envOr("DB_HOST", "localhost"),
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "postgres"),
		envOr("DB_PASSWORD", "postgres"),
		envOr("DB_NAME", "tracefund"),
	)
}

// Validate checks the configuration is usable
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return errors.New("backend url is required")
	}
	if c.ChainRPCURL == "" {
		return errors.New("chain rpc url is required")
	}
	if c.RequiredChainID <= 0 {
		return errors.New("chain id must be positive")
	}
	if c.MinimumPayoutUSD.IsNegative() {
		return errors.New("minimum payout cannot be negative")
	}
	switch c.DonationSource {
	case DonationSourceHTTP:
	case DonationSourcePostgres:
		if c.DBConnStr == "" {
			return errors.New("postgres donation source requires a database connection string")
		}
	default:
		return fmt.Errorf("unknown donation source %q", c.DonationSource)
	}
	return nil
}

// DisplayDecimals returns the display precision for a native currency
func (c *Config) DisplayDecimals(currency string) int32 {
	if d, ok := c.NativeCurrencyDecimals[currency]; ok {
		return d
	}
	return 2
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
