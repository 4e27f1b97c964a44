package config

import (
	"fmt"
	"time"

	env "github.com/caarlos0/env/v11"
)

type Config struct {
	StorePath string `env:"LEDGER_STORE_PATH" envDefault:"ledger.jsonl"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv    string `env:"APP_ENV" envDefault:"production"`
	Port      int    `env:"PORT" envDefault:"8080"`

	// risk gate tuning
	MaintenanceMargin float64 `env:"MAINTENANCE_MARGIN" envDefault:"0.1"`
	LiquidationScanS  int     `env:"LIQUIDATION_SCAN_S" envDefault:"5"`

	// compliance window geometry
	WindowBuckets int `env:"COMPLIANCE_WINDOW_BUCKETS" envDefault:"60"`
	BucketWidthS  int `env:"COMPLIANCE_BUCKET_WIDTH_S" envDefault:"60"`

	// rule thresholds
	VelocityLimit        int     `env:"RULE_VELOCITY_LIMIT" envDefault:"20"`
	VelocityWindowM      int     `env:"RULE_VELOCITY_WINDOW_M" envDefault:"10"`
	StructuringThreshold float64 `env:"RULE_STRUCTURING_THRESHOLD" envDefault:"9000"`
	StructuringMinTxns   int     `env:"RULE_STRUCTURING_MIN_TXNS" envDefault:"3"`
	StructuringWindowM   int     `env:"RULE_STRUCTURING_WINDOW_M" envDefault:"60"`
	LargeTxThreshold     float64 `env:"RULE_LARGE_TX_THRESHOLD" envDefault:"10000"`

	// provider policy
	ProviderTimeoutMS  int  `env:"PROVIDER_TIMEOUT_MS" envDefault:"500"`
	ComplianceFailOpen bool `env:"COMPLIANCE_FAIL_OPEN" envDefault:"false"`

	// optional read-optimized projection target; empty disables projection
	ProjectionDSN   string `env:"PROJECTION_DSN"`
	ProjectionSyncS int    `env:"PROJECTION_SYNC_S" envDefault:"10"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c *Config) BucketWidth() time.Duration {
	return time.Duration(c.BucketWidthS) * time.Second
}

func (c *Config) VelocityWindow() time.Duration {
	return time.Duration(c.VelocityWindowM) * time.Minute
}

func (c *Config) StructuringWindow() time.Duration {
	return time.Duration(c.StructuringWindowM) * time.Minute
}

func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutMS) * time.Millisecond
}

func (c *Config) LiquidationScanInterval() time.Duration {
	return time.Duration(c.LiquidationScanS) * time.Second
}

func (c *Config) ProjectionSyncInterval() time.Duration {
	return time.Duration(c.ProjectionSyncS) * time.Second
}
