package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		Storage  string `yaml:"storage"`
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
		SeedFile string `yaml:"seed_file"`
	} `yaml:"db"`
	Log struct {
		Service string `yaml:"service"`
		Env     string `yaml:"env"`
		Level   string `yaml:"level"`
	} `yaml:"log"`
	PayFast struct {
		MerchantID        string   `yaml:"merchant_id"`
		MerchantKey       string   `yaml:"merchant_key"`
		Passphrase        string   `yaml:"passphrase"`
		ValidateURL       string   `yaml:"validate_url"`
		ValidateTimeoutMS int      `yaml:"validate_timeout_ms"`
		AllowedCIDRs      []string `yaml:"allowed_cidrs"`
		NotifyRatePerSec  float64  `yaml:"notify_rate_per_second"`
		NotifyBurst       int      `yaml:"notify_burst"`
	} `yaml:"payfast"`
	Orders struct {
		MaxOrderAmount        decimal.Decimal `yaml:"max_order_amount"`
		FreeShippingThreshold decimal.Decimal `yaml:"free_shipping_threshold"`
		StandardShipping      decimal.Decimal `yaml:"standard_shipping"`
		ExpressShipping       decimal.Decimal `yaml:"express_shipping"`
		PendingTTLMinutes     int             `yaml:"pending_ttl_minutes"`
	} `yaml:"orders"`
	Fees struct {
		DefaultCommissionPct decimal.Decimal            `yaml:"default_commission_pct"`
		CommissionByCategory map[string]decimal.Decimal `yaml:"commission_by_category"`
		VATPct               decimal.Decimal            `yaml:"vat_pct"`
		VATEnabled           bool                       `yaml:"vat_enabled"`
		ProcessorFeePct      decimal.Decimal            `yaml:"processor_fee_pct"`
		ProcessorFeeEnabled  bool                       `yaml:"processor_fee_enabled"`
	} `yaml:"fees"`
	Worker struct {
		IntervalSeconds    int64 `yaml:"interval_seconds"`
		SettleGraceSeconds int64 `yaml:"settle_grace_seconds"`
		BatchSize          int   `yaml:"batch_size"`
	} `yaml:"worker"`
	Notify struct {
		RelayURL  string `yaml:"relay_url"`
		QueueSize int    `yaml:"queue_size"`
	} `yaml:"notify"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a yaml document, applies env overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	switch c.DB.Storage {
	case StoragePostgres:
		if c.DB.DSN == "" {
			return errors.New("db.dsn is required")
		}
	case StorageMemory:
	default:
		return fmt.Errorf("db.storage %q is not supported", c.DB.Storage)
	}
	if c.PayFast.MerchantID == "" || c.PayFast.ValidateURL == "" {
		return errors.New("payfast config is incomplete")
	}
	if c.Log.Env != "dev" && c.PayFast.Passphrase == "" {
		return fmt.Errorf("payfast.passphrase is required when log.env is %q", c.Log.Env)
	}
	for _, cidr := range c.PayFast.AllowedCIDRs {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("payfast.allowed_cidrs: %w", err)
		}
	}
	if !c.Orders.MaxOrderAmount.IsPositive() {
		return errors.New("orders.max_order_amount must be positive")
	}
	if c.Orders.StandardShipping.IsNegative() || c.Orders.ExpressShipping.IsNegative() {
		return errors.New("orders shipping rates must not be negative")
	}
	if c.Fees.DefaultCommissionPct.IsNegative() || c.Fees.VATPct.IsNegative() || c.Fees.ProcessorFeePct.IsNegative() {
		return errors.New("fee percentages must not be negative")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.DB.Storage == "" {
		cfg.DB.Storage = StoragePostgres
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "parts-settle"
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = "dev"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.PayFast.ValidateTimeoutMS <= 0 {
		cfg.PayFast.ValidateTimeoutMS = 5000
	}
	if cfg.PayFast.NotifyRatePerSec <= 0 {
		cfg.PayFast.NotifyRatePerSec = 20
	}
	if cfg.PayFast.NotifyBurst <= 0 {
		cfg.PayFast.NotifyBurst = 40
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 30
	}
	if cfg.Worker.SettleGraceSeconds <= 0 {
		cfg.Worker.SettleGraceSeconds = 60
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 50
	}
	if cfg.Notify.QueueSize <= 0 {
		cfg.Notify.QueueSize = 1024
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_STORAGE"); v != "" {
		cfg.DB.Storage = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_SEED_FILE"); v != "" {
		cfg.DB.SeedFile = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Log.Env = v
	}
	if v := os.Getenv("PAYFAST_MERCHANT_ID"); v != "" {
		cfg.PayFast.MerchantID = v
	}
	if v := os.Getenv("PAYFAST_MERCHANT_KEY"); v != "" {
		cfg.PayFast.MerchantKey = v
	}
	if v := os.Getenv("PAYFAST_PASSPHRASE"); v != "" {
		cfg.PayFast.Passphrase = v
	}
	if v := os.Getenv("PAYFAST_VALIDATE_URL"); v != "" {
		cfg.PayFast.ValidateURL = v
	}
	if v := os.Getenv("PAYFAST_VALIDATE_TIMEOUT_MS"); v != "" {
		cfg.PayFast.ValidateTimeoutMS = atoiOr(cfg.PayFast.ValidateTimeoutMS, v)
	}
	if v := os.Getenv("PAYFAST_ALLOWED_CIDRS"); v != "" {
		cfg.PayFast.AllowedCIDRs = splitCommaList(v)
	}
	if v := os.Getenv("MAX_ORDER_AMOUNT"); v != "" {
		cfg.Orders.MaxOrderAmount = decimalOr(cfg.Orders.MaxOrderAmount, v)
	}
	if v := os.Getenv("FREE_SHIPPING_THRESHOLD"); v != "" {
		cfg.Orders.FreeShippingThreshold = decimalOr(cfg.Orders.FreeShippingThreshold, v)
	}
	if v := os.Getenv("STANDARD_SHIPPING"); v != "" {
		cfg.Orders.StandardShipping = decimalOr(cfg.Orders.StandardShipping, v)
	}
	if v := os.Getenv("EXPRESS_SHIPPING"); v != "" {
		cfg.Orders.ExpressShipping = decimalOr(cfg.Orders.ExpressShipping, v)
	}
	if v := os.Getenv("PENDING_TTL_MINUTES"); v != "" {
		cfg.Orders.PendingTTLMinutes = atoiOr(cfg.Orders.PendingTTLMinutes, v)
	}
	if v := os.Getenv("VAT_ENABLED"); v != "" {
		cfg.Fees.VATEnabled = boolOr(cfg.Fees.VATEnabled, v)
	}
	if v := os.Getenv("PROCESSOR_FEE_ENABLED"); v != "" {
		cfg.Fees.ProcessorFeeEnabled = boolOr(cfg.Fees.ProcessorFeeEnabled, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("NOTIFY_RELAY_URL"); v != "" {
		cfg.Notify.RelayURL = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func boolOr(fallback bool, v string) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func decimalOr(fallback decimal.Decimal, v string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}
