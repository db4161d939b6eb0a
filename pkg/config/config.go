package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix namespaces every engine environment variable.
const EnvPrefix = "nashtto"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

type Config struct {
	App      AppConfig
	Gateway  GatewayConfig
	Pricing  PricingConfig
	Checkout CheckoutConfig
	Auth     AuthConfig
}

func Load() (*Config, error) {
	// A missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Gateway.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"NASHTTO_APP_ENV" default:"dev"`
	LogLevel     string `envconfig:"NASHTTO_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"NASHTTO_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type GatewayConfig struct {
	BaseURL    string        `envconfig:"NASHTTO_GATEWAY_BASE_URL" required:"true"`
	APIVersion string        `envconfig:"NASHTTO_GATEWAY_API_VERSION" default:"v1"`
	Timeout    time.Duration `envconfig:"NASHTTO_GATEWAY_TIMEOUT" default:"30s"`
}

func (g GatewayConfig) validate() error {
	parsed, err := url.Parse(strings.TrimSpace(g.BaseURL))
	if err != nil {
		return fmt.Errorf("invalid gateway base url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("gateway base url must be http or https, got %q", g.BaseURL)
	}
	if g.Timeout <= 0 {
		return fmt.Errorf("gateway timeout must be positive")
	}
	return nil
}

type PricingConfig struct {
	// GSTRate is a fraction, e.g. "0.05" for 5%.
	GSTRate          string        `envconfig:"NASHTTO_PRICING_GST_RATE" default:"0.05"`
	PlatformFee      string        `envconfig:"NASHTTO_PRICING_PLATFORM_FEE" default:"0"`
	DebounceInterval time.Duration `envconfig:"NASHTTO_PRICING_DEBOUNCE_INTERVAL" default:"250ms"`
	QuoteTTL         time.Duration `envconfig:"NASHTTO_PRICING_QUOTE_TTL" default:"10m"`
}

type CheckoutConfig struct {
	DefaultPaymentMethod string `envconfig:"NASHTTO_CHECKOUT_DEFAULT_PAYMENT_METHOD" default:"CASH_ON_DELIVERY"`
	// SessionTTL bounds how long a quoted session stays committable.
	SessionTTL time.Duration `envconfig:"NASHTTO_CHECKOUT_SESSION_TTL" default:"15m"`
	// DefaultCustomerID keeps dev parity with the hardcoded identity the app
	// shipped with; production resolves identity through the host app.
	DefaultCustomerID string `envconfig:"NASHTTO_CHECKOUT_DEFAULT_CUSTOMER_ID"`
}

type AuthConfig struct {
	BearerToken string `envconfig:"NASHTTO_AUTH_BEARER_TOKEN"`
}
