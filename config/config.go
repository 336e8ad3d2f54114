package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcintyre94/jupalyse/internal/domain"
	"github.com/mcintyre94/jupalyse/internal/services/tokens"
	"github.com/mcintyre94/jupalyse/pkg/amount"
)

const (
	PriceSourceBirdeye = "birdeye"
	PriceSourceBinance = "binance"
	PriceSourceBybit   = "bybit"

	CacheMemory   = "memory"
	CacheWAL      = "wal"
	CacheRedis    = "redis"
	CachePostgres = "postgres"

	OrdersFile = "file"
	OrdersHTTP = "http"

	defaultOutPath = "jupalyse.csv"
)

// CredentialEnvVars are checked in order for the price API key.
var CredentialEnvVars = []string{"BIRDEYE_API_KEY", "PRICE_API_KEY"}

type Config struct {
	Addresses []string
	Products  []domain.Product

	OrdersSource string
	OrdersDir    string
	OrdersURLs   map[domain.Product]string

	TokensBaseURL   string
	TokenOverrides  map[string]tokens.Info
	PriceSource     string
	PriceBaseURL    string
	PriceSymbols    map[string]string
	PriceCredential string
	MinInterval     time.Duration
	Cooldown        time.Duration
	CacheMissing    bool

	CacheBackend     string
	CacheDir         string
	CacheRedisURL    string
	CachePostgresURL string

	OutPath     string
	Precision   int32
	MetricsAddr string
}

type ConfigTmp struct {
	Addresses []string  `yaml:"addresses"`
	Products  []string  `yaml:"products,omitempty"`
	Orders    OrdersTmp `yaml:"orders"`
	Tokens    TokensTmp `yaml:"tokens,omitempty"`
	Prices    PricesTmp `yaml:"prices"`
	Cache     CacheTmp  `yaml:"cache"`
	Export    ExportTmp `yaml:"export,omitempty"`
}

type OrdersTmp struct {
	Source string            `yaml:"source"`
	Dir    string            `yaml:"dir,omitempty"`
	URLs   map[string]string `yaml:"urls,omitempty"`
}

type TokensTmp struct {
	BaseURL   string              `yaml:"base_url,omitempty"`
	Overrides map[string]TokenTmp `yaml:"overrides,omitempty"`
}

type TokenTmp struct {
	Symbol   string `yaml:"symbol"`
	Decimals int32  `yaml:"decimals"`
}

type PricesTmp struct {
	Source          string            `yaml:"source"`
	BaseURL         string            `yaml:"base_url,omitempty"`
	MinInterval     time.Duration     `yaml:"min_interval,omitempty"`
	Cooldown        time.Duration     `yaml:"cooldown,omitempty"`
	CacheMissingStr string            `yaml:"cache_missing,omitempty"`
	Symbols         map[string]string `yaml:"symbols,omitempty"`
}

type CacheTmp struct {
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir,omitempty"`
	RedisURL    string `yaml:"redis_url,omitempty"`
	PostgresURL string `yaml:"postgres_url,omitempty"`
}

type ExportTmp struct {
	Path         string `yaml:"path,omitempty"`
	PrecisionStr string `yaml:"precision,omitempty"`
}

// Flags are the command line switches.
type Flags struct {
	ConfigPath  string
	Setup       bool
	OutPath     string
	MetricsAddr string
}

// ParseFlags reads the command line from args (without the program name).
func ParseFlags(args []string) (Flags, error) {
	fs := flag.NewFlagSet("jupalyse", flag.ContinueOnError)

	var f Flags
	fs.StringVar(&f.ConfigPath, "config", "config.yaml", "path to yaml config")
	fs.BoolVar(&f.Setup, "setup", false, "run the interactive config wizard")
	fs.StringVar(&f.OutPath, "out", "", "csv output path, overrides export.path")
	fs.StringVar(&f.MetricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running, e.g. :9090")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	return f, nil
}

// Get loads .env (if present), the yaml config named by the flags and the
// price API credential from the environment.
func Get(f Flags) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	c, err := getYaml(f.ConfigPath)
	if err != nil {
		return Config{}, err
	}

	if f.OutPath != "" {
		c.OutPath = f.OutPath
	}
	c.MetricsAddr = f.MetricsAddr
	c.PriceCredential = credentialFromEnv()

	return c, nil
}

func credentialFromEnv() string {
	for _, name := range CredentialEnvVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	return tmp.toConfig()
}

func (c ConfigTmp) toConfig() (Config, error) {
	if len(c.Addresses) == 0 {
		return Config{}, fmt.Errorf("incorrect 'addresses' param in yaml config: at least one address is required")
	}

	products := append([]domain.Product(nil), domain.Products...)
	if len(c.Products) > 0 {
		products = nil
		for _, p := range c.Products {
			product, ok := domain.ParseProduct(p)
			if !ok {
				return Config{}, fmt.Errorf("incorrect 'products' param in yaml config: %s (must be one of dca, value-average, recurring, trigger)", p)
			}
			products = append(products, product)
		}
	}

	newConfig := Config{
		Addresses:        c.Addresses,
		Products:         products,
		OrdersSource:     c.Orders.Source,
		OrdersDir:        c.Orders.Dir,
		TokensBaseURL:    c.Tokens.BaseURL,
		PriceSource:      c.Prices.Source,
		PriceBaseURL:     c.Prices.BaseURL,
		PriceSymbols:     c.Prices.Symbols,
		MinInterval:      c.Prices.MinInterval,
		Cooldown:         c.Prices.Cooldown,
		CacheBackend:     c.Cache.Backend,
		CacheDir:         c.Cache.Dir,
		CacheRedisURL:    c.Cache.RedisURL,
		CachePostgresURL: c.Cache.PostgresURL,
		OutPath:          c.Export.Path,
	}

	switch newConfig.OrdersSource {
	case "":
		newConfig.OrdersSource = OrdersFile
	case OrdersFile, OrdersHTTP:
	default:
		return Config{}, fmt.Errorf("incorrect 'orders.source' param in yaml config: %s (must be file or http)", c.Orders.Source)
	}
	if newConfig.OrdersSource == OrdersHTTP {
		newConfig.OrdersURLs = make(map[domain.Product]string, len(c.Orders.URLs))
		for name, url := range c.Orders.URLs {
			product, ok := domain.ParseProduct(name)
			if !ok {
				return Config{}, fmt.Errorf("incorrect 'orders.urls' key in yaml config: %s is not a product", name)
			}
			newConfig.OrdersURLs[product] = url
		}
		for _, p := range products {
			if newConfig.OrdersURLs[p] == "" {
				return Config{}, fmt.Errorf("incorrect 'orders.urls' param in yaml config: no url for product %s", p)
			}
		}
	}

	if len(c.Tokens.Overrides) > 0 {
		newConfig.TokenOverrides = make(map[string]tokens.Info, len(c.Tokens.Overrides))
		for mint, t := range c.Tokens.Overrides {
			if t.Decimals < 0 {
				return Config{}, fmt.Errorf("incorrect 'tokens.overrides.%s.decimals' param in yaml config: must not be negative", mint)
			}
			newConfig.TokenOverrides[mint] = tokens.Info{Address: mint, Symbol: t.Symbol, Decimals: t.Decimals}
		}
	}

	switch newConfig.PriceSource {
	case "":
		newConfig.PriceSource = PriceSourceBirdeye
	case PriceSourceBirdeye:
	case PriceSourceBinance, PriceSourceBybit:
		if len(newConfig.PriceSymbols) == 0 {
			return Config{}, fmt.Errorf("incorrect 'prices.symbols' param in yaml config: %s needs a mint to symbol map", newConfig.PriceSource)
		}
	default:
		return Config{}, fmt.Errorf("incorrect 'prices.source' param in yaml config: %s (must be birdeye, binance or bybit)", c.Prices.Source)
	}

	if newConfig.MinInterval < 0 || newConfig.Cooldown < 0 {
		return Config{}, fmt.Errorf("incorrect 'prices.min_interval' or 'prices.cooldown' param in yaml config: durations must not be negative")
	}

	if c.Prices.CacheMissingStr == "" {
		newConfig.CacheMissing = true // Default value
	} else {
		cacheMissing, err := strconv.ParseBool(c.Prices.CacheMissingStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'prices.cache_missing' param in yaml config (must be true or false), error: %w", err)
		}
		newConfig.CacheMissing = cacheMissing
	}

	switch newConfig.CacheBackend {
	case "":
		newConfig.CacheBackend = CacheMemory
	case CacheMemory, CacheWAL:
	case CacheRedis:
		if newConfig.CacheRedisURL == "" {
			return Config{}, fmt.Errorf("incorrect 'cache.redis_url' param in yaml config: required for redis backend")
		}
	case CachePostgres:
		if newConfig.CachePostgresURL == "" {
			return Config{}, fmt.Errorf("incorrect 'cache.postgres_url' param in yaml config: required for postgres backend")
		}
	default:
		return Config{}, fmt.Errorf("incorrect 'cache.backend' param in yaml config: %s (must be memory, wal, redis or postgres)", c.Cache.Backend)
	}

	if newConfig.OutPath == "" {
		newConfig.OutPath = defaultOutPath
	}

	if c.Export.PrecisionStr == "" {
		newConfig.Precision = amount.DefaultPrecision
	} else {
		precision, err := strconv.ParseInt(c.Export.PrecisionStr, 10, 32)
		if err != nil || precision < 0 {
			return Config{}, fmt.Errorf("incorrect 'export.precision' param in yaml config (must be a non-negative integer), error: %v", err)
		}
		newConfig.Precision = int32(precision)
	}

	return newConfig, nil
}
