package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"swap_rates/internal/domain"
)

const (
	// DefaultUserAgent is sent on every upstream request.
	DefaultUserAgent = "swap-rates/1.0 (+https://github.com/swap-rates)"

	defaultTimeoutSec      = 10
	defaultMaxRetries      = 3
	defaultFastIntervalSec = 10
	defaultSlowIntervalSec = 60
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Feeds struct {
		ETHRatesURL     string `yaml:"eth_rates_url"`
		USDRatesURL     string `yaml:"usd_rates_url"`
		ProdRatesURL    string `yaml:"prod_rates_url"`
		TrackerURL      string `yaml:"tracker_url"`
		SourceAmountURL string `yaml:"source_amount_url"` // optional; source, dest, amount
		TimeoutSec      int    `yaml:"timeout_sec"`
		MaxRetries      int    `yaml:"max_retries"`
	} `yaml:"feeds"`

	Refresh struct {
		FastIntervalSec int `yaml:"fast_interval_sec"`
		SlowIntervalSec int `yaml:"slow_interval_sec"`
	} `yaml:"refresh"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Chain struct {
		RPCURL string `yaml:"rpc_url"`
	} `yaml:"chain"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Server struct {
		MetricsAddr string `yaml:"metrics_addr"`
		WSAddr      string `yaml:"ws_addr"`
	} `yaml:"server"`

	Gas struct {
		Overrides map[string]uint64 `yaml:"overrides"`
	} `yaml:"gas"`

	Icons struct {
		URLTemplate string `yaml:"url_template"`
		Dir         string `yaml:"dir"`
	} `yaml:"icons"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies defaults and env overrides, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	// 보안 우선: 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Feeds.TimeoutSec <= 0 {
		c.Feeds.TimeoutSec = defaultTimeoutSec
	}
	if c.Feeds.MaxRetries < 0 {
		c.Feeds.MaxRetries = 0
	} else if c.Feeds.MaxRetries == 0 {
		c.Feeds.MaxRetries = defaultMaxRetries
	}
	if c.Refresh.FastIntervalSec <= 0 {
		c.Refresh.FastIntervalSec = defaultFastIntervalSec
	}
	if c.Refresh.SlowIntervalSec <= 0 {
		c.Refresh.SlowIntervalSec = defaultSlowIntervalSec
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/rates.db"
	}
	if c.Redis.Channel == "" {
		c.Redis.Channel = "rates:events"
	}
	if c.Icons.Dir == "" {
		c.Icons.Dir = "assets/icons"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	feeds := []struct {
		field string
		url   string
	}{
		{"feeds.eth_rates_url", c.Feeds.ETHRatesURL},
		{"feeds.usd_rates_url", c.Feeds.USDRatesURL},
		{"feeds.prod_rates_url", c.Feeds.ProdRatesURL},
		{"feeds.tracker_url", c.Feeds.TrackerURL},
	}
	for _, f := range feeds {
		if !isHTTPURL(f.url) {
			return &domain.ConfigError{Field: f.field, Err: fmt.Errorf("invalid URL %q", f.url)}
		}
	}

	if u := c.Feeds.SourceAmountURL; u != "" {
		if !isHTTPURL(u) {
			return &domain.ConfigError{Field: "feeds.source_amount_url", Err: fmt.Errorf("invalid URL %q", u)}
		}
		if strings.Count(u, "%s") != 3 {
			return &domain.ConfigError{Field: "feeds.source_amount_url", Err: errors.New("must contain three %s placeholders")}
		}
	}

	if c.Refresh.SlowIntervalSec < c.Refresh.FastIntervalSec {
		return &domain.ConfigError{Field: "refresh.slow_interval_sec", Err: errors.New("must not be shorter than fast_interval_sec")}
	}

	if c.Chain.RPCURL != "" && !isHTTPURL(c.Chain.RPCURL) && !hasWSPrefix(c.Chain.RPCURL) {
		return &domain.ConfigError{Field: "chain.rpc_url", Err: fmt.Errorf("unsupported scheme in %q", c.Chain.RPCURL)}
	}

	for sym, limit := range c.Gas.Overrides {
		if limit == 0 {
			return &domain.ConfigError{Field: "gas.overrides." + sym, Err: errors.New("gas limit must be positive")}
		}
	}

	if c.Icons.URLTemplate != "" && !strings.Contains(c.Icons.URLTemplate, "%s") {
		return &domain.ConfigError{Field: "icons.url_template", Err: errors.New("must contain a %s symbol placeholder")}
	}

	return nil
}

func (c *Config) FastInterval() time.Duration {
	return time.Duration(c.Refresh.FastIntervalSec) * time.Second
}

func (c *Config) SlowInterval() time.Duration {
	return time.Duration(c.Refresh.SlowIntervalSec) * time.Second
}

func (c *Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feeds.TimeoutSec) * time.Second
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hasWSPrefix(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if url := os.Getenv("RATES_RPC_URL"); url != "" {
		cfg.Chain.RPCURL = url
	}
	if addr := os.Getenv("RATES_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pass := os.Getenv("RATES_REDIS_PASSWORD"); pass != "" {
		cfg.Redis.Password = pass
	}
	if url := os.Getenv("RATES_TRACKER_URL"); url != "" {
		cfg.Feeds.TrackerURL = url
	}
}
