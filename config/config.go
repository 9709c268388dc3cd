package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/pricewatch/internal/domain"
)

const (
	DefaultUpstreamURL  = "https://europe-west3-au-digital.cloudfunctions.net/dransay/api/webshop/products?sandbox=0"
	DefaultSelfVendorID = "Ox4GxbMJuJUs4cTWPJQy"
	DefaultPollInterval = 5 * time.Minute
	DefaultWebAddr      = ":8000"
	DefaultSQLitePath   = "./data/prices.db"
	DefaultWALDir       = "./wal/prices"
	DefaultCacheTTL     = 10 * time.Minute
	GeneratedFile       = "config.gen.yaml"
	envPrefix           = "PRICEWATCH"
)

// Storage backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendWAL      = "wal"
)

// Cache backends.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultVendors the allow-listed pharmacies tracked out of the box.
func DefaultVendors() []domain.Vendor {
	return []domain.Vendor{
		{ID: "zMztHDq7X50CjGIs5NeX", Name: "Asavita"},
		{ID: "CaotAefOXilSE0hewO1c", Name: "Herbery Online Apotheke"},
		{ID: "FhCdipzdTKWJMGYvPK0P", Name: "higreen Drei hasen Apotheke"},
		{ID: "QV7wYUp0cGHmAgUZWkT9", Name: "Grafenberg Apotheke"},
		{ID: "i03wd7KWpfpLHv7xYT37", Name: "360 Grad Apotheke"},
		{ID: "hxG2kWd9KHdqWin4L771", Name: "higreen Adler Apotheke"},
		{ID: "rKtJBabOpl3G8wd9Rilm", Name: "Medivital Apo420"},
		{ID: "2f6ANjI8S2zTFfYDagp6", Name: "Cannoiva (Ehrlich Apotheke)"},
		{ID: DefaultSelfVendorID, Name: "sanvivo"},
	}
}

type Config struct {
	Upstream     UpstreamConfig
	Vendors      domain.VendorSet
	PollInterval time.Duration
	MatchByName  bool
	Storage      StorageConfig
	Web          WebConfig
	Cache        CacheConfig
	LogLevel     string
}

type UpstreamConfig struct {
	URL         string
	APIKey      string
	MinInterval time.Duration
	Timeout     time.Duration
	MaxRetries  int
}

type StorageConfig struct {
	Backend string
	Path    string
	DSN     string
}

type WebConfig struct {
	Addr           string
	AllowedOrigins []string
	// TLSDomains enables ACME certificates for these hosts when non-empty.
	TLSDomains  []string
	TLSCacheDir string
}

type CacheConfig struct {
	Backend       string
	TTL           time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// ConfigTmp is the YAML form of Config.
type ConfigTmp struct {
	Upstream     UpstreamTmp     `yaml:"upstream"`
	Vendors      []domain.Vendor `yaml:"vendors,omitempty"`
	SelfVendorID string          `yaml:"self_vendor_id"`
	PollInterval time.Duration   `yaml:"poll_interval"`
	MatchByName  bool            `yaml:"match_by_name,omitempty"`
	Storage      StorageTmp      `yaml:"storage"`
	Web          WebTmp          `yaml:"web"`
	Cache        CacheTmp        `yaml:"cache"`
	LogLevel     string          `yaml:"log_level,omitempty"`
}

type UpstreamTmp struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxRetries  *int          `yaml:"max_retries,omitempty"`
}

type StorageTmp struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path,omitempty"`
	DSN     string `yaml:"dsn,omitempty"`
}

type WebTmp struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
	TLSDomains     []string `yaml:"tls_domains,omitempty"`
	TLSCacheDir    string   `yaml:"tls_cache_dir,omitempty"`
}

type CacheTmp struct {
	Backend       string        `yaml:"backend"`
	TTL           time.Duration `yaml:"ttl,omitempty"`
	RedisAddr     string        `yaml:"redis_addr,omitempty"`
	RedisPassword string        `yaml:"redis_password,omitempty"`
	RedisDB       int           `yaml:"redis_db,omitempty"`
}

// envOverrides values read from PRICEWATCH_* variables. Empty values leave the file config untouched.
type envOverrides struct {
	APIKey        string        `envconfig:"API_KEY"`
	UpstreamURL   string        `envconfig:"UPSTREAM_URL"`
	SelfVendorID  string        `envconfig:"SELF_VENDOR_ID"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL"`
	StoreBackend  string        `envconfig:"STORE_BACKEND"`
	StorePath     string        `envconfig:"STORE_PATH"`
	PostgresDSN   string        `envconfig:"POSTGRES_DSN"`
	WebAddr       string        `envconfig:"WEB_ADDR"`
	CacheBackend  string        `envconfig:"CACHE_BACKEND"`
	CacheTTL      time.Duration `envconfig:"CACHE_TTL"`
	RedisAddr     string        `envconfig:"REDIS_ADDR"`
	RedisPassword string        `envconfig:"REDIS_PASSWORD"`
	LogLevel      string        `envconfig:"LOG_LEVEL"`
}

// legacyEnv unprefixed variables kept for existing deployments.
type legacyEnv struct {
	APIKey string `envconfig:"DRANSAY_API_KEY"`
}

// Default returns the built-in configuration in YAML form.
// Storage paths are left empty so Parse can pick the default for the chosen backend.
func Default() ConfigTmp {
	return ConfigTmp{
		Upstream:     UpstreamTmp{URL: DefaultUpstreamURL},
		Vendors:      DefaultVendors(),
		SelfVendorID: DefaultSelfVendorID,
		PollInterval: DefaultPollInterval,
		Storage:      StorageTmp{Backend: BackendSQLite},
		Web:          WebTmp{Addr: DefaultWebAddr, AllowedOrigins: []string{"*"}},
		Cache:        CacheTmp{Backend: CacheMemory, TTL: DefaultCacheTTL},
		LogLevel:     "info",
	}
}

// Load reads the YAML file at path (built-in defaults when path is empty),
// applies .env and environment overrides and validates the result.
func Load(path string) (Config, error) {
	tmp := Default()
	if path != "" {
		var err error
		if tmp, err = ReadFile(path); err != nil {
			return Config{}, err
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(&tmp); err != nil {
		return Config{}, err
	}

	return Parse(tmp)
}

// ReadFile decodes a YAML config file on top of the defaults.
func ReadFile(path string) (ConfigTmp, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigTmp{}, errors.Wrapf(err, "read config %s", path)
	}

	tmp := Default()
	tmp.Vendors = nil
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return ConfigTmp{}, errors.Wrapf(err, "parse config %s", path)
	}
	if len(tmp.Vendors) == 0 {
		tmp.Vendors = DefaultVendors()
	}
	return tmp, nil
}

// WriteFile encodes tmp as YAML at path.
func WriteFile(path string, tmp ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrapf(err, "failed to save config file %s", path)
	}
	return nil
}

func applyEnv(tmp *ConfigTmp) error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return errors.Wrap(err, "read environment")
	}
	var legacy legacyEnv
	if err := envconfig.Process("", &legacy); err != nil {
		return errors.Wrap(err, "read environment")
	}

	setString(&tmp.Upstream.APIKey, legacy.APIKey)
	setString(&tmp.Upstream.APIKey, env.APIKey)
	setString(&tmp.Upstream.URL, env.UpstreamURL)
	setString(&tmp.SelfVendorID, env.SelfVendorID)
	setString(&tmp.Storage.Backend, env.StoreBackend)
	setString(&tmp.Storage.Path, env.StorePath)
	setString(&tmp.Storage.DSN, env.PostgresDSN)
	setString(&tmp.Web.Addr, env.WebAddr)
	setString(&tmp.Cache.Backend, env.CacheBackend)
	setString(&tmp.Cache.RedisAddr, env.RedisAddr)
	setString(&tmp.Cache.RedisPassword, env.RedisPassword)
	setString(&tmp.LogLevel, env.LogLevel)
	if env.PollInterval > 0 {
		tmp.PollInterval = env.PollInterval
	}
	if env.CacheTTL > 0 {
		tmp.Cache.TTL = env.CacheTTL
	}
	return nil
}

func setString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

// Parse validates tmp and converts it into a Config.
func Parse(tmp ConfigTmp) (Config, error) {
	vendors, err := domain.NewVendorSet(tmp.Vendors, tmp.SelfVendorID)
	if err != nil {
		return Config{}, fmt.Errorf("incorrect 'vendors' param in yaml config, error: %w", err)
	}

	if tmp.Upstream.URL == "" {
		return Config{}, errors.New("'upstream.url' param in yaml config is required")
	}
	maxRetries := 3
	if tmp.Upstream.MaxRetries != nil {
		if *tmp.Upstream.MaxRetries < 0 {
			return Config{}, errors.New("'upstream.max_retries' must not be negative")
		}
		maxRetries = *tmp.Upstream.MaxRetries
	}

	pollInterval := tmp.PollInterval
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	if pollInterval < 0 {
		return Config{}, fmt.Errorf("incorrect 'poll_interval' param in yaml config: %s", pollInterval)
	}

	storage := StorageConfig{
		Backend: strings.ToLower(tmp.Storage.Backend),
		Path:    tmp.Storage.Path,
		DSN:     tmp.Storage.DSN,
	}
	switch storage.Backend {
	case "", BackendSQLite:
		storage.Backend = BackendSQLite
		if storage.Path == "" {
			storage.Path = DefaultSQLitePath
		}
	case BackendWAL:
		if storage.Path == "" {
			storage.Path = DefaultWALDir
		}
	case BackendPostgres:
		if storage.DSN == "" {
			return Config{}, errors.New("'storage.dsn' is required for the postgres backend")
		}
	default:
		return Config{}, fmt.Errorf("unknown 'storage.backend' %q (expected sqlite, postgres or wal)", tmp.Storage.Backend)
	}

	cacheCfg := CacheConfig{
		Backend:       strings.ToLower(tmp.Cache.Backend),
		TTL:           tmp.Cache.TTL,
		RedisAddr:     tmp.Cache.RedisAddr,
		RedisPassword: tmp.Cache.RedisPassword,
		RedisDB:       tmp.Cache.RedisDB,
	}
	if cacheCfg.TTL <= 0 {
		cacheCfg.TTL = DefaultCacheTTL
	}
	switch cacheCfg.Backend {
	case "", CacheMemory:
		cacheCfg.Backend = CacheMemory
	case CacheNone:
	case CacheRedis:
		if cacheCfg.RedisAddr == "" {
			return Config{}, errors.New("'cache.redis_addr' is required for the redis cache")
		}
	default:
		return Config{}, fmt.Errorf("unknown 'cache.backend' %q (expected none, memory or redis)", tmp.Cache.Backend)
	}

	web := WebConfig{
		Addr:           tmp.Web.Addr,
		AllowedOrigins: tmp.Web.AllowedOrigins,
		TLSDomains:     tmp.Web.TLSDomains,
		TLSCacheDir:    tmp.Web.TLSCacheDir,
	}
	if web.Addr == "" {
		web.Addr = DefaultWebAddr
	}
	if len(web.AllowedOrigins) == 0 {
		web.AllowedOrigins = []string{"*"}
	}

	logLevel := tmp.LogLevel
	if logLevel == "" {
		logLevel = "info"
	}

	return Config{
		Upstream: UpstreamConfig{
			URL:         tmp.Upstream.URL,
			APIKey:      tmp.Upstream.APIKey,
			MinInterval: tmp.Upstream.MinInterval,
			Timeout:     tmp.Upstream.Timeout,
			MaxRetries:  maxRetries,
		},
		Vendors:      vendors,
		PollInterval: pollInterval,
		MatchByName:  tmp.MatchByName,
		Storage:      storage,
		Web:          web,
		Cache:        cacheCfg,
		LogLevel:     logLevel,
	}, nil
}
