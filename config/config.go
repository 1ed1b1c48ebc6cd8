package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverMemory   = "memory"
)

type Config struct {
	DB           DBConfig
	Store        StoreConfig
	Scheduler    SchedulerConfig
	Scraper      ScraperConfig
	Proxy        ProxyConfig
	S3           S3Config
	DBPath       string
	LogLevel     string
	LogFormat    string
	LogFile      string
	BuildingsDir string
	Buildings    map[string]*BuildingConfig
}

// DBConfig holds the Postgres connection parameters. Host, name, user and
// port are required; there are no fallbacks.
type DBConfig struct {
	Host     string
	Name     string
	User     string
	Port     string
	Password string
}

type StoreConfig struct {
	Driver       string
	TxTimeout    time.Duration
	Retries      int
	RetryBackoff time.Duration
}

type SchedulerConfig struct {
	Interval time.Duration
	Cron     string
}

type ScraperConfig struct {
	Workers int
	DelayMS int // minimum spacing between source fetches
	Timeout time.Duration
	Headful bool
}

type ProxyConfig struct {
	URL string
}

// S3Config holds configuration for S3-compatible storage of raw scrape captures
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for DO Spaces, R2, etc.
	AccessKeyID     string
	SecretAccessKey string
}

type BuildingConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Source    string `yaml:"source"`    // http, browser
	Extractor string `yaml:"extractor"` // passthrough, fp_blocks, leasing_table
	// MinExpectedUnits guards against transient scrape failures that return
	// zero rows. nil means 1; set 0 to let an empty scrape deactivate everything.
	MinExpectedUnits *int          `yaml:"min_expected_units"`
	ErrorMarkers     []string      `yaml:"error_markers"`
	Page             PageConfig    `yaml:"page"`
	Schema           SchemaConfig  `yaml:"schema"`
	Browser          BrowserConfig `yaml:"browser"`
}

type PageConfig struct {
	Format    string            `yaml:"format"`    // table, blocks
	Container string            `yaml:"container"` // e.g. "#floor-plans"
	Block     string            `yaml:"block"`     // blocks only, e.g. "div.fp_block"
	Fields    map[string]string `yaml:"fields"`    // blocks only: field name → selector within block
}

type SchemaConfig struct {
	RenameMap  map[string]string `yaml:"rename_map"`
	Composites map[string]string `yaml:"composites"` // source field → delimiter
}

type BrowserConfig struct {
	ScrollPx int    `yaml:"scroll_px"`
	LoadMore string `yaml:"load_more"`
	WaitMS   int    `yaml:"wait_ms"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DB: DBConfig{
			Host:     os.Getenv("DB_HOST"),
			Name:     os.Getenv("DB_NAME"),
			User:     os.Getenv("DB_USER"),
			Port:     os.Getenv("DB_PORT"),
			Password: os.Getenv("DB_PASSWORD"),
		},
		Store: StoreConfig{
			Driver:       getEnv("STORE_DRIVER", StoreDriverPostgres),
			TxTimeout:    getEnvDuration("STORE_TX_TIMEOUT", 30*time.Second),
			Retries:      getEnvInt("STORE_RETRIES", 3),
			RetryBackoff: getEnvDuration("STORE_RETRY_BACKOFF", 2*time.Second),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		Scraper: ScraperConfig{
			Workers: getEnvInt("SCRAPE_WORKERS", 4),
			DelayMS: getEnvInt("SCRAPE_DELAY_MS", 500),
			Timeout: getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
			Headful: getEnvBool("SCRAPE_HEADFUL", false),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		S3: S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		},
		DBPath:       getEnv("DB_PATH", "scraper.db"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "console"),
		LogFile:      getEnv("LOG_FILE", "daemon.log"),
		BuildingsDir: getEnv("BUILDINGS_DIR", "config/buildings"),
		Buildings:    make(map[string]*BuildingConfig),
	}

	if interval := os.Getenv("SCRAPE_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadBuildingConfigs(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings the selected store driver depends on
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreDriverPostgres:
		if err := c.DB.Validate(); err != nil {
			return err
		}
	case StoreDriverSQLite, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Scraper.Workers < 1 {
		return fmt.Errorf("SCRAPE_WORKERS must be at least 1, got %d", c.Scraper.Workers)
	}
	return nil
}

// Validate reports every missing connection parameter at once
func (c DBConfig) Validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "DB_HOST")
	}
	if c.Name == "" {
		missing = append(missing, "DB_NAME")
	}
	if c.User == "" {
		missing = append(missing, "DB_USER")
	}
	if c.Port == "" {
		missing = append(missing, "DB_PORT")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing database config: %s", strings.Join(missing, ", "))
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return fmt.Errorf("invalid DB_PORT %q", c.Port)
	}
	return nil
}

// ConnString builds a postgres:// URL, escaping credentials
func (c DBConfig) ConnString() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else {
		u.User = url.User(c.User)
	}
	return u.String()
}

// MinExpected returns the minimum unit count a scrape must yield
func (b *BuildingConfig) MinExpected() int {
	if b.MinExpectedUnits == nil {
		return 1
	}
	return *b.MinExpectedUnits
}

// BuildingIDs returns configured building ids in stable order
func (c *Config) BuildingIDs() []string {
	ids := make([]string, 0, len(c.Buildings))
	for id := range c.Buildings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Config) loadBuildingConfigs() error {
	entries, err := os.ReadDir(c.BuildingsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		path := filepath.Join(c.BuildingsDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var b BuildingConfig
		if err := yaml.Unmarshal(data, &b); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if err := b.validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		if _, dup := c.Buildings[b.ID]; dup {
			return fmt.Errorf("%s: duplicate building id %q", path, b.ID)
		}

		c.Buildings[b.ID] = &b
	}

	return nil
}

func (b *BuildingConfig) validate() error {
	if b.ID == "" {
		return fmt.Errorf("building id is required")
	}
	if b.URL == "" {
		return fmt.Errorf("building %s: url is required", b.ID)
	}
	if b.Source == "" {
		b.Source = "http"
	}
	if b.Page.Format == "" {
		b.Page.Format = "table"
	}
	if b.Page.Format == "blocks" && (b.Page.Block == "" || len(b.Page.Fields) == 0) {
		return fmt.Errorf("building %s: blocks format needs page.block and page.fields", b.ID)
	}
	if b.MinExpectedUnits != nil && *b.MinExpectedUnits < 0 {
		return fmt.Errorf("building %s: min_expected_units cannot be negative", b.ID)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
