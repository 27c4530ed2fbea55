package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Crawl    CrawlConfig
	Prober   ProberConfig
	Browser  BrowserConfig
	State    StateConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type CrawlConfig struct {
	ListingURLs        []string
	ListingConcurrency int
	ProductConcurrency int
	RateLimitMin       time.Duration
	RateLimitMax       time.Duration
	NavigationRetries  int
	OutputCSV          string
}

type ProberConfig struct {
	UpperGuess    int
	CeilingFactor int
	RetryBudget   int
	RetryDelay    time.Duration
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	Locale         string
}

type StateConfig struct {
	// Backend selects where run state lives: "file" or "postgres".
	Backend string
	Dir     string
	RunKey  string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	// Enabled turns on per-variant event publishing.
	Enabled bool
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment, after merging in a .env
// file when one exists.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Crawl: CrawlConfig{
			ListingURLs:        getStringSliceOrDefault("LISTING_URLS", nil),
			ListingConcurrency: getIntOrDefault("LISTING_CONCURRENCY", 2),
			ProductConcurrency: getIntOrDefault("PRODUCT_CONCURRENCY", 4),
			RateLimitMin:       getDurationOrDefault("RATE_LIMIT_MIN", 1*time.Second),
			RateLimitMax:       getDurationOrDefault("RATE_LIMIT_MAX", 5*time.Second),
			NavigationRetries:  getIntOrDefault("NAVIGATION_RETRIES", 3),
			OutputCSV:          getEnvOrDefault("OUTPUT_CSV", "stock_report.csv"),
		},
		Prober: ProberConfig{
			UpperGuess:    getIntOrDefault("PROBER_UPPER_GUESS", 100),
			CeilingFactor: getIntOrDefault("PROBER_CEILING_FACTOR", 10),
			RetryBudget:   getIntOrDefault("PROBER_RETRY_BUDGET", 3),
			RetryDelay:    getDurationOrDefault("PROBER_RETRY_DELAY", 500*time.Millisecond),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		State: StateConfig{
			Backend: getEnvOrDefault("STATE_BACKEND", "file"),
			Dir:     getEnvOrDefault("STATE_DIR", "./state"),
			RunKey:  getEnvOrDefault("RUN_KEY", "default"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "stockscout"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stock-events"),
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

// DSN builds the pgx connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode)
}

func (c *Config) Validate() error {
	if len(c.Crawl.ListingURLs) == 0 {
		return fmt.Errorf("LISTING_URLS must name at least one listing page")
	}

	if c.Crawl.ListingConcurrency < 1 {
		return fmt.Errorf("LISTING_CONCURRENCY must be at least 1")
	}

	if c.Crawl.ProductConcurrency < 1 {
		return fmt.Errorf("PRODUCT_CONCURRENCY must be at least 1")
	}

	if c.Crawl.RateLimitMin > c.Crawl.RateLimitMax {
		return fmt.Errorf("RATE_LIMIT_MIN cannot be greater than RATE_LIMIT_MAX")
	}

	if c.Prober.UpperGuess < 1 {
		return fmt.Errorf("PROBER_UPPER_GUESS must be at least 1")
	}

	if c.Prober.CeilingFactor < 1 {
		return fmt.Errorf("PROBER_CEILING_FACTOR must be at least 1")
	}

	switch c.State.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("STATE_BACKEND must be \"file\" or \"postgres\", got %q", c.State.Backend)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return defaultValue
}
