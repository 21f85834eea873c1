package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Sweeper       SweeperConfig       `mapstructure:"sweeper"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Source          string        `mapstructure:"source"`
}

type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	CallbackSecret string `mapstructure:"callback_secret"`
	Enabled        bool   `mapstructure:"enabled"`
}

type ProvidersConfig struct {
	GoPay          ProviderConfig `mapstructure:"gopay"`
	OVO            ProviderConfig `mapstructure:"ovo"`
	DANA           ProviderConfig `mapstructure:"dana"`
	ShopeePay      ProviderConfig `mapstructure:"shopeepay"`
	RequestTimeout time.Duration  `mapstructure:"request_timeout"`
}

type SweeperConfig struct {
	MaxWorkers    int           `mapstructure:"max_workers"`
	JobQueueSize  int           `mapstructure:"job_queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables for
// container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Source:          getEnv("DB_SOURCE", ""),
		},
		Providers: ProvidersConfig{
			GoPay: ProviderConfig{
				BaseURL:        getEnv("GOPAY_BASE_URL", ""),
				APIKey:         getEnv("GOPAY_SERVER_KEY", ""),
				CallbackSecret: getEnv("GOPAY_CALLBACK_SECRET", ""),
				Enabled:        getEnvAsBool("GOPAY_ENABLED", true),
			},
			OVO: ProviderConfig{
				BaseURL:        getEnv("OVO_BASE_URL", ""),
				APIKey:         getEnv("OVO_API_KEY", ""),
				CallbackSecret: getEnv("OVO_CALLBACK_SECRET", ""),
				Enabled:        getEnvAsBool("OVO_ENABLED", true),
			},
			DANA: ProviderConfig{
				BaseURL:        getEnv("DANA_BASE_URL", ""),
				APIKey:         getEnv("DANA_API_KEY", ""),
				CallbackSecret: getEnv("DANA_CALLBACK_SECRET", ""),
				Enabled:        getEnvAsBool("DANA_ENABLED", true),
			},
			ShopeePay: ProviderConfig{
				BaseURL:        getEnv("SHOPEEPAY_BASE_URL", ""),
				APIKey:         getEnv("SHOPEEPAY_API_KEY", ""),
				CallbackSecret: getEnv("SHOPEEPAY_CALLBACK_SECRET", ""),
				Enabled:        getEnvAsBool("SHOPEEPAY_ENABLED", true),
			},
			RequestTimeout: 30 * time.Second,
		},
		Sweeper: SweeperConfig{
			MaxWorkers:    getEnvAsInt("SWEEPER_MAX_WORKERS", 10),
			JobQueueSize:  getEnvAsInt("SWEEPER_JOB_QUEUE_SIZE", 100),
			BatchSize:     getEnvAsInt("SWEEPER_BATCH_SIZE", 50),
			SweepInterval: time.Minute,
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Providers.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("providers config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *ProvidersConfig) Validate() error {
	enabled := 0
	for name, p := range map[string]ProviderConfig{
		"gopay":     c.GoPay,
		"ovo":       c.OVO,
		"dana":      c.DANA,
		"shopeepay": c.ShopeePay,
	} {
		if !p.Enabled {
			continue
		}
		enabled++
		if p.BaseURL == "" {
			return fmt.Errorf("%s: base_url is required when enabled", name)
		}
	}
	if enabled == 0 {
		return errors.New("at least one provider must be enabled")
	}
	return nil
}
