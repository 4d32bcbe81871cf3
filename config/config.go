// config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Port string `yaml:"port"`
}

// DatabaseConfig describes the optional MySQL audit store. Leave Host empty
// to run without a database.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type SourceConfig struct {
	// LandingPageURL is the page scanned for the current workbook link.
	LandingPageURL string `yaml:"landing_page_url"`
	// ScrapeTimeoutStr / DownloadTimeoutStr are Go durations, e.g. "10s".
	ScrapeTimeoutStr   string `yaml:"scrape_timeout"`
	DownloadTimeoutStr string `yaml:"download_timeout"`
	FetchRetries       int    `yaml:"fetch_retries"`

	ScrapeTimeout   time.Duration `yaml:"-"`
	DownloadTimeout time.Duration `yaml:"-"`
}

type CacheConfig struct {
	Dir string `yaml:"dir"`
}

type MatchingConfig struct {
	// WindowDays is the default recency window when a request does not
	// specify one.
	WindowDays int `yaml:"window_days"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Source   SourceConfig   `yaml:"source"`
	Cache    CacheConfig    `yaml:"cache"`
	Matching MatchingConfig `yaml:"matching"`
}

var AppConfig Config

// LoadConfig reads configuration from a yaml file, then applies defaults and
// environment overrides. An empty configPath searches the usual locations;
// a missing file is not an error so the binary can run on defaults alone.
func LoadConfig(configPath string) error {
	AppConfig = Config{}

	if configPath == "" {
		for _, p := range []string{"config.yaml", "config/config.yaml"} {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}

	if configPath != "" {
		file, err := os.ReadFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(file, &AppConfig); err != nil {
			return fmt.Errorf("failed to unmarshal config %s: %w", configPath, err)
		}
	}

	applyEnvOverrides()
	applyDefaults()

	var err error
	AppConfig.Source.ScrapeTimeout, err = time.ParseDuration(AppConfig.Source.ScrapeTimeoutStr)
	if err != nil {
		return fmt.Errorf("failed to parse scrape_timeout: %w", err)
	}
	AppConfig.Source.DownloadTimeout, err = time.ParseDuration(AppConfig.Source.DownloadTimeoutStr)
	if err != nil {
		return fmt.Errorf("failed to parse download_timeout: %w", err)
	}

	if err := os.MkdirAll(AppConfig.Cache.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", AppConfig.Cache.Dir, err)
	}

	return nil
}

func applyEnvOverrides() {
	if v := os.Getenv("SUPPLYCHECK_PORT"); v != "" {
		AppConfig.Server.Port = v
	}
	if v := os.Getenv("SUPPLYCHECK_LANDING_URL"); v != "" {
		AppConfig.Source.LandingPageURL = v
	}
	if v := os.Getenv("SUPPLYCHECK_CACHE_DIR"); v != "" {
		AppConfig.Cache.Dir = v
	}
	if v := os.Getenv("SUPPLYCHECK_DB_PASSWORD"); v != "" {
		AppConfig.Database.Password = v
	}
}

func applyDefaults() {
	if AppConfig.Server.Port == "" {
		AppConfig.Server.Port = "8080"
	}
	if AppConfig.Cache.Dir == "" {
		AppConfig.Cache.Dir = filepath.Join(".", "cache")
	}
	if AppConfig.Source.ScrapeTimeoutStr == "" {
		AppConfig.Source.ScrapeTimeoutStr = "10s"
	}
	if AppConfig.Source.DownloadTimeoutStr == "" {
		AppConfig.Source.DownloadTimeoutStr = "25s"
	}
	if AppConfig.Source.FetchRetries <= 0 {
		AppConfig.Source.FetchRetries = 3
	}
	if AppConfig.Matching.WindowDays <= 0 {
		AppConfig.Matching.WindowDays = 10
	}
}
