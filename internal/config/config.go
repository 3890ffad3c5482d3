package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config represents the optional mirrorgate configuration file.
type Config struct {
	Paths     PathsConfig     `toml:"paths"`
	Transfer  TransferConfig  `toml:"transfer"`
	API       APIConfig       `toml:"api"`
	Mirrors   MirrorsConfig   `toml:"mirrors"`
	Downloads DownloadsConfig `toml:"downloads"`
}

// PathsConfig holds local filesystem locations.
type PathsConfig struct {
	Downloads string `toml:"downloads"`
	Data      string `toml:"data"`
	Rclone    string `toml:"rclone"`
}

// TransferConfig holds the flags passed to every transfer-tool invocation.
type TransferConfig struct {
	BWLimit string        `toml:"bwlimit"`
	Proxy   string        `toml:"proxy"`
	Retries int           `toml:"retries"`
	RCPort  int           `toml:"rc_port"`
	Grace   time.Duration `toml:"grace"`
}

// APIConfig points at the central catalog/config API.
type APIConfig struct {
	BaseURL   string        `toml:"base_url"`
	ConfigURL string        `toml:"config_url"` // override; disables the mirror fallback
	MaxRPS    int           `toml:"max_rps"`
	Timeout   time.Duration `toml:"timeout"`
}

// MirrorsConfig describes the layout shared by every mirror.
type MirrorsConfig struct {
	RemoteRoot       string `toml:"remote_root"`
	CatalogFile      string `toml:"catalog_file"`
	ConfigRemotePath string `toml:"config_remote_path"`
	BlacklistFile    string `toml:"blacklist_file"`
	TrailersFile     string `toml:"trailers_file"`
	MaxStrikes       int    `toml:"max_strikes"`
}

// DownloadsConfig controls what happens around a download.
type DownloadsConfig struct {
	Pruning PruningPolicy `toml:"pruning"`
}

const (
	defaultAPIURL      = "https://api.mirrorgate.app/"
	defaultRetries     = 2
	defaultRCPort      = 5572
	defaultGrace       = 3 * time.Second
	defaultMaxRPS      = 5
	defaultTimeout     = 30 * time.Second
	defaultRemoteRoot  = "Quest Games"
	defaultCatalogFile = "VRP-GameList.txt"
	defaultMaxStrikes  = 3
)

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Paths.Data == "" {
		c.Paths.Data = DataDir()
	}
	if c.Paths.Downloads == "" {
		c.Paths.Downloads = filepath.Join(c.Paths.Data, "downloads")
	}
	if c.Paths.Rclone == "" {
		c.Paths.Rclone = "rclone"
	}

	if c.Transfer.Retries <= 0 {
		c.Transfer.Retries = defaultRetries
	}
	if c.Transfer.RCPort == 0 {
		c.Transfer.RCPort = defaultRCPort
	}
	if c.Transfer.Grace <= 0 {
		c.Transfer.Grace = defaultGrace
	}

	if c.API.BaseURL == "" {
		c.API.BaseURL = defaultAPIURL
	}
	if c.API.MaxRPS == 0 {
		c.API.MaxRPS = defaultMaxRPS
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = defaultTimeout
	}

	if c.Mirrors.RemoteRoot == "" {
		c.Mirrors.RemoteRoot = defaultRemoteRoot
	}
	if c.Mirrors.CatalogFile == "" {
		c.Mirrors.CatalogFile = defaultCatalogFile
	}
	if c.Mirrors.ConfigRemotePath == "" {
		c.Mirrors.ConfigRemotePath = "Config/rclone.conf"
	}
	if c.Mirrors.BlacklistFile == "" {
		c.Mirrors.BlacklistFile = "blacklist.txt"
	}
	if c.Mirrors.TrailersFile == "" {
		c.Mirrors.TrailersFile = "Trailers"
	}
	if c.Mirrors.MaxStrikes <= 0 {
		c.Mirrors.MaxStrikes = defaultMaxStrikes
	}

	if c.Downloads.Pruning == "" {
		c.Downloads.Pruning = KeepAll
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Transfer.BWLimit != "" {
		if _, err := ParseSize(c.Transfer.BWLimit); err != nil {
			return fmt.Errorf("transfer.bwlimit: %w", err)
		}
	}
	if c.Transfer.RCPort < 1 || c.Transfer.RCPort > 65535 {
		return fmt.Errorf("transfer.rc_port: %d out of range", c.Transfer.RCPort)
	}
	if c.API.MaxRPS < 0 {
		return fmt.Errorf("api.max_rps: must not be negative")
	}
	if !c.Downloads.Pruning.Valid() {
		return fmt.Errorf("downloads.pruning: unknown policy %q", c.Downloads.Pruning)
	}
	return nil
}

// RcloneConfigPath is the live transfer-tool configuration file.
func (c *Config) RcloneConfigPath() string {
	return filepath.Join(c.Paths.Data, "rclone.conf")
}

// CatalogPath is the local copy of the mirror catalog.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.Paths.Data, c.Mirrors.CatalogFile)
}

// BlacklistPath is the local donation blacklist.
func (c *Config) BlacklistPath() string {
	return filepath.Join(c.Paths.Data, "blacklist.txt")
}

// CatalogCachePath is the bbolt catalog cache.
func (c *Config) CatalogCachePath() string {
	return filepath.Join(c.Paths.Data, "catalog.db")
}

// HistoryPath is the sqlite download ledger.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Paths.Data, "history.db")
}

// Path returns the resolved path to the config file.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "mirrorgate", "config.toml")
}

// DataDir returns the default directory for downloaded metadata and state.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(os.TempDir(), "mirrorgate")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "mirrorgate")
}

// Load reads the config file from the XDG path, applies environment
// overrides and defaults, and validates the result. A missing file is not an
// error.
func Load() (Config, error) {
	var cfg Config
	if path := Path(); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}

	dataDir := cfg.Paths.Data
	if dataDir == "" {
		dataDir = DataDir()
	}
	if err := loadDotEnv(filepath.Join(dataDir, ".env")); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv populates the process environment from path without
// overriding variables that are already set.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("MIRRORGATE_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("MIRRORGATE_CONFIG_URL"); v != "" {
		cfg.API.ConfigURL = v
	}
	if v := os.Getenv("MIRRORGATE_DOWNLOADS"); v != "" {
		cfg.Paths.Downloads = v
	}
	if v := os.Getenv("MIRRORGATE_RC_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Transfer.RCPort = port
		}
	}
	if cfg.Transfer.Proxy == "" {
		for _, key := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
			if v := os.Getenv(key); v != "" {
				cfg.Transfer.Proxy = v
				break
			}
		}
	}
}
