package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guiyumin/tubefetch/internal/core/cache"
	"github.com/guiyumin/tubefetch/internal/core/store"
	"github.com/guiyumin/tubefetch/internal/core/ytdlp"
)

const (
	ConfigFileName = "config.yml"
	AppDirName     = "tubefetch"
	EnvFileName    = ".env"

	DefaultPort = 5000
)

// ConfigDir returns the standard config directory for tubefetch.
// Windows: %APPDATA%\tubefetch\
// macOS/Linux: ~/.config/tubefetch/
func ConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// ConfigPath returns the path to the config file.
// e.g., ~/.config/tubefetch/config.yml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

type Config struct {
	// HTTP server settings for `tubefetch serve`
	Server ServerConfig `yaml:"server"`

	// Temporary artifact directory and its retention policy
	Store StoreConfig `yaml:"store"`

	// yt-dlp invocation
	Engine EngineConfig `yaml:"engine"`

	// Metadata cache for /info
	Cache CacheConfig `yaml:"cache"`

	Log LogConfig `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Port is the HTTP listen port (default: 5000, or $PORT)
	Port int `yaml:"port"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGINT/SIGTERM
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// CORSOrigin is sent as Access-Control-Allow-Origin on every response
	CORSOrigin string `yaml:"cors_origin"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is a token bucket shared by the routes that invoke yt-dlp.
// RPS of zero disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type StoreConfig struct {
	Dir           string        `yaml:"dir"`
	MaxAge        time.Duration `yaml:"max_age"`
	DeleteDelay   time.Duration `yaml:"delete_delay"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type EngineConfig struct {
	// Binary is the yt-dlp executable, looked up in PATH when not absolute
	Binary          string        `yaml:"binary"`
	Timeout         time.Duration `yaml:"timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
	Retries         int           `yaml:"retries"`
	FragmentRetries int           `yaml:"fragment_retries"`
	AudioQuality    string        `yaml:"audio_quality"`

	// MaxConcurrent bounds simultaneous yt-dlp downloads (0 = unbounded)
	MaxConcurrent int `yaml:"max_concurrent"`
}

type CacheConfig struct {
	// RedisURL selects the Redis cache; empty keeps entries in process
	RedisURL string        `yaml:"redis_url,omitempty"`
	TTL      time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level"`
	// Format is text or json
	Format string `yaml:"format"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	sc := store.DefaultConfig()
	ec := ytdlp.DefaultConfig(sc.Dir)

	return &Config{
		Server: ServerConfig{
			Port:              DefaultPort,
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			CORSOrigin:        "*",
			RateLimit: RateLimitConfig{
				RPS:   2,
				Burst: 10,
			},
		},
		Store: StoreConfig{
			Dir:           sc.Dir,
			MaxAge:        sc.MaxAge,
			DeleteDelay:   sc.DeleteDelay,
			SweepInterval: sc.SweepInterval,
		},
		Engine: EngineConfig{
			Binary:          ytdlp.DefaultBinary,
			Timeout:         ec.Timeout,
			MetadataTimeout: ec.MetadataTimeout,
			Retries:         ec.Retries,
			FragmentRetries: ec.FragmentRetries,
			AudioQuality:    ec.AudioQuality,
			MaxConcurrent:   ec.MaxConcurrent,
		},
		Cache: CacheConfig{
			TTL: cache.DefaultTTL,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// StoreConfig converts the store section for store.New.
func (c *Config) StoreConfig() store.Config {
	return store.Config{
		Dir:           c.Store.Dir,
		MaxAge:        c.Store.MaxAge,
		DeleteDelay:   c.Store.DeleteDelay,
		SweepInterval: c.Store.SweepInterval,
	}
}

// EngineConfig converts the engine section for ytdlp.New. outputDir is the
// resolved store directory.
func (c *Config) EngineConfig(outputDir string) ytdlp.Config {
	return ytdlp.Config{
		OutputDir:       outputDir,
		Timeout:         c.Engine.Timeout,
		MetadataTimeout: c.Engine.MetadataTimeout,
		Retries:         c.Engine.Retries,
		FragmentRetries: c.Engine.FragmentRetries,
		AudioQuality:    c.Engine.AudioQuality,
		MaxConcurrent:   c.Engine.MaxConcurrent,
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit.RPS < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit.rps must not be negative"))
	}
	if c.Server.RateLimit.RPS > 0 && c.Server.RateLimit.Burst < 1 {
		errs = append(errs, fmt.Errorf("server.rate_limit.burst must be at least 1 when rps is set"))
	}
	if strings.TrimSpace(c.Store.Dir) == "" {
		errs = append(errs, fmt.Errorf("store.dir is required"))
	}
	if c.Store.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("store.max_age must be positive"))
	}
	if c.Store.DeleteDelay < 0 {
		errs = append(errs, fmt.Errorf("store.delete_delay must not be negative"))
	}
	if c.Store.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("store.sweep_interval must not be negative"))
	}
	if c.Engine.Timeout < 0 || c.Engine.MetadataTimeout < 0 {
		errs = append(errs, fmt.Errorf("engine timeouts must not be negative"))
	}
	if c.Engine.Retries < 0 || c.Engine.FragmentRetries < 0 {
		errs = append(errs, fmt.Errorf("engine retries must not be negative"))
	}
	if c.Engine.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("engine.max_concurrent must not be negative"))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// Exists checks if config file exists
func Exists() bool {
	path, err := ConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// readFile merges the YAML file at path over cfg.
func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config file not found: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Expand tilde in Dir
	cfg.Store.Dir = expandPath(cfg.Store.Dir)
	return nil
}

// expandPath expands the tilde (~) in the path to the user's home directory.
// It handles both forward and backward slashes to ensure cross-platform compatibility
// for configuration files.
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		// Only expand if it's explicitly "~", "~/", or "~\"
		if len(path) == 1 || path[1] == '/' || path[1] == '\\' {
			home, err := os.UserHomeDir()
			if err == nil {
				subPath := path[1:]
				// Handle the separator manually to ensure clean join across platforms
				// This allows "~\Downloads" to work correctly on macOS/Linux as well
				if len(subPath) > 0 && (subPath[0] == '/' || subPath[0] == '\\') {
					subPath = subPath[1:]
				}
				return filepath.Join(home, subPath)
			}
		}
	}

	return path
}

// Save writes the config to path, or to ~/.config/tubefetch/config.yml when empty
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if path == "" {
		path, err = ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}

	// Ensure config directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Add a header comment
	header := "# tubefetch configuration file\n# Run 'tubefetch init' to regenerate with defaults\n\n"
	content := header + string(data)

	return os.WriteFile(path, []byte(content), 0644)
}

// SavePath returns the path where config will be saved
func SavePath() string {
	if path, err := ConfigPath(); err == nil {
		return path
	}
	return ConfigFileName
}

// Init creates a new config file with default values
func Init(path string) error {
	if path == "" {
		path = SavePath()
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	return Save(DefaultConfig(), path)
}
