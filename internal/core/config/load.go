package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Loader assembles a Config from defaults, a YAML file, a .env file and the
// environment, in increasing order of precedence. Command-line flags are
// applied by the caller on the returned Config.
type Loader struct {
	// ConfigFile is an explicit YAML path. When empty the default location is
	// read if it exists.
	ConfigFile string

	// EnvFile defaults to .env in the working directory. A missing file is ignored.
	EnvFile string

	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load is shorthand for Loader{ConfigFile: path}.Load().
func Load(path string) (*Config, error) {
	return Loader{ConfigFile: path}.Load()
}

func (l Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	path := l.ConfigFile
	if path != "" {
		if err := readFile(expandPath(path), cfg); err != nil {
			return nil, err
		}
	} else if Exists() {
		path, _ = ConfigPath()
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	dotenv, err := l.readEnvFile()
	if err != nil {
		return nil, err
	}

	lookup := l.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := applyEnv(cfg, env); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l Loader) readEnvFile() (map[string]string, error) {
	name := l.EnvFile
	if name == "" {
		name = EnvFileName
	}

	values, err := godotenv.Read(name)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return values, nil
}

type envBinding struct {
	key   string
	apply func(cfg *Config, value string) error
}

var envBindings = []envBinding{
	{"PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"TUBEFETCH_PORT", intVar(func(c *Config) *int { return &c.Server.Port })},
	{"TUBEFETCH_CORS_ORIGIN", stringVar(func(c *Config) *string { return &c.Server.CORSOrigin })},
	{"TUBEFETCH_RATE_LIMIT", floatVar(func(c *Config) *float64 { return &c.Server.RateLimit.RPS })},
	{"TUBEFETCH_RATE_BURST", intVar(func(c *Config) *int { return &c.Server.RateLimit.Burst })},
	{"TUBEFETCH_DOWNLOAD_DIR", func(c *Config, v string) error {
		c.Store.Dir = expandPath(v)
		return nil
	}},
	{"TUBEFETCH_MAX_AGE", durationVar(func(c *Config) *time.Duration { return &c.Store.MaxAge })},
	{"TUBEFETCH_DELETE_DELAY", durationVar(func(c *Config) *time.Duration { return &c.Store.DeleteDelay })},
	{"TUBEFETCH_SWEEP_INTERVAL", durationVar(func(c *Config) *time.Duration { return &c.Store.SweepInterval })},
	{"TUBEFETCH_YTDLP", stringVar(func(c *Config) *string { return &c.Engine.Binary })},
	{"TUBEFETCH_ENGINE_TIMEOUT", durationVar(func(c *Config) *time.Duration { return &c.Engine.Timeout })},
	{"TUBEFETCH_MAX_CONCURRENT", intVar(func(c *Config) *int { return &c.Engine.MaxConcurrent })},
	{"TUBEFETCH_AUDIO_QUALITY", stringVar(func(c *Config) *string { return &c.Engine.AudioQuality })},
	{"REDIS_URL", stringVar(func(c *Config) *string { return &c.Cache.RedisURL })},
	{"TUBEFETCH_CACHE_TTL", durationVar(func(c *Config) *time.Duration { return &c.Cache.TTL })},
	{"TUBEFETCH_LOG_LEVEL", stringVar(func(c *Config) *string { return &c.Log.Level })},
	{"TUBEFETCH_LOG_FORMAT", stringVar(func(c *Config) *string { return &c.Log.Format })},
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	var errs []error
	for _, b := range envBindings {
		v, ok := env(b.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if err := b.apply(cfg, v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", b.key, err))
		}
	}
	return errors.Join(errs...)
}

func stringVar(field func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func intVar(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func floatVar(field func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*field(c) = f
		return nil
	}
}

func durationVar(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}
