package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config is the configuration shared by the client and the list-data service.
type Config struct {
	Client   ClientConfig   `toml:"client"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Log      LogConfig      `toml:"log"`
}

// ClientConfig locates the list-data service. Endpoint is the only deployment specific value.
type ClientConfig struct {
	Endpoint string `toml:"endpoint"`
	Timeout  string `toml:"timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int    `toml:"port"`
	ServicePath string `toml:"service_path"`
	Logging     bool   `toml:"logging"`
	Metrics     bool   `toml:"metrics"`
	Tracing     bool   `toml:"tracing"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string `toml:"driver"`
	Host     string `toml:"host"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Name     string `toml:"name"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Development bool   `toml:"development"`
	Level       string `toml:"level"`
	File        string `toml:"file"`
}

// TimeoutDuration parses the client timeout.
func (c ClientConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid client timeout %q: %w", c.Timeout, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid client timeout %q: must be positive", c.Timeout)
	}
	return d, nil
}

// DefaultConfig returns the configuration of the embedded example file.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Load starts from the defaults, applies the TOML file at path if path is not empty, and finally
// the environment.
func Load(path string) (*Config, error) {
	config := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}
	if err := config.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	set := func(dst *string, key string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Client.Endpoint, "LISTDATA_ENDPOINT")
	set(&c.Client.Timeout, "LISTDATA_TIMEOUT")
	set(&c.Database.Driver, "DBDRIVER")
	set(&c.Database.Host, "DBHOST")
	set(&c.Database.User, "DBUSER")
	set(&c.Database.Password, "DBPWD")
	set(&c.Database.Name, "DBNAME")
	set(&c.Log.File, "LOG_FILE")
	set(&c.Log.Level, "LOG_LEVEL")

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("could not parse PORT env variable: %w", err)
		}
		c.Server.Port = port
	}
	if strings.EqualFold(getenv("GIN_LOGGING"), "off") {
		c.Server.Logging = false
	}
	if v := getenv("LOG_DEV"); v != "" {
		dev, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("could not parse LOG_DEV env variable: %w", err)
		}
		c.Log.Development = dev
	}
	return nil
}
