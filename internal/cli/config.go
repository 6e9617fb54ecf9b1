package cli

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcoot/mastermind-go/internal/auth"
)

// Config holds CLI configuration. Values are resolved flag > env >
// config file > default.
type Config struct {
	ServerURL    string
	TokenFile    string
	Output       string
	PollInterval time.Duration

	Token   string
	Verbose bool
}

// DefaultConfig returns a Config with defaults applied over the config
// file and environment. A .env file in the working directory is loaded
// first, if present.
func DefaultConfig() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:    "http://localhost:8000",
		TokenFile:    auth.DefaultTokenPath(),
		Output:       "text",
		PollInterval: 5 * time.Second,
	}
	cfg.loadFile(defaultConfigFile())

	if v := os.Getenv("MMIND_SERVER"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("MMIND_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("MMIND_TOKEN_FILE"); v != "" {
		cfg.TokenFile = v
	}
	return cfg
}

// loadFile overlays settings from a yaml config file. A missing file is
// fine; a malformed one is ignored rather than blocking the CLI.
func (c *Config) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}

	var raw struct {
		Server       string `yaml:"server"`
		TokenFile    string `yaml:"token_file"`
		Output       string `yaml:"output"`
		PollInterval string `yaml:"poll_interval"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return
	}

	if raw.Server != "" {
		c.ServerURL = raw.Server
	}
	if raw.TokenFile != "" {
		c.TokenFile = raw.TokenFile
	}
	if raw.Output != "" {
		c.Output = raw.Output
	}
	if raw.PollInterval != "" {
		if d, err := time.ParseDuration(raw.PollInterval); err == nil {
			c.PollInterval = d
		}
	}
}

func defaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mmind/config.yaml"
	}
	return filepath.Join(home, ".mmind", "config.yaml")
}
