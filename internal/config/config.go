// Package config loads tuleapsync.yml and the credentials of the remote
// server.
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"tuleapsync/internal/client"
)

const fileName = "tuleapsync.yml"

// Config models tuleapsync.yml.
type Config struct {
	Repository Repository `yaml:"repository"`
	HTTP       HTTP       `yaml:"http"`
	Log        Log        `yaml:"log"`
	Serve      Serve      `yaml:"serve"`
}

type Repository struct {
	URL        string `yaml:"url"`
	APIVersion string `yaml:"api_version"`
	Username   string `yaml:"username"`
}

type HTTP struct {
	Timeout  time.Duration `yaml:"timeout"`
	PageSize int           `yaml:"page_size"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Serve struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tsync config init --url <server>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Repository.URL == "" {
		return fmt.Errorf("config.repository.url is required")
	}
	u, err := url.Parse(c.Repository.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config.repository.url must be an http(s) url, got %q", c.Repository.URL)
	}
	if c.HTTP.Timeout < 0 {
		return fmt.Errorf("config.http.timeout must not be negative")
	}
	if c.HTTP.PageSize < 0 {
		return fmt.Errorf("config.http.page_size must not be negative")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML for a server.
func GenerateDefault(serverURL string) string {
	return fmt.Sprintf(defaultTemplate, serverURL)
}

// Default returns the default Config struct for a server.
func Default(serverURL string) *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(GenerateDefault(serverURL)), &cfg)
	cfg.Repository.URL = serverURL
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing optional
// settings take their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Write stores cfg in the workspace, refusing to replace an existing file
// unless force is set.
func Write(workspace string, cfg *Config, force bool) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	path := Path(workspace)
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("config %s already exists; use --force to overwrite", path)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}
	return path, os.WriteFile(path, data, 0o644)
}

// ClientConfig maps the repository and http settings onto a client config.
func (c *Config) ClientConfig() client.Config {
	return client.Config{
		ServerURL:  c.Repository.URL,
		APIVersion: c.Repository.APIVersion,
		PageSize:   c.HTTP.PageSize,
		Timeout:    c.HTTP.Timeout,
	}
}

// EnvCredentials reads the login from viper: TSYNC_USERNAME (or the
// configured username) and TSYNC_PASSWORD.
type EnvCredentials struct {
	V        *viper.Viper
	Username string
}

func (e EnvCredentials) Credentials(context.Context) (client.Credentials, error) {
	v := e.V
	if v == nil {
		v = viper.GetViper()
	}
	username := v.GetString("username")
	if username == "" {
		username = e.Username
	}
	password := v.GetString("password")
	if username == "" || password == "" {
		return client.Credentials{}, client.ErrNoCredentials
	}
	return client.Credentials{Username: username, Password: password}, nil
}

const defaultTemplate = `repository:
  url: %s
  api_version: ""
  username: ""

http:
  timeout: 30s
  page_size: 0

log:
  level: info
  format: text

serve:
  addr: 127.0.0.1:8787
  base_path: /v0
`
