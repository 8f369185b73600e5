package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the node's runtime settings.
type Config struct {
	RPCAddress       string `toml:"RPCAddress"`
	DataDir          string `toml:"DataDir"`
	Environment      string `toml:"Environment"`
	BackendAPIKey    string `toml:"BackendAPIKey"`
	BackendAPISecret string `toml:"BackendAPISecret"`
}

const defaultConfig = `# wagercored configuration
RPCAddress = ":8645"
DataDir = "./data"
Environment = ""

# Credentials presented by the backend service when calling mutating
# RPC methods. Leave empty to reject all mutations.
BackendAPIKey = ""
BackendAPISecret = ""
`

// Load loads the configuration from the given path, creating a commented
// default file on first run.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for settings the node cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress is required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir is required")
	}
	if (c.BackendAPIKey == "") != (c.BackendAPISecret == "") {
		return fmt.Errorf("config: BackendAPIKey and BackendAPISecret must be set together")
	}
	return nil
}

// BackendSecrets returns the API key to shared secret map consumed by the RPC
// authenticator. Empty when no backend credentials are configured.
func (c *Config) BackendSecrets() map[string]string {
	key := strings.TrimSpace(c.BackendAPIKey)
	secret := strings.TrimSpace(c.BackendAPISecret)
	if key == "" || secret == "" {
		return nil
	}
	return map[string]string{key: secret}
}

func createDefault(path string) (*Config, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := os.WriteFile(path, []byte(defaultConfig), 0o600); err != nil {
		return nil, err
	}
	cfg := &Config{}
	if _, err := toml.Decode(defaultConfig, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
