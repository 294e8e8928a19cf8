package driver

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seantiz/remote-playwright/internal/model"
)

const configFileName = "launch-server.json"

// serverConfig is the LaunchServer options document read by the driver.
type serverConfig struct {
	Headless bool         `json:"headless"`
	Port     int          `json:"port"`
	WSPath   string       `json:"wsPath,omitempty"`
	Proxy    *proxyConfig `json:"proxy,omitempty"`
}

type proxyConfig struct {
	Server   string `json:"server"`
	Bypass   string `json:"bypass,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

func newServerConfig(opts model.LaunchOptions) serverConfig {
	cfg := serverConfig{
		Headless: opts.Headless,
		Port:     opts.Port,
		WSPath:   opts.WSPath,
	}
	if opts.Proxy != nil {
		cfg.Proxy = &proxyConfig{
			Server:   opts.Proxy.Server,
			Bypass:   opts.Proxy.Bypass,
			Username: opts.Proxy.Username,
			Password: opts.Proxy.Password,
		}
	}
	return cfg
}

// writeConfig writes the options for opts into dir and returns the file path.
// The file may hold proxy credentials, so it is private to the user.
func writeConfig(dir string, opts model.LaunchOptions) (string, error) {
	data, err := json.Marshal(newServerConfig(opts))
	if err != nil {
		return "", fmt.Errorf("marshal launch config: %w", err)
	}
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write launch config: %w", err)
	}
	return path, nil
}
