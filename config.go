package lwm2m

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ClientConfig is the on-disk shape this core loads and saves, generalizing
// the JSON config file pattern to bootstrap-or-direct DM server setup,
// PSK credentials, and the ambient logging/metrics surface.
type ClientConfig struct {
	RootPath           string `json:"rootPath"`
	EndpointClientName string `json:"endpointClientName"`

	BootstrapServer string `json:"bootstrapServer,omitempty"`
	DMServerURI     string `json:"dmServerURI,omitempty"`
	Identity        string `json:"identity"`          // base64
	SecretKey       string `json:"secretKey"`          // base64 PSK
	ShortServerID   uint16 `json:"shortServerID"`
	Lifetime        int    `json:"lifetime"`

	ObserveIntervalSeconds int `json:"observeIntervalSeconds"`

	MetricsAddr string `json:"metricsAddr,omitempty"`
	LogLevel    string `json:"logLevel"`
	LogJSON     bool   `json:"logJSON"`
}

const statePathName = "state.bin"

func (c *ClientConfig) StatePath() string {
	return filepath.Join(c.RootPath, statePathName)
}

// DefaultConfig renders a new config with a timestamped endpoint name,
// the way CreateDefaultConfig does for a freshly provisioned device.
func DefaultConfig(rootPath string) *ClientConfig {
	return &ClientConfig{
		RootPath:               rootPath,
		EndpointClientName:     "lwm2mclient-" + time.Now().Format("20060102150405"),
		BootstrapServer:        "coap://bootstrap.example.com:5683",
		ShortServerID:          1,
		Lifetime:               DefaultLifetime,
		ObserveIntervalSeconds: 5,
		LogLevel:               "info",
	}
}

// LoadConfig reads a ClientConfig from path.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg ClientConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}

// SaveConfig writes cfg to path as indented JSON, creating RootPath if
// it doesn't exist yet.
func SaveConfig(path string, cfg *ClientConfig) error {
	if cfg.RootPath != "" {
		if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
			return err
		}
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
