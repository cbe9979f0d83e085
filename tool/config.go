package tool

import (
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/moyoez/localswap/types"
)

var (
	ConfigPath    = "config.yaml" // be aware that it can be changed, default to ./config.yaml
	configMu      sync.RWMutex
	CurrentConfig types.AppConfig
)

func DefaultConfig() types.AppConfig {
	return types.AppConfig{
		Alias:              "localswap",
		RepoRoot:           "swap-repo",
		AppsDir:            "apps",
		SharePort:          8888,
		BluetoothProxyPort: 8889,
		ControlPort:        53318,
		IdleTimeoutSeconds: 900, // 15 minutes, refreshed whenever the share is started again
		DiscoverableSecs:   300,
		ShowNfcDuringSwap:  true,
		NfcAvailable:       false, // headless hosts have no near-field radio
		HistoryDB:          "swap-history.db",
		NatsSubject:        "localswap.session",
		ShareRateBurst:     20,
	}
}

// ReadConfig parses path on top of the defaults without touching the file.
func ReadConfig(path string) (types.AppConfig, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads path, creating it with default values when missing.
func LoadConfig(path string) (types.AppConfig, error) {
	if path == "" {
		path = ConfigPath
	}
	ConfigPath = path

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := DefaultConfig()
			if writeErr := writeConfig(path, cfg); writeErr != nil {
				return cfg, fmt.Errorf("config file not found, and failed to generate default config: %w", writeErr)
			}
			DefaultLogger.Infof("Created new config file at %s", path)
			setCurrentConfig(cfg)
			return cfg, nil
		}
		return DefaultConfig(), fmt.Errorf("failed to read config file: %w", err)
	}
	if info.IsDir() {
		return DefaultConfig(), fmt.Errorf("config file path is a directory: %s", path)
	}

	cfg, err := ReadConfig(path)
	if err != nil {
		return cfg, err
	}
	setCurrentConfig(cfg)
	return cfg, nil
}

func writeConfig(path string, cfg types.AppConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setCurrentConfig(cfg types.AppConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	CurrentConfig = cfg
}

func GetCurrentConfig() types.AppConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return CurrentConfig
}
