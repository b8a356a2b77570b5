package cmd

import (
	"fmt"

	"github.com/texgrep/texgrep/pkg/backend"
	"github.com/texgrep/texgrep/pkg/config"
)

// loadConfig loads the configuration file, applying defaults for missing values
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// newService constructs the configured search backend
func newService(cfg *config.Config) (*backend.Service, error) {
	service, err := backend.NewServiceFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating backend: %w", err)
	}
	return service, nil
}
