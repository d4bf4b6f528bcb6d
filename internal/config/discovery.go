package config

import (
	"os"
	"path/filepath"
)

// EnvConfigDir names the environment variable that overrides the config-directory lookup.
const EnvConfigDir = "COREEVAL_CONFIG_DIR"

// configFileName is the TOML file discovered in whichever directory wins the lookup.
const configFileName = "coreeval.toml"

// DiscoverConfigPath resolves the configuration file path in priority order:
// an explicit directory argument, the COREEVAL_CONFIG_DIR environment variable,
// then the OS-specific user config directory. Environment variables always
// take precedence over file values once the file is loaded (see Load).
func DiscoverConfigPath(explicitDir string) (string, error) {
	if explicitDir != "" {
		return filepath.Join(explicitDir, configFileName), nil
	}

	if envDir := os.Getenv(EnvConfigDir); envDir != "" {
		return filepath.Join(envDir, configFileName), nil
	}

	userDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(userDir, "coreeval", configFileName), nil
}
