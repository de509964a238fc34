package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"geosync/internal/database"
)

// ErrNoWorkingCopy is returned when no working copy encloses a directory.
var ErrNoWorkingCopy = errors.New("not inside a geosync working copy (run geosync init)")

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - GEOSYNC_CONFIG_PATH: config file location (default: ~/.config/geosync.toml)
//   - GEOSYNC_HOME: base directory for geosync data (default: ~/.local/share/geosync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() (string, error) {
	if path := os.Getenv("GEOSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "geosync.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("GEOSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "geosync"), nil
}

// FindWorkingCopy walks up from dir to the nearest directory holding
// working-copy metadata.
func FindWorkingCopy(dir string) (string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	for {
		if _, err := os.Stat(database.WorkingCopyPath(dir)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNoWorkingCopy
		}
		dir = parent
	}
}
