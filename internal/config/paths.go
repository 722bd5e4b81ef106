package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "linkcleaner"

// DataDir returns the directory for history and logs.
//
//   - macOS:   ~/Library/Application Support/linkcleaner/
//   - Linux:   $XDG_DATA_HOME/linkcleaner/ or ~/.local/share/linkcleaner/
//   - Windows: %APPDATA%\linkcleaner\
//
// LINKCLEANER_DATA_DIR overrides all of these.
func DataDir() string {
	if v := os.Getenv(EnvPrefix + "DATA_DIR"); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName)
	case "windows":
		if v := os.Getenv("APPDATA"); v != "" {
			return filepath.Join(v, appName)
		}
	default:
		if v := os.Getenv("XDG_DATA_HOME"); v != "" {
			return filepath.Join(v, appName)
		}
		if home != "" {
			return filepath.Join(home, ".local", "share", appName)
		}
	}
	return filepath.Join(home, "."+appName)
}

// ConfigDir returns the directory holding config.toml.
func ConfigDir() string {
	if runtime.GOOS == "linux" {
		if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
			return filepath.Join(v, appName)
		}
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, ".config", appName)
		}
	}
	return DataDir()
}

// DefaultSocketPath returns the daemon socket location, preferring
// XDG_RUNTIME_DIR.
func DefaultSocketPath() string {
	if v := os.Getenv("XDG_RUNTIME_DIR"); v != "" {
		return filepath.Join(v, appName+".sock")
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(DataDir(), appName+".sock")
	default:
		return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid())+".sock")
	}
}
