package config

import (
	"fmt"
	"os"
	"path/filepath"
)

type Paths struct {
	BaseDir string
	DBPath  string
}

// ResolvePaths places the app state under the user config dir, creating the
// directory on first run. ARIA_DATA_DIR overrides the base dir for tests and
// portable installs.
func ResolvePaths(appSlug string) (Paths, error) {
	baseDir := os.Getenv("ARIA_DATA_DIR")
	if baseDir == "" {
		configDir, err := os.UserConfigDir()
		if err != nil {
			return Paths{}, fmt.Errorf("resolve user config dir: %w", err)
		}
		baseDir = filepath.Join(configDir, appSlug)
	}

	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return Paths{}, fmt.Errorf("create app config dir: %w", err)
	}

	return Paths{
		BaseDir: baseDir,
		DBPath:  filepath.Join(baseDir, "aria.db"),
	}, nil
}
