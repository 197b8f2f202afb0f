package files

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	FunnelkitDir       = ".funnelkit"
	ExportsDir         = "exports"
	SettingsFile       = "settings.yaml"
	DefaultPreviewFile = "FUNNEL.md"
)

func InitProjectStructure() error {
	dirs := []string{
		FunnelkitDir,
		filepath.Join(FunnelkitDir, ExportsDir),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ProjectExists reports whether the working directory holds a project.
func ProjectExists() bool {
	info, err := os.Stat(FunnelkitDir)
	return err == nil && info.IsDir()
}

// WriteFile writes content to path, creating parent directories
func WriteFile(path string, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", path, err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write file %s: %w", path, err)
	}
	return nil
}
