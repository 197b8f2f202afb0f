package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pluqqy/funnelkit/pkg/models"
)

// ParseComponentType resolves a component type name, accepting plurals and
// underscores (e.g. "social_share", "videos").
func ParseComponentType(t string) (models.ComponentType, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(t)), "_", "-")
	for _, candidate := range []string{normalized, strings.TrimSuffix(normalized, "s"), normalized + "s"} {
		if ct := models.ComponentType(candidate); ct.Valid() {
			return ct, nil
		}
	}

	names := make([]string, len(models.ComponentTypes))
	for i, ct := range models.ComponentTypes {
		names[i] = string(ct)
	}
	return "", fmt.Errorf("invalid component type: %s (must be one of: %s)", t, strings.Join(names, ", "))
}

// ValidateFilePath validates that a file path exists and is a file
func ValidateFilePath(path string) error {
	if !filepath.IsAbs(path) {
		path, _ = filepath.Abs(path)
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("path does not exist: %s", path)
		}
		return fmt.Errorf("error accessing path: %w", err)
	}

	if info.IsDir() {
		return fmt.Errorf("path is a directory, expected file: %s", path)
	}

	return nil
}

// ValidateOutputFormat validates the output format flag
func ValidateOutputFormat(format string) error {
	switch OutputFormat(format) {
	case FormatText, FormatJSON, FormatYAML:
		return nil
	}
	return fmt.Errorf("invalid output format: %s (must be: text, json, or yaml)", format)
}

// ValidateFunnelName validates a funnel name
func ValidateFunnelName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("funnel name cannot be empty")
	}
	if len([]rune(name)) > 120 {
		return fmt.Errorf("funnel name is too long (max 120 characters)")
	}
	if strings.ContainsAny(name, "\n\r\t") {
		return fmt.Errorf("funnel name cannot contain line breaks or tabs")
	}
	return nil
}
