package files

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pluqqy/funnelkit/pkg/models"
)

// Environment variables that override settings.yaml.
const (
	EnvDatabase = "FUNNELKIT_DB"
	EnvLogLevel = "FUNNELKIT_LOG_LEVEL"
	EnvRemote   = "FUNNELKIT_REMOTE"
)

// SettingsPath is where the project settings live.
func SettingsPath() string {
	return filepath.Join(FunnelkitDir, SettingsFile)
}

// ReadSettings loads settings.yaml over the defaults. A missing file yields
// the defaults. Environment overrides are applied last.
func ReadSettings() (*models.Settings, error) {
	settings := models.DefaultSettings()

	content, err := os.ReadFile(SettingsPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read settings: %w", err)
	default:
		if err := yaml.Unmarshal(content, settings); err != nil {
			return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
		}
	}

	ApplyEnv(settings)
	if err := ValidateSettings(settings); err != nil {
		return nil, err
	}
	return settings, nil
}

// WriteSettings stores settings as settings.yaml.
func WriteSettings(settings *models.Settings) error {
	if err := ValidateSettings(settings); err != nil {
		return err
	}
	content, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings to YAML: %w", err)
	}
	return WriteFile(SettingsPath(), string(content))
}

// ApplyEnv overrides settings from the environment.
func ApplyEnv(settings *models.Settings) {
	if v := os.Getenv(EnvDatabase); v != "" {
		settings.Storage.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		settings.Log.Level = strings.ToLower(v)
	}
	if v := os.Getenv(EnvRemote); v != "" {
		settings.Server.Remote = v
	}
}

var (
	logLevels  = []string{"debug", "info", "warn", "error"}
	logFormats = []string{"text", "json"}
)

// ValidateSettings rejects values the rest of the program cannot work with.
func ValidateSettings(s *models.Settings) error {
	var problems []string
	if s.Storage.Path == "" {
		problems = append(problems, "storage.path must not be empty")
	}
	if s.Save.Timeout <= 0 {
		problems = append(problems, "save.timeout must be positive")
	}
	if s.Save.Parallelism < 1 {
		problems = append(problems, "save.parallelism must be at least 1")
	}
	if s.Save.AutosaveDebounce < 0 {
		problems = append(problems, "save.autosave_debounce must not be negative")
	}
	if s.Editor.HistoryDepth < 2 {
		problems = append(problems, "editor.history_depth must be at least 2")
	}
	if s.UI.WrapWidth < 0 {
		problems = append(problems, "ui.wrap_width must not be negative")
	}
	if !slices.Contains(logLevels, s.Log.Level) {
		problems = append(problems, fmt.Sprintf("log.level must be one of %s", strings.Join(logLevels, ", ")))
	}
	if !slices.Contains(logFormats, s.Log.Format) {
		problems = append(problems, fmt.Sprintf("log.format must be one of %s", strings.Join(logFormats, ", ")))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid settings: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SetSetting assigns value to a dotted key such as "save.timeout". The value
// is parsed the way settings.yaml would parse it.
func SetSetting(settings *models.Settings, key, value string) error {
	var doc yaml.Node
	if err := doc.Encode(settings); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	node := &doc
	for _, part := range strings.Split(key, ".") {
		node = mappingValue(node, part)
		if node == nil {
			return fmt.Errorf("unknown setting %q (known: %s)", key, strings.Join(SettingKeys(), ", "))
		}
	}
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("setting %q is a section, not a value", key)
	}
	node.Value = value
	node.Tag = ""
	node.Style = 0

	updated := *settings
	if err := doc.Decode(&updated); err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	if err := ValidateSettings(&updated); err != nil {
		return err
	}
	*settings = updated
	return nil
}

// SettingKeys lists every dotted key SetSetting accepts.
func SettingKeys() []string {
	var doc yaml.Node
	if err := doc.Encode(models.DefaultSettings()); err != nil {
		return nil
	}
	var keys []string
	var walk func(n *yaml.Node, prefix string)
	walk = func(n *yaml.Node, prefix string) {
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i].Value, n.Content[i+1]
			if prefix != "" {
				k = prefix + "." + k
			}
			if v.Kind == yaml.MappingNode {
				walk(v, k)
				continue
			}
			keys = append(keys, k)
		}
	}
	root := &doc
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	walk(root, "")
	sort.Strings(keys)
	return keys
}

func mappingValue(n *yaml.Node, key string) *yaml.Node {
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}
