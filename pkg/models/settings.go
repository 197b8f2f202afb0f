package models

import "time"

// Settings represents the application configuration
type Settings struct {
	Storage StorageSettings `yaml:"storage"`
	Save    SaveSettings    `yaml:"save"`
	Editor  EditorSettings  `yaml:"editor"`
	UI      UISettings      `yaml:"ui"`
	Log     LogSettings     `yaml:"log"`
	Server  ServerSettings  `yaml:"server"`
}

// StorageSettings locates the persisted funnel tree
type StorageSettings struct {
	Path string `yaml:"path"`
}

// SaveSettings controls reconciliation and autosave
type SaveSettings struct {
	Timeout          time.Duration `yaml:"timeout"`
	Parallelism      int           `yaml:"parallelism"`
	Autosave         bool          `yaml:"autosave"`
	AutosaveDebounce time.Duration `yaml:"autosave_debounce"`
}

// EditorSettings controls the edit store
type EditorSettings struct {
	HistoryDepth int           `yaml:"history_depth"`
	SeedWindow   time.Duration `yaml:"seed_window"`
}

// UISettings controls UI preferences
type UISettings struct {
	ShowPreview bool `yaml:"show_preview"`
	WrapWidth   int  `yaml:"wrap_width"`
}

// LogSettings controls structured logging
type LogSettings struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
	File   string `yaml:"file"`
}

// ServerSettings controls the HTTP boundary
type ServerSettings struct {
	Addr   string `yaml:"addr"`
	Remote string `yaml:"remote"`
}

// DefaultSettings returns the default configuration
func DefaultSettings() *Settings {
	return &Settings{
		Storage: StorageSettings{
			Path: ".funnelkit/funnels.db",
		},
		Save: SaveSettings{
			Timeout:          20 * time.Second,
			Parallelism:      4,
			Autosave:         true,
			AutosaveDebounce: 1500 * time.Millisecond,
		},
		Editor: EditorSettings{
			HistoryDepth: 50,
			SeedWindow:   60 * time.Second,
		},
		UI: UISettings{
			ShowPreview: true,
			WrapWidth:   72,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "text",
			File:   ".funnelkit/funnelkit.log",
		},
		Server: ServerSettings{
			Addr: ":8088",
		},
	}
}
