package models

// AlertConfig holds the thresholds for task alerts.
type AlertConfig struct {
	BlockedHours int `yaml:"blocked_hours" mapstructure:"blocked_hours"`
	ReviewDays   int `yaml:"review_days" mapstructure:"review_days"`
}

// EventsConfig controls the JSONL event log.
type EventsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// Config holds project settings read from .taskchain.yaml via Viper.
type Config struct {
	// TasksRoot is the task root, relative to the project root unless
	// absolute. It is read from the nested tasks.root key.
	TasksRoot string       `yaml:"-" mapstructure:"-"`
	Events    EventsConfig `yaml:"events" mapstructure:"events"`
	Alerts    AlertConfig  `yaml:"alerts" mapstructure:"alerts"`
}
