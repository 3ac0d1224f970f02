// Package core contains the business logic for taskchain: the task and chain
// managers, the on-disk task document codec, file scope conflict detection,
// and project configuration.
package core

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

const (
	// ConfigFileName is the project configuration file, without extension.
	ConfigFileName = ".taskchain"
	// DefaultTasksRoot is the task root used when none is configured.
	DefaultTasksRoot = "tasks"
	// envPrefix scopes environment overrides, e.g. TASKCHAIN_TASKS_ROOT.
	envPrefix = "TASKCHAIN"
)

// ConfigurationManager loads and validates the project configuration.
type ConfigurationManager interface {
	LoadConfig() (*models.Config, error)
	ValidateConfig(cfg *models.Config) error
	ResolveTasksRoot(cfg *models.Config) string
}

// viperConfigManager implements ConfigurationManager using Viper for
// reading .taskchain.yaml.
type viperConfigManager struct {
	// basePath is the project root where .taskchain.yaml resides.
	basePath string
}

// NewConfigurationManager creates a ConfigurationManager that reads the
// configuration file in basePath.
func NewConfigurationManager(basePath string) ConfigurationManager {
	return &viperConfigManager{basePath: basePath}
}

func defaultConfig() *models.Config {
	return &models.Config{
		TasksRoot: DefaultTasksRoot,
		Events: models.EventsConfig{
			Enabled: true,
			Path:    filepath.Join(DefaultTasksRoot, ".events.jsonl"),
		},
		Alerts: models.AlertConfig{
			BlockedHours: 24,
			ReviewDays:   5,
		},
	}
}

// LoadConfig reads .taskchain.yaml from the base path. Environment variables
// with the TASKCHAIN_ prefix override file values. A missing file yields the
// defaults.
func (cm *viperConfigManager) LoadConfig() (*models.Config, error) {
	cfg := defaultConfig()

	v := viper.New()
	v.SetConfigName(ConfigFileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(cm.basePath)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("tasks.root", cfg.TasksRoot)
	v.SetDefault("events.enabled", cfg.Events.Enabled)
	v.SetDefault("events.path", cfg.Events.Path)
	v.SetDefault("alerts.blocked_hours", cfg.Alerts.BlockedHours)
	v.SetDefault("alerts.review_days", cfg.Alerts.ReviewDays)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading %s.yaml: %w", ConfigFileName, err)
		}
	}

	cfg.TasksRoot = v.GetString("tasks.root")
	cfg.Events.Enabled = v.GetBool("events.enabled")
	cfg.Events.Path = v.GetString("events.path")
	cfg.Alerts.BlockedHours = v.GetInt("alerts.blocked_hours")
	cfg.Alerts.ReviewDays = v.GetInt("alerts.review_days")

	return cfg, nil
}

// ValidateConfig checks the configuration for invalid values and returns a
// single error naming every problem.
func (cm *viperConfigManager) ValidateConfig(cfg *models.Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	var errs []string
	if strings.TrimSpace(cfg.TasksRoot) == "" {
		errs = append(errs, "tasks.root must not be empty")
	}
	if cfg.Events.Enabled && strings.TrimSpace(cfg.Events.Path) == "" {
		errs = append(errs, "events.path must not be empty when events are enabled")
	}
	if cfg.Alerts.BlockedHours <= 0 {
		errs = append(errs, fmt.Sprintf("alerts.blocked_hours must be positive, got %d", cfg.Alerts.BlockedHours))
	}
	if cfg.Alerts.ReviewDays <= 0 {
		errs = append(errs, fmt.Sprintf("alerts.review_days must be positive, got %d", cfg.Alerts.ReviewDays))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolveTasksRoot returns the absolute task root, resolving a relative
// tasks.root against the base path.
func (cm *viperConfigManager) ResolveTasksRoot(cfg *models.Config) string {
	return cm.resolve(cfg.TasksRoot)
}

func (cm *viperConfigManager) resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cm.basePath, p)
}
