// Package internal provides the App struct that wires all components of
// taskchain together and initializes the CLI layer.
package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/valter-silva-au/taskchain/internal/cli"
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/internal/observability"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// App holds all service dependencies for taskchain.
type App struct {
	BasePath  string
	TasksRoot string

	// Configuration
	ConfigMgr core.ConfigurationManager
	Config    *models.Config

	// Core services
	ChainMgr core.ChainManager
	TaskMgr  core.TaskManager

	// Observability
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
}

// NewApp creates and wires all components of taskchain. basePath is the
// project root holding .taskchain.yaml; the task root is resolved from it.
func NewApp(basePath string) (*App, error) {
	app := &App{BasePath: basePath}

	// --- Configuration ---
	app.ConfigMgr = core.NewConfigurationManager(basePath)
	cfg, err := app.ConfigMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if err := app.ConfigMgr.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	app.Config = cfg
	app.TasksRoot = app.ConfigMgr.ResolveTasksRoot(cfg)

	// --- Observability ---
	if cfg.Events.Enabled {
		eventLogPath := cfg.Events.Path
		if !filepath.IsAbs(eventLogPath) {
			eventLogPath = filepath.Join(basePath, eventLogPath)
		}
		app.EventLog, err = observability.NewJSONLEventLog(eventLogPath)
		if err != nil {
			// Non-fatal: disable observability if log can't be created.
			app.EventLog = nil
		}
	}
	if app.EventLog != nil {
		thresholds := observability.DefaultAlertThresholds()
		if cfg.Alerts.BlockedHours > 0 {
			thresholds.BlockedHours = cfg.Alerts.BlockedHours
		}
		if cfg.Alerts.ReviewDays > 0 {
			thresholds.ReviewDays = cfg.Alerts.ReviewDays
		}
		app.AlertEngine = observability.NewAlertEngine(app.EventLog, thresholds)
		app.MetricsCalc = observability.NewMetricsCalculator(app.EventLog)
	}

	// --- Core services ---
	var evtAdapter core.EventLogger
	if app.EventLog != nil {
		evtAdapter = &eventLogAdapter{log: app.EventLog}
	}
	app.ChainMgr = core.NewChainManager(app.TasksRoot, evtAdapter)
	app.TaskMgr = app.ChainMgr.GetTaskManager()

	// --- Wire CLI package-level variables ---
	cli.BasePath = basePath
	cli.TasksRoot = app.TasksRoot
	cli.ChainMgr = app.ChainMgr
	cli.TaskMgr = app.TaskMgr
	cli.ProjectInit = core.NewProjectInitializer()

	cli.EventLog = app.EventLog
	cli.AlertEngine = app.AlertEngine
	cli.MetricsCalc = app.MetricsCalc

	return app, nil
}

// Close releases resources held by the App, such as the event log file handle.
// It is safe to call Close on an App whose EventLog is nil.
func (a *App) Close() error {
	if a.EventLog != nil {
		return a.EventLog.Close()
	}
	return nil
}

// ResolveBasePath determines the project root. It checks the TASKCHAIN_HOME
// env var, then walks up from the current directory looking for
// .taskchain.yaml, then falls back to the current directory.
func ResolveBasePath() string {
	if home := os.Getenv("TASKCHAIN_HOME"); home != "" {
		return home
	}
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	configFile := core.ConfigFileName + ".yaml"
	for {
		if _, err := os.Stat(filepath.Join(dir, configFile)); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	cwd, _ := os.Getwd()
	return cwd
}

// --- Adapters ---

// eventLogAdapter adapts observability.EventLog to core.EventLogger.
type eventLogAdapter struct {
	log observability.EventLog
}

func (a *eventLogAdapter) LogEvent(eventType string, data map[string]any) error {
	return a.log.Write(observability.Event{
		Time:    time.Now().UTC(),
		Level:   "INFO",
		Type:    eventType,
		Message: eventMessage(eventType, data),
		Data:    data,
	})
}

// eventMessage renders a short human-readable line for an event.
func eventMessage(eventType string, data map[string]any) string {
	chainID, _ := data["chain_id"].(string)
	taskID, _ := data["task_id"].(string)
	switch eventType {
	case observability.EventTaskStatusChanged:
		return fmt.Sprintf("task %s/%s moved from %v to %v", chainID, taskID, data["old_status"], data["new_status"])
	case observability.EventTaskCreated, observability.EventTaskReworkCreated,
		observability.EventTaskUpdated, observability.EventTaskDeleted:
		return fmt.Sprintf("%s %s/%s", eventType, chainID, taskID)
	case observability.EventChainCreated, observability.EventChainUpdated, observability.EventChainDeleted:
		return fmt.Sprintf("%s %s", eventType, chainID)
	default:
		return eventType
	}
}
