package cli

import (
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/internal/observability"
)

// Service instances, set during app initialization in app.go.
var (
	BasePath  string
	TasksRoot string
	ChainMgr  core.ChainManager
	TaskMgr   core.TaskManager
)

// Observability service instances, set during app initialization in app.go.
var (
	EventLog    observability.EventLog
	AlertEngine observability.AlertEngine
	MetricsCalc observability.MetricsCalculator
)
