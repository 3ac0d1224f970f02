package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/internal/observability"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

func TestResolveBasePath_HomeSet(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("TASKCHAIN_HOME", tmpDir)

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q", got, tmpDir)
	}
}

func TestResolveBasePath_FindsConfigFile(t *testing.T) {
	tmpDir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	subDir := filepath.Join(tmpDir, "sub", "nested")
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatal(err)
	}

	configPath := filepath.Join(tmpDir, ".taskchain.yaml")
	if err := os.WriteFile(configPath, []byte("tasks:\n  root: tasks\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	origDir, _ := os.Getwd()
	defer func() { _ = os.Chdir(origDir) }()
	if err := os.Chdir(subDir); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKCHAIN_HOME", "")

	got := ResolveBasePath()
	if got != tmpDir {
		t.Errorf("ResolveBasePath() = %q, want %q (should find .taskchain.yaml in parent)", got, tmpDir)
	}
}

func TestNewApp_Success(t *testing.T) {
	tmpDir := t.TempDir()
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	defer app.Close()

	if app.BasePath != tmpDir {
		t.Errorf("app.BasePath = %q, want %q", app.BasePath, tmpDir)
	}
	if app.TasksRoot != filepath.Join(tmpDir, core.DefaultTasksRoot) {
		t.Errorf("app.TasksRoot = %q, want %q", app.TasksRoot, filepath.Join(tmpDir, core.DefaultTasksRoot))
	}
	if app.ChainMgr == nil || app.TaskMgr == nil {
		t.Fatal("expected chain and task managers to be wired")
	}
	if app.EventLog == nil || app.MetricsCalc == nil || app.AlertEngine == nil {
		t.Error("expected observability to be wired by default")
	}
}

func TestNewApp_InvalidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".taskchain.yaml"), []byte("alerts:\n  review_days: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewApp(tmpDir); err == nil {
		t.Fatal("expected an error for an invalid configuration")
	}
}

func TestNewApp_EventsDisabled(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, ".taskchain.yaml"), []byte("events:\n  enabled: false\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatalf("NewApp() error = %v", err)
	}
	if app.EventLog != nil || app.MetricsCalc != nil {
		t.Error("expected observability to be disabled")
	}

	// The managers still work without an event log.
	if _, err := app.ChainMgr.CreateChain("", "quiet", "Quiet", core.CreateChainOpts{}); err != nil {
		t.Fatalf("CreateChain() error = %v", err)
	}
}

func TestEventLogAdapter_RecordsLifecycle(t *testing.T) {
	tmpDir := t.TempDir()
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	chain, err := app.ChainMgr.CreateChain("REQ-7", "auth", "Auth", core.CreateChainOpts{})
	if err != nil {
		t.Fatal(err)
	}
	task, err := app.ChainMgr.AddTask(chain.ID, "schema", "Schema", "", core.CreateTaskOpts{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := app.TaskMgr.TransitionTask(chain.ID, task.ID, models.StatusTodo)
	if err != nil || !res.OK() {
		t.Fatalf("transition failed: %v %v", err, res.Err())
	}

	events, err := app.EventLog.Read(observability.EventFilter{ChainID: chain.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[2]
	if last.Type != observability.EventTaskStatusChanged {
		t.Errorf("last event type = %q", last.Type)
	}
	if !strings.Contains(last.Message, "backlog to todo") {
		t.Errorf("unexpected message %q", last.Message)
	}
	if last.ID == "" {
		t.Error("expected event id to be set")
	}

	m, err := app.MetricsCalc.Calculate(events[0].Time.Add(-1))
	if err != nil {
		t.Fatal(err)
	}
	if m.ChainsCreated != 1 || m.TasksCreated != 1 || m.TasksByStatus["todo"] != 1 {
		t.Errorf("unexpected metrics: %+v", m)
	}
}

func TestEventLogAdapter_ManagerEventsReachMetrics(t *testing.T) {
	tmpDir := t.TempDir()
	app, err := NewApp(tmpDir)
	if err != nil {
		t.Fatal(err)
	}
	defer app.Close()

	chain, err := app.ChainMgr.CreateChain("", "billing", "Billing", core.CreateChainOpts{})
	if err != nil {
		t.Fatal(err)
	}
	task, err := app.ChainMgr.AddTask(chain.ID, "invoice", "Invoice", "", core.CreateTaskOpts{Type: models.TaskTypeControl})
	if err != nil {
		t.Fatal(err)
	}
	for _, to := range []models.TaskStatus{models.StatusTodo, models.StatusInProgress, models.StatusInReview, models.StatusDone} {
		if res, err := app.TaskMgr.TransitionTask(chain.ID, task.ID, to); err != nil || !res.OK() {
			t.Fatalf("TransitionTask(%s): %v %v", to, err, res.Err())
		}
	}
	if _, err := app.TaskMgr.CreateReworkTask(chain.ID, task.ID, "missed a case"); err != nil {
		t.Fatal(err)
	}
	if ok, err := app.ChainMgr.DeleteChain(chain.ID); err != nil || !ok {
		t.Fatalf("DeleteChain = %v, %v", ok, err)
	}

	events, err := app.EventLog.Read(observability.EventFilter{})
	if err != nil {
		t.Fatal(err)
	}
	m, err := app.MetricsCalc.Calculate(events[0].Time.Add(-1))
	if err != nil {
		t.Fatal(err)
	}
	if m.ChainsCreated != 1 || m.ChainsDeleted != 1 {
		t.Errorf("chain counts = %d created, %d deleted", m.ChainsCreated, m.ChainsDeleted)
	}
	// The rework copy is a created task as well.
	if m.TasksCreated != 2 || m.TasksByType[string(models.TaskTypeControl)] != 2 {
		t.Errorf("task counts = %d created, by type %v", m.TasksCreated, m.TasksByType)
	}
	if m.TasksApproved != 1 || m.TasksReworked != 1 {
		t.Errorf("approved = %d, reworked = %d", m.TasksApproved, m.TasksReworked)
	}
}
