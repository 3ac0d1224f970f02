package core

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/valter-silva-au/taskchain/pkg/models"
)

const testChain = "CHAIN-001-auth"

// recordingLogger captures events for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (l *recordingLogger) LogEvent(eventType string, data map[string]any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, eventType)
	l.data = append(l.data, data)
	return nil
}

func (l *recordingLogger) count(eventType string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == eventType {
			n++
		}
	}
	return n
}

func setupTaskManager(t *testing.T) (string, TaskManager, *recordingLogger) {
	t.Helper()
	root := t.TempDir()
	log := &recordingLogger{}
	return root, NewTaskManager(root, log), log
}

func mustCreate(t *testing.T, tm TaskManager, slug string) *models.Task {
	t.Helper()
	task, err := tm.CreateTask(testChain, slug, "Task "+slug, "Do "+slug, CreateTaskOpts{})
	if err != nil {
		t.Fatalf("CreateTask(%s): %v", slug, err)
	}
	return task
}

func mustTransition(t *testing.T, tm TaskManager, taskID string, path ...models.TaskStatus) {
	t.Helper()
	for _, to := range path {
		res, err := tm.TransitionTask(testChain, taskID, to)
		if err != nil {
			t.Fatalf("TransitionTask(%s, %s): %v", taskID, to, err)
		}
		if !res.OK() {
			t.Fatalf("TransitionTask(%s, %s) = %s: %v", taskID, to, res.Outcome, res.Err())
		}
	}
}

// assertOnlyIn checks that the task document exists in exactly one status
// directory.
func assertOnlyIn(t *testing.T, root, taskID string, want models.TaskStatus) {
	t.Helper()
	for _, s := range models.AllStatuses() {
		path := filepath.Join(root, string(s), testChain, taskID+".md")
		_, err := os.Stat(path)
		switch {
		case s == want && err != nil:
			t.Errorf("%s missing from %s: %v", taskID, s, err)
		case s != want && err == nil:
			t.Errorf("%s should not exist in %s", taskID, s)
		}
	}
}

// --- CreateTask ---

func TestCreateTask(t *testing.T) {
	root, tm, log := setupTaskManager(t)

	task, err := tm.CreateTask(testChain, "login-form", "Login form", "Build it", CreateTaskOpts{
		FileScope:  []string{"web/**"},
		Acceptance: []string{"renders"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if task.ID != "001-login-form" || task.Sequence != 1 {
		t.Errorf("ID = %s (seq %d)", task.ID, task.Sequence)
	}
	if task.Status != models.StatusBacklog {
		t.Errorf("Status = %s, want backlog", task.Status)
	}
	if task.Type != models.TaskTypeImpl {
		t.Errorf("Type = %s, want impl", task.Type)
	}
	if task.ExpectedFiles == nil || task.Constraints == nil {
		t.Error("unset lists should be empty, not nil")
	}
	assertOnlyIn(t, root, task.ID, models.StatusBacklog)

	if log.count(models.EventTaskCreated) != 1 {
		t.Errorf("task.created events = %d, want 1", log.count(models.EventTaskCreated))
	}
}

func TestCreateTask_Sequential(t *testing.T) {
	_, tm, _ := setupTaskManager(t)

	for i, slug := range []string{"a", "b", "c"} {
		task := mustCreate(t, tm, slug)
		if task.Sequence != i+1 {
			t.Errorf("task %s sequence = %d, want %d", slug, task.Sequence, i+1)
		}
	}

	// Sequences are per chain.
	other, err := tm.CreateTask("CHAIN-002-billing", "x", "X", "", CreateTaskOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if other.Sequence != 1 {
		t.Errorf("other chain sequence = %d, want 1", other.Sequence)
	}
}

func TestCreateTask_SequenceNotReusedAfterDelete(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	mustCreate(t, tm, "a")
	b := mustCreate(t, tm, "b")
	if _, err := tm.DeleteTask(testChain, b.ID); err != nil {
		t.Fatal(err)
	}
	c := mustCreate(t, tm, "c")
	if c.Sequence != 3 {
		t.Errorf("sequence after delete = %d, want 3", c.Sequence)
	}
}

func TestCreateTask_Invalid(t *testing.T) {
	_, tm, _ := setupTaskManager(t)

	_, err := tm.CreateTask(testChain, "bad slug", "t", "", CreateTaskOpts{})
	if !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("expected ErrInvalidSlug, got %v", err)
	}
	if _, err := tm.CreateTask(testChain, "", "t", "", CreateTaskOpts{}); !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("expected ErrInvalidSlug for empty slug, got %v", err)
	}
	if _, err := tm.CreateTask(testChain, "v1..2", "t", "", CreateTaskOpts{}); !errors.Is(err, ErrInvalidSlug) {
		t.Errorf("expected ErrInvalidSlug for dotted slug, got %v", err)
	}
	if tasks, _ := tm.GetTasksForChain(testChain); len(tasks) != 0 {
		t.Errorf("rejected slugs left %d tasks behind", len(tasks))
	}
	// A single dot is still fine and the task stays reachable.
	dotted, err := tm.CreateTask(testChain, "v1.2", "t", "", CreateTaskOpts{})
	if err != nil {
		t.Fatalf("CreateTask(v1.2): %v", err)
	}
	if got, err := tm.GetTask(testChain, dotted.ID); err != nil || got == nil {
		t.Errorf("GetTask(%s) = %v, %v", dotted.ID, got, err)
	}
	if _, err := tm.CreateTask("../escape", "ok", "t", "", CreateTaskOpts{}); err == nil {
		t.Error("expected error for traversal chain id")
	}
	if _, err := tm.CreateTask(testChain, "ok", "t", "", CreateTaskOpts{Type: "epic"}); err == nil {
		t.Error("expected error for unknown type")
	}
}

// --- GetTask / listing ---

func TestGetTask(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	created := mustCreate(t, tm, "a")

	got, err := tm.GetTask(testChain, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "Task a" || got.Description != "Do a" {
		t.Errorf("GetTask = %+v", got)
	}
}

func TestGetTask_NotFound(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	for _, id := range []string{"001-missing", "not-an-id", "../001-x"} {
		got, err := tm.GetTask(testChain, id)
		if err != nil || got != nil {
			t.Errorf("GetTask(%q) = %v, %v; want nil, nil", id, got, err)
		}
	}
	if got, err := tm.GetTask("../..", "001-x"); err != nil || got != nil {
		t.Errorf("traversal chain id = %v, %v", got, err)
	}
}

func TestGetTasksForChain_SortedAcrossStatuses(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	a := mustCreate(t, tm, "a")
	b := mustCreate(t, tm, "b")
	c := mustCreate(t, tm, "c")
	mustTransition(t, tm, c.ID, models.StatusTodo)
	mustTransition(t, tm, a.ID, models.StatusBlocked)

	tasks, err := tm.GetTasksForChain(testChain)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Fatalf("got %d tasks, want 3", len(tasks))
	}
	for i, want := range []string{a.ID, b.ID, c.ID} {
		if tasks[i].ID != want {
			t.Errorf("tasks[%d] = %s, want %s", i, tasks[i].ID, want)
		}
	}

	todo, err := tm.GetTasksByStatus(testChain, models.StatusTodo)
	if err != nil {
		t.Fatal(err)
	}
	if len(todo) != 1 || todo[0].ID != c.ID {
		t.Errorf("todo = %v", todo)
	}
}

func TestGetTasksForChain_SkipsCorruptAndForeignFiles(t *testing.T) {
	root, tm, _ := setupTaskManager(t)
	mustCreate(t, tm, "a")
	dir := filepath.Join(root, "backlog", testChain)
	writeFile(t, dir, "002-broken.md", "no heading here\n")
	writeFile(t, dir, "README.txt", "ignored")

	tasks, err := tm.GetTasksForChain(testChain)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Errorf("got %d tasks, want 1", len(tasks))
	}
	if got, _ := tm.GetTask(testChain, "002-broken"); got != nil {
		t.Error("corrupt document should read as missing")
	}
}

func TestGetTasksForChain_UnknownChain(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	tasks, err := tm.GetTasksForChain("CHAIN-404-none")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Errorf("got %d tasks", len(tasks))
	}
}

// --- Transitions ---

func TestTransitionTask_FullLifecycle(t *testing.T) {
	root, tm, log := setupTaskManager(t)
	task := mustCreate(t, tm, "a")

	path := []models.TaskStatus{
		models.StatusTodo,
		models.StatusInProgress,
		models.StatusInReview,
		models.StatusInProgress,
		models.StatusInReview,
		models.StatusDone,
	}
	for _, to := range path {
		mustTransition(t, tm, task.ID, to)
		assertOnlyIn(t, root, task.ID, to)
	}

	got, err := tm.GetTask(testChain, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusDone {
		t.Errorf("Status = %s, want done", got.Status)
	}
	if recorded := readRecorded(t, root, models.StatusDone, task.ID); recorded != models.StatusDone {
		t.Errorf("recorded status = %s", recorded)
	}
	if log.count(models.EventTaskStatusChanged) != len(path) {
		t.Errorf("status events = %d, want %d", log.count(models.EventTaskStatusChanged), len(path))
	}

	// Emptied chain directories are pruned.
	for _, s := range []models.TaskStatus{models.StatusBacklog, models.StatusTodo, models.StatusInReview} {
		if _, err := os.Stat(filepath.Join(root, string(s), testChain)); !os.IsNotExist(err) {
			t.Errorf("%s/%s should have been removed", s, testChain)
		}
	}
}

func TestTransitionTask_Invalid(t *testing.T) {
	root, tm, log := setupTaskManager(t)
	task := mustCreate(t, tm, "a")

	res, err := tm.TransitionTask(testChain, task.ID, models.StatusDone)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != TransitionInvalid {
		t.Fatalf("Outcome = %s, want invalid_transition", res.Outcome)
	}
	if res.From != models.StatusBacklog || res.To != models.StatusDone {
		t.Errorf("From/To = %s/%s", res.From, res.To)
	}
	if len(res.Allowed) != 2 {
		t.Errorf("Allowed = %v", res.Allowed)
	}

	var invalid *InvalidTransitionError
	if !errors.As(res.Err(), &invalid) {
		t.Fatalf("Err() = %v, want *InvalidTransitionError", res.Err())
	}
	if invalid.From != models.StatusBacklog || invalid.To != models.StatusDone {
		t.Errorf("error = %+v", invalid)
	}

	assertOnlyIn(t, root, task.ID, models.StatusBacklog)
	if log.count(models.EventTaskStatusChanged) != 0 {
		t.Error("no event should be logged for a rejected transition")
	}
}

func TestTransitionTask_DoneIsTerminal(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	task := mustCreate(t, tm, "a")
	mustTransition(t, tm, task.ID,
		models.StatusTodo, models.StatusInProgress, models.StatusInReview, models.StatusDone)

	for _, to := range models.AllStatuses() {
		res, err := tm.TransitionTask(testChain, task.ID, to)
		if err != nil {
			t.Fatal(err)
		}
		if res.OK() {
			t.Errorf("done -> %s should be rejected", to)
		}
	}
}

func TestTransitionTask_NotFound(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	res, err := tm.TransitionTask(testChain, "009-ghost", models.StatusTodo)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != TransitionNotFound {
		t.Errorf("Outcome = %s, want not_found", res.Outcome)
	}
	if !errors.Is(res.Err(), ErrTaskNotFound) {
		t.Errorf("Err() = %v, want ErrTaskNotFound", res.Err())
	}
}

func TestTransitionShortcuts(t *testing.T) {
	root, tm, _ := setupTaskManager(t)
	task := mustCreate(t, tm, "a")
	mustTransition(t, tm, task.ID, models.StatusTodo)

	steps := []struct {
		name string
		fn   func(string, string) (*TransitionResult, error)
		want models.TaskStatus
	}{
		{"start", tm.StartTask, models.StatusInProgress},
		{"complete", tm.CompleteTask, models.StatusInReview},
		{"rework", tm.ReworkTask, models.StatusInProgress},
		{"block", tm.BlockTask, models.StatusBlocked},
	}
	for _, s := range steps {
		res, err := s.fn(testChain, task.ID)
		if err != nil {
			t.Fatalf("%s: %v", s.name, err)
		}
		if !res.OK() || res.Task.Status != s.want {
			t.Fatalf("%s: outcome %s, status %v", s.name, res.Outcome, res.Task)
		}
		assertOnlyIn(t, root, task.ID, s.want)
	}

	mustTransition(t, tm, task.ID, models.StatusTodo, models.StatusInProgress, models.StatusInReview)
	res, err := tm.ApproveTask(testChain, task.ID)
	if err != nil || !res.OK() {
		t.Fatalf("approve: %v, %v", res, err)
	}
	assertOnlyIn(t, root, task.ID, models.StatusDone)
}

func TestTransitionTask_ResumesInterruptedMove(t *testing.T) {
	root, tm, log := setupTaskManager(t)
	task := mustCreate(t, tm, "a")
	mustTransition(t, tm, task.ID, models.StatusTodo)

	// Simulate a crash after the in-progress copy was written but before the
	// todo copy was removed.
	moved := *task
	moved.Status = models.StatusInProgress
	writeFile(t, filepath.Join(root, "in-progress", testChain), task.ID+".md", SerializeTask(&moved))

	res, err := tm.TransitionTask(testChain, task.ID, models.StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if !res.OK() {
		t.Fatalf("Outcome = %s: %v", res.Outcome, res.Err())
	}
	if res.From != models.StatusTodo {
		t.Errorf("From = %s, want todo", res.From)
	}
	assertOnlyIn(t, root, task.ID, models.StatusInProgress)
	if log.count(models.EventTaskStatusChanged) != 2 {
		t.Errorf("status events = %d, want 2", log.count(models.EventTaskStatusChanged))
	}
}

func TestTransitionTask_DuplicateCopiesCollapseOnNextMove(t *testing.T) {
	root, tm, _ := setupTaskManager(t)
	task := mustCreate(t, tm, "a")

	// A stale copy in blocked that still records backlog.
	writeFile(t, filepath.Join(root, "blocked", testChain), task.ID+".md", SerializeTask(task))

	mustTransition(t, tm, task.ID, models.StatusTodo)
	assertOnlyIn(t, root, task.ID, models.StatusTodo)
}

// --- GetNextTask ---

func TestGetNextTask(t *testing.T) {
	_, tm, _ := setupTaskManager(t)

	next, err := tm.GetNextTask(testChain)
	if err != nil || next != nil {
		t.Fatalf("empty chain: %v, %v", next, err)
	}

	a := mustCreate(t, tm, "a")
	b := mustCreate(t, tm, "b")
	c := mustCreate(t, tm, "c")

	// Backlog tasks are not actionable.
	if next, _ := tm.GetNextTask(testChain); next != nil {
		t.Errorf("backlog only: got %s", next.ID)
	}

	mustTransition(t, tm, c.ID, models.StatusTodo)
	mustTransition(t, tm, b.ID, models.StatusTodo)
	if next, _ := tm.GetNextTask(testChain); next == nil || next.ID != b.ID {
		t.Errorf("lowest todo: got %v, want %s", next, b.ID)
	}

	mustTransition(t, tm, a.ID, models.StatusTodo, models.StatusInProgress)
	next, err = tm.GetNextTask(testChain)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ID != a.ID {
		t.Errorf("in-progress first: got %v, want %s", next, a.ID)
	}
}

// --- UpdateTask ---

func TestUpdateTask(t *testing.T) {
	root, tm, log := setupTaskManager(t)
	task := mustCreate(t, tm, "a")
	mustTransition(t, tm, task.ID, models.StatusTodo)

	title := "Renamed"
	notes := "halfway there"
	got, err := tm.UpdateTask(testChain, task.ID, TaskUpdate{
		Title:       &title,
		Notes:       &notes,
		Constraints: []string{"keep API stable"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Renamed" || got.Notes != "halfway there" {
		t.Errorf("update = %+v", got)
	}
	if got.Description != "Do a" {
		t.Errorf("unset field changed: %q", got.Description)
	}

	// Updates rewrite in place and never change status.
	assertOnlyIn(t, root, task.ID, models.StatusTodo)
	reread, _ := tm.GetTask(testChain, task.ID)
	if reread.Title != "Renamed" || len(reread.Constraints) != 1 {
		t.Errorf("reread = %+v", reread)
	}
	if log.count(models.EventTaskUpdated) != 1 {
		t.Error("expected a task.updated event")
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	got, err := tm.UpdateTask(testChain, "001-none", TaskUpdate{})
	if err != nil || got != nil {
		t.Errorf("UpdateTask = %v, %v; want nil, nil", got, err)
	}
}

// --- DeleteTask ---

func TestDeleteTask(t *testing.T) {
	root, tm, _ := setupTaskManager(t)
	task := mustCreate(t, tm, "a")

	ok, err := tm.DeleteTask(testChain, task.ID)
	if err != nil || !ok {
		t.Fatalf("DeleteTask = %v, %v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(root, "backlog", testChain)); !os.IsNotExist(err) {
		t.Error("empty chain directory should be pruned")
	}

	ok, err = tm.DeleteTask(testChain, task.ID)
	if err != nil || ok {
		t.Errorf("second DeleteTask = %v, %v; want false, nil", ok, err)
	}
}

func TestDeleteChainTasks(t *testing.T) {
	root, tm, _ := setupTaskManager(t)
	a := mustCreate(t, tm, "a")
	mustCreate(t, tm, "b")
	mustTransition(t, tm, a.ID, models.StatusTodo)

	ok, err := tm.DeleteChainTasks(testChain)
	if err != nil || !ok {
		t.Fatalf("DeleteChainTasks = %v, %v", ok, err)
	}
	for _, s := range models.AllStatuses() {
		if _, err := os.Stat(filepath.Join(root, string(s), testChain)); !os.IsNotExist(err) {
			t.Errorf("%s/%s still exists", s, testChain)
		}
	}
	if _, err := os.Stat(filepath.Join(root, ".sequences", testChain)); !os.IsNotExist(err) {
		t.Error("sequence mark should be removed with the chain")
	}

	ok, err = tm.DeleteChainTasks(testChain)
	if err != nil || ok {
		t.Errorf("second DeleteChainTasks = %v, %v", ok, err)
	}
}

// --- CreateReworkTask ---

func TestCreateReworkTask(t *testing.T) {
	_, tm, log := setupTaskManager(t)
	orig, err := tm.CreateTask(testChain, "login", "Login", "Build login", CreateTaskOpts{
		Type:       models.TaskTypeControl,
		FileScope:  []string{"web/login/**"},
		Acceptance: []string{"works"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rework, err := tm.CreateReworkTask(testChain, orig.ID, "failed review")
	if err != nil {
		t.Fatal(err)
	}
	if rework.ID != "002-login" || rework.Status != models.StatusBacklog {
		t.Errorf("rework = %s in %s", rework.ID, rework.Status)
	}
	if rework.ReworkOf != orig.ID || rework.ReworkReason != "failed review" || rework.ReworkCount != 1 {
		t.Errorf("lineage = %q/%q/%d", rework.ReworkOf, rework.ReworkReason, rework.ReworkCount)
	}
	if rework.Type != models.TaskTypeControl || len(rework.FileScope) != 1 || len(rework.Acceptance) != 1 {
		t.Errorf("content not copied: %+v", rework)
	}

	// The lineage is persisted and the count accumulates.
	second, err := tm.CreateReworkTask(testChain, rework.ID, "again")
	if err != nil {
		t.Fatal(err)
	}
	if second.ReworkCount != 2 || second.ReworkOf != rework.ID {
		t.Errorf("second rework = %d of %s", second.ReworkCount, second.ReworkOf)
	}
	if log.count(models.EventTaskReworkCreated) != 2 {
		t.Errorf("rework events = %d", log.count(models.EventTaskReworkCreated))
	}
}

func TestCreateReworkTask_NotFound(t *testing.T) {
	_, tm, _ := setupTaskManager(t)
	got, err := tm.CreateReworkTask(testChain, "001-none", "x")
	if err != nil || got != nil {
		t.Errorf("CreateReworkTask = %v, %v; want nil, nil", got, err)
	}
}

func readRecorded(t *testing.T, root string, status models.TaskStatus, taskID string) models.TaskStatus {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, string(status), testChain, taskID+".md"))
	if err != nil {
		t.Fatal(err)
	}
	return recordedStatus(string(data))
}
