package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/taskchain/pkg/models"
)

// taskDocExt is the file extension of task documents.
const taskDocExt = ".md"

// slugPattern matches identifier-safe slugs.
var slugPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// validSlug reports whether slug can become part of an id that every lookup
// accepts. Ids containing ".." are rejected as path segments.
func validSlug(slug string) bool {
	return slugPattern.MatchString(slug) && !strings.Contains(slug, "..")
}

var (
	// ErrTaskNotFound is returned by TransitionResult.Err when the task does not exist.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidSlug is returned when a slug is empty or not identifier-safe.
	ErrInvalidSlug = errors.New("invalid slug")
)

// CreateTaskOpts holds the optional content of a new task. Unset lists
// default to empty collections.
type CreateTaskOpts struct {
	Type          models.TaskType
	ExpectedFiles []string
	FileScope     []string
	Acceptance    []string
	Constraints   []string
	Notes         string
}

// TaskUpdate holds the content fields to merge into a task. Nil fields are
// left unchanged. Status is never changed by an update.
type TaskUpdate struct {
	Title         *string
	Description   *string
	ExpectedFiles []string
	FileScope     []string
	Acceptance    []string
	Constraints   []string
	Notes         *string
}

// TaskManager defines the task lifecycle operations against a task root in
// which every status is a directory partitioned by chain id.
type TaskManager interface {
	Root() string
	CreateTask(chainID, slug, title, description string, opts CreateTaskOpts) (*models.Task, error)
	CreateReworkTask(chainID, taskID, reason string) (*models.Task, error)
	GetTask(chainID, taskID string) (*models.Task, error)
	GetTasksForChain(chainID string) ([]*models.Task, error)
	GetTasksByStatus(chainID string, status models.TaskStatus) ([]*models.Task, error)
	TransitionTask(chainID, taskID string, to models.TaskStatus) (*TransitionResult, error)
	StartTask(chainID, taskID string) (*TransitionResult, error)
	CompleteTask(chainID, taskID string) (*TransitionResult, error)
	ApproveTask(chainID, taskID string) (*TransitionResult, error)
	ReworkTask(chainID, taskID string) (*TransitionResult, error)
	BlockTask(chainID, taskID string) (*TransitionResult, error)
	GetNextTask(chainID string) (*models.Task, error)
	UpdateTask(chainID, taskID string, update TaskUpdate) (*models.Task, error)
	DeleteTask(chainID, taskID string) (bool, error)
	DeleteChainTasks(chainID string) (bool, error)
}

// fileTaskManager implements TaskManager on the local filesystem.
type fileTaskManager struct {
	root     string
	counter  *sequenceCounter
	eventLog EventLogger
}

// NewTaskManager creates a TaskManager rooted at root. eventLog may be nil.
func NewTaskManager(root string, eventLog EventLogger) TaskManager {
	return &fileTaskManager{
		root:     root,
		counter:  newSequenceCounter(root),
		eventLog: eventLog,
	}
}

func (tm *fileTaskManager) Root() string {
	return tm.root
}

// CreateTask allocates the next sequence in the chain and writes the new
// task document into the chain's backlog directory.
func (tm *fileTaskManager) CreateTask(chainID, slug, title, description string, opts CreateTaskOpts) (*models.Task, error) {
	if !validPathSegment(chainID) {
		return nil, fmt.Errorf("creating task: invalid chain id %q", chainID)
	}
	if !validSlug(slug) {
		return nil, fmt.Errorf("creating task: %w: %q", ErrInvalidSlug, slug)
	}

	existing, err := tm.GetTasksForChain(chainID)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}
	floor := 0
	for _, t := range existing {
		if t.Sequence > floor {
			floor = t.Sequence
		}
	}
	seq, err := tm.counter.next(chainID, floor)
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	taskType := opts.Type
	if taskType == "" {
		taskType = models.TaskTypeImpl
	}
	if !taskType.IsValid() {
		return nil, fmt.Errorf("creating task: unknown task type %q", taskType)
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:            FormatTaskID(seq, slug),
		Sequence:      seq,
		Slug:          slug,
		ChainID:       chainID,
		Status:        models.StatusBacklog,
		Type:          taskType,
		Title:         title,
		Description:   description,
		ExpectedFiles: nonNil(opts.ExpectedFiles),
		FileScope:     opts.FileScope,
		Acceptance:    nonNil(opts.Acceptance),
		Constraints:   nonNil(opts.Constraints),
		Notes:         opts.Notes,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := writeVerified(tm.taskPath(chainID, task.Status, task.ID), []byte(SerializeTask(task))); err != nil {
		return nil, fmt.Errorf("creating task %s: %w", task.ID, err)
	}

	tm.logEvent(models.EventTaskCreated, map[string]any{
		"chain_id": chainID,
		"task_id":  task.ID,
		"type":     string(task.Type),
		"status":   string(task.Status),
	})
	return task, nil
}

// CreateReworkTask creates a new backlog task that supersedes taskID,
// copying its content and recording the rework lineage. It returns nil when
// the original task does not exist.
func (tm *fileTaskManager) CreateReworkTask(chainID, taskID, reason string) (*models.Task, error) {
	orig, err := tm.GetTask(chainID, taskID)
	if err != nil {
		return nil, fmt.Errorf("creating rework of %s: %w", taskID, err)
	}
	if orig == nil {
		return nil, nil
	}

	task, err := tm.CreateTask(chainID, orig.Slug, orig.Title, orig.Description, CreateTaskOpts{
		Type:          orig.Type,
		ExpectedFiles: orig.ExpectedFiles,
		FileScope:     orig.FileScope,
		Acceptance:    orig.Acceptance,
		Constraints:   orig.Constraints,
		Notes:         orig.Notes,
	})
	if err != nil {
		return nil, fmt.Errorf("creating rework of %s: %w", taskID, err)
	}

	task.ReworkOf = orig.ID
	task.ReworkReason = reason
	task.ReworkCount = orig.ReworkCount + 1
	if err := writeVerified(tm.taskPath(chainID, task.Status, task.ID), []byte(SerializeTask(task))); err != nil {
		return nil, fmt.Errorf("creating rework of %s: %w", taskID, err)
	}

	tm.logEvent(models.EventTaskReworkCreated, map[string]any{
		"chain_id":     chainID,
		"task_id":      task.ID,
		"rework_of":    orig.ID,
		"rework_count": task.ReworkCount,
	})
	return task, nil
}

// GetTask searches the status directories in their fixed order and returns
// the task, or nil when no document for it exists.
func (tm *fileTaskManager) GetTask(chainID, taskID string) (*models.Task, error) {
	copies, err := tm.loadCopies(chainID, taskID)
	if err != nil {
		return nil, fmt.Errorf("getting task %s: %w", taskID, err)
	}
	if len(copies) == 0 {
		return nil, nil
	}
	return pickCanonical(copies).task, nil
}

// GetTasksForChain returns every task of the chain across all statuses,
// sorted by sequence.
func (tm *fileTaskManager) GetTasksForChain(chainID string) ([]*models.Task, error) {
	if !validPathSegment(chainID) {
		return nil, nil
	}

	byID := make(map[string][]taskCopy)
	var order []string
	for _, status := range models.AllStatuses() {
		dir := tm.chainDir(status, chainID)
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("listing tasks of %s in %s: %w", chainID, status, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), taskDocExt) {
				continue
			}
			c, err := tm.readCopy(filepath.Join(dir, entry.Name()), chainID, status)
			if err != nil {
				return nil, err
			}
			if c == nil {
				continue
			}
			if _, seen := byID[c.task.ID]; !seen {
				order = append(order, c.task.ID)
			}
			byID[c.task.ID] = append(byID[c.task.ID], *c)
		}
	}

	tasks := make([]*models.Task, 0, len(order))
	for _, id := range order {
		tasks = append(tasks, pickCanonical(byID[id]).task)
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Sequence < tasks[j].Sequence
	})
	return tasks, nil
}

// GetTasksByStatus returns the chain's tasks currently in status.
func (tm *fileTaskManager) GetTasksByStatus(chainID string, status models.TaskStatus) ([]*models.Task, error) {
	all, err := tm.GetTasksForChain(chainID)
	if err != nil {
		return nil, err
	}
	var out []*models.Task
	for _, t := range all {
		if t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

// TransitionTask moves a task along one edge of the state machine. A missing
// task or a disallowed edge is reported in the result, not as an error;
// errors are reserved for filesystem failures.
func (tm *fileTaskManager) TransitionTask(chainID, taskID string, to models.TaskStatus) (*TransitionResult, error) {
	copies, err := tm.loadCopies(chainID, taskID)
	if err != nil {
		return nil, fmt.Errorf("transitioning task %s: %w", taskID, err)
	}
	if len(copies) == 0 {
		return &TransitionResult{
			Outcome: TransitionNotFound,
			ChainID: chainID,
			TaskID:  taskID,
			To:      to,
		}, nil
	}

	// A previous move was interrupted after writing the target copy. Finish it.
	if len(copies) > 1 {
		if res, ok, err := tm.resumeMove(chainID, taskID, to, copies); ok || err != nil {
			return res, err
		}
	}

	cur := pickCanonical(copies)
	from := cur.status
	if !models.CanTransition(from, to) {
		return &TransitionResult{
			Outcome: TransitionInvalid,
			ChainID: chainID,
			TaskID:  taskID,
			Task:    cur.task,
			From:    from,
			To:      to,
			Allowed: models.AllowedTransitions(from),
		}, nil
	}

	task := cur.task
	task.Status = to
	task.UpdatedAt = time.Now().UTC()
	if err := tm.move(task, copies); err != nil {
		return nil, fmt.Errorf("transitioning task %s from %s to %s: %w", taskID, from, to, err)
	}

	tm.logEvent(models.EventTaskStatusChanged, map[string]any{
		"chain_id":   chainID,
		"task_id":    taskID,
		"old_status": string(from),
		"new_status": string(to),
	})
	return &TransitionResult{
		Outcome: TransitionOK,
		ChainID: chainID,
		TaskID:  taskID,
		Task:    task,
		From:    from,
		To:      to,
		Allowed: models.AllowedTransitions(from),
	}, nil
}

func (tm *fileTaskManager) StartTask(chainID, taskID string) (*TransitionResult, error) {
	return tm.TransitionTask(chainID, taskID, models.StatusInProgress)
}

func (tm *fileTaskManager) CompleteTask(chainID, taskID string) (*TransitionResult, error) {
	return tm.TransitionTask(chainID, taskID, models.StatusInReview)
}

func (tm *fileTaskManager) ApproveTask(chainID, taskID string) (*TransitionResult, error) {
	return tm.TransitionTask(chainID, taskID, models.StatusDone)
}

// ReworkTask sends a task in review back to in-progress.
func (tm *fileTaskManager) ReworkTask(chainID, taskID string) (*TransitionResult, error) {
	return tm.TransitionTask(chainID, taskID, models.StatusInProgress)
}

func (tm *fileTaskManager) BlockTask(chainID, taskID string) (*TransitionResult, error) {
	return tm.TransitionTask(chainID, taskID, models.StatusBlocked)
}

// GetNextTask returns the in-progress task if there is one, otherwise the
// lowest-sequence todo task, otherwise nil.
func (tm *fileTaskManager) GetNextTask(chainID string) (*models.Task, error) {
	tasks, err := tm.GetTasksForChain(chainID)
	if err != nil {
		return nil, fmt.Errorf("getting next task of %s: %w", chainID, err)
	}
	for _, t := range tasks {
		if t.Status == models.StatusInProgress {
			return t, nil
		}
	}
	for _, t := range tasks {
		if t.Status == models.StatusTodo {
			return t, nil
		}
	}
	return nil, nil
}

// UpdateTask merges the set fields of update into the task and rewrites it
// in place. It returns nil when the task does not exist.
func (tm *fileTaskManager) UpdateTask(chainID, taskID string, update TaskUpdate) (*models.Task, error) {
	copies, err := tm.loadCopies(chainID, taskID)
	if err != nil {
		return nil, fmt.Errorf("updating task %s: %w", taskID, err)
	}
	if len(copies) == 0 {
		return nil, nil
	}
	cur := pickCanonical(copies)
	task := cur.task

	if update.Title != nil {
		task.Title = *update.Title
	}
	if update.Description != nil {
		task.Description = *update.Description
	}
	if update.ExpectedFiles != nil {
		task.ExpectedFiles = update.ExpectedFiles
	}
	if update.FileScope != nil {
		task.FileScope = update.FileScope
	}
	if update.Acceptance != nil {
		task.Acceptance = update.Acceptance
	}
	if update.Constraints != nil {
		task.Constraints = update.Constraints
	}
	if update.Notes != nil {
		task.Notes = *update.Notes
	}
	task.UpdatedAt = time.Now().UTC()

	if err := writeVerified(tm.taskPath(chainID, cur.status, taskID), []byte(SerializeTask(task))); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", taskID, err)
	}

	tm.logEvent(models.EventTaskUpdated, map[string]any{
		"chain_id": chainID,
		"task_id":  taskID,
	})
	return task, nil
}

// DeleteTask removes the task document and prunes the emptied chain
// directory. It reports whether a task was found.
func (tm *fileTaskManager) DeleteTask(chainID, taskID string) (bool, error) {
	copies, err := tm.loadCopies(chainID, taskID)
	if err != nil {
		return false, fmt.Errorf("deleting task %s: %w", taskID, err)
	}
	if len(copies) == 0 {
		return false, nil
	}
	for _, c := range copies {
		if err := tm.removeCopy(chainID, taskID, c.status); err != nil {
			return false, fmt.Errorf("deleting task %s: %w", taskID, err)
		}
	}

	tm.logEvent(models.EventTaskDeleted, map[string]any{
		"chain_id": chainID,
		"task_id":  taskID,
	})
	return true, nil
}

// DeleteChainTasks removes the chain's directory under every status along
// with its sequence mark. It reports whether anything was removed.
func (tm *fileTaskManager) DeleteChainTasks(chainID string) (bool, error) {
	if !validPathSegment(chainID) {
		return false, nil
	}
	found := false
	for _, status := range models.AllStatuses() {
		dir := tm.chainDir(status, chainID)
		if _, err := os.Stat(dir); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return false, fmt.Errorf("deleting tasks of %s: %w", chainID, err)
		}
		found = true
		if err := os.RemoveAll(dir); err != nil {
			return false, fmt.Errorf("deleting tasks of %s in %s: %w", chainID, status, err)
		}
	}
	if err := tm.counter.remove(chainID); err != nil {
		return false, fmt.Errorf("deleting tasks of %s: %w", chainID, err)
	}
	return found, nil
}

// --- storage helpers ---

// taskCopy is one on-disk document of a task. More than one copy exists only
// when a move was interrupted.
type taskCopy struct {
	status   models.TaskStatus
	recorded models.TaskStatus
	task     *models.Task
}

// pickCanonical prefers the first copy whose recorded status matches the
// directory it sits in.
func pickCanonical(copies []taskCopy) taskCopy {
	for _, c := range copies {
		if c.recorded == c.status {
			return c
		}
	}
	return copies[0]
}

func (tm *fileTaskManager) loadCopies(chainID, taskID string) ([]taskCopy, error) {
	if !validPathSegment(chainID) || ParseTaskID(taskID) == nil || !validPathSegment(taskID) {
		return nil, nil
	}
	var copies []taskCopy
	for _, status := range models.AllStatuses() {
		c, err := tm.readCopy(tm.taskPath(chainID, status, taskID), chainID, status)
		if err != nil {
			return nil, err
		}
		if c != nil {
			copies = append(copies, *c)
		}
	}
	return copies, nil
}

// readCopy returns nil for a missing or unparsable document.
func (tm *fileTaskManager) readCopy(path, chainID string, status models.TaskStatus) (*taskCopy, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is built from the managed task root
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	text := string(data)
	task := ParseTask(text, chainID, status)
	if task == nil {
		return nil, nil
	}
	return &taskCopy{status: status, recorded: recordedStatus(text), task: task}, nil
}

// move writes task at its new status location, verifies it, then removes
// every other copy and prunes the directories they leave empty.
func (tm *fileTaskManager) move(task *models.Task, copies []taskCopy) error {
	data := []byte(SerializeTask(task))
	if err := writeVerified(tm.taskPath(task.ChainID, task.Status, task.ID), data); err != nil {
		return err
	}
	for _, c := range copies {
		if c.status == task.Status {
			continue
		}
		if err := tm.removeCopy(task.ChainID, task.ID, c.status); err != nil {
			return err
		}
	}
	return nil
}

// resumeMove completes an interrupted move to `to` when a copy already sits
// there and another copy sits in a status that may move to `to`.
func (tm *fileTaskManager) resumeMove(chainID, taskID string, to models.TaskStatus, copies []taskCopy) (*TransitionResult, bool, error) {
	var target *taskCopy
	var from models.TaskStatus
	for i := range copies {
		c := copies[i]
		if c.status == to && c.recorded == to {
			target = &copies[i]
		} else if models.CanTransition(c.status, to) {
			from = c.status
		}
	}
	if target == nil || from == "" {
		return nil, false, nil
	}
	for _, c := range copies {
		if c.status == to {
			continue
		}
		if err := tm.removeCopy(chainID, taskID, c.status); err != nil {
			return nil, true, fmt.Errorf("transitioning task %s: finishing interrupted move: %w", taskID, err)
		}
	}

	tm.logEvent(models.EventTaskStatusChanged, map[string]any{
		"chain_id":   chainID,
		"task_id":    taskID,
		"old_status": string(from),
		"new_status": string(to),
		"resumed":    true,
	})
	return &TransitionResult{
		Outcome: TransitionOK,
		ChainID: chainID,
		TaskID:  taskID,
		Task:    target.task,
		From:    from,
		To:      to,
		Allowed: models.AllowedTransitions(from),
	}, true, nil
}

func (tm *fileTaskManager) removeCopy(chainID, taskID string, status models.TaskStatus) error {
	if err := os.Remove(tm.taskPath(chainID, status, taskID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s from %s: %w", taskID, status, err)
	}
	return removeIfEmpty(tm.chainDir(status, chainID))
}

func (tm *fileTaskManager) chainDir(status models.TaskStatus, chainID string) string {
	return filepath.Join(tm.root, string(status), chainID)
}

func (tm *fileTaskManager) taskPath(chainID string, status models.TaskStatus, taskID string) string {
	return filepath.Join(tm.chainDir(status, chainID), taskID+taskDocExt)
}

func (tm *fileTaskManager) logEvent(eventType string, data map[string]any) {
	if tm.eventLog == nil {
		return
	}
	_ = tm.eventLog.LogEvent(eventType, data)
}

// recordedStatus returns the Status metadata value written in a document.
func recordedStatus(text string) models.TaskStatus {
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "## ") {
			break
		}
		if m := metadataLine.FindStringSubmatch(strings.TrimSpace(line)); m != nil &&
			strings.EqualFold(strings.TrimSpace(m[1]), fieldStatus) {
			return models.TaskStatus(strings.TrimSpace(m[2]))
		}
	}
	return ""
}

// validPathSegment rejects ids that would escape their directory.
func validPathSegment(s string) bool {
	return s != "" && s != "." && s != ".." &&
		!strings.ContainsAny(s, `/\`) && !strings.Contains(s, "..")
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
