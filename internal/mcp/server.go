// Package mcp provides an MCP (Model Context Protocol) server that exposes
// taskchain chains and tasks as MCP tools for AI coding assistants.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/internal/observability"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// Server wraps the chain manager and exposes it as MCP tools.
type Server struct {
	server      *gomcp.Server
	chainMgr    core.ChainManager
	taskMgr     core.TaskManager
	metricsCalc observability.MetricsCalculator
	alertEngine observability.AlertEngine
}

// NewServer creates a new MCP server backed by chainMgr.
// metricsCalc and alertEngine may be nil if observability is disabled.
func NewServer(chainMgr core.ChainManager, metricsCalc observability.MetricsCalculator, alertEngine observability.AlertEngine, version string) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		chainMgr:    chainMgr,
		taskMgr:     chainMgr.GetTaskManager(),
		metricsCalc: metricsCalc,
		alertEngine: alertEngine,
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "taskchain", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run starts the MCP server on stdio, blocking until the client
// disconnects or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type chainRefInput struct {
	ChainID string `json:"chain_id" jsonschema:"the chain identifier (e.g. CHAIN-001-auth)"`
}

type taskRefInput struct {
	ChainID string `json:"chain_id" jsonschema:"the chain identifier (e.g. CHAIN-001-auth)"`
	TaskID  string `json:"task_id" jsonschema:"the task identifier within the chain (e.g. 002-login-endpoint)"`
}

type taskOutput struct {
	ChainID       string   `json:"chain_id"`
	ID            string   `json:"id"`
	Sequence      int      `json:"sequence"`
	Slug          string   `json:"slug"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	Type          string   `json:"type"`
	Description   string   `json:"description,omitempty"`
	ExpectedFiles []string `json:"expected_files"`
	FileScope     []string `json:"file_scope,omitempty"`
	Acceptance    []string `json:"acceptance"`
	Constraints   []string `json:"constraints"`
	Notes         string   `json:"notes,omitempty"`
	ReworkOf      string   `json:"rework_of,omitempty"`
	ReworkCount   int      `json:"rework_count,omitempty"`
	Created       string   `json:"created"`
	Updated       string   `json:"updated"`
}

type chainOutput struct {
	ID                      string       `json:"id"`
	Sequence                int          `json:"sequence"`
	Slug                    string       `json:"slug"`
	RequestID               string       `json:"request_id,omitempty"`
	Title                   string       `json:"title"`
	Description             string       `json:"description,omitempty"`
	Type                    string       `json:"type,omitempty"`
	DependsOn               string       `json:"depends_on,omitempty"`
	SkipDesign              bool         `json:"skip_design,omitempty"`
	SkipDesignJustification string       `json:"skip_design_justification,omitempty"`
	FileScope               []string     `json:"file_scope,omitempty"`
	Status                  string       `json:"status"`
	Tasks                   []taskOutput `json:"tasks"`
	Created                 string       `json:"created"`
	Updated                 string       `json:"updated"`
}

type listChainsInput struct{}

type chainSummaryOutput struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Type     string  `json:"type,omitempty"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
}

type listChainsOutput struct {
	Chains []chainSummaryOutput `json:"chains"`
	Count  int                  `json:"count"`
}

type createChainInput struct {
	RequestID               string   `json:"request_id,omitempty" jsonschema:"identifier of the request this chain belongs to"`
	Slug                    string   `json:"slug" jsonschema:"identifier-safe short name used in the chain id"`
	Title                   string   `json:"title" jsonschema:"human-readable chain title"`
	Description             string   `json:"description,omitempty"`
	Type                    string   `json:"type,omitempty" jsonschema:"design or implementation"`
	DependsOn               string   `json:"depends_on,omitempty" jsonschema:"id of the design chain this chain depends on"`
	SkipDesign              bool     `json:"skip_design,omitempty"`
	SkipDesignJustification string   `json:"skip_design_justification,omitempty"`
	FileScope               []string `json:"file_scope,omitempty" jsonschema:"glob patterns of the files this chain may touch"`
}

type addTaskInput struct {
	ChainID       string   `json:"chain_id" jsonschema:"the chain to add the task to"`
	Slug          string   `json:"slug" jsonschema:"identifier-safe short name used in the task id"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty" jsonschema:"the task objective"`
	Type          string   `json:"type,omitempty" jsonschema:"impl (default) or control"`
	ExpectedFiles []string `json:"expected_files,omitempty"`
	FileScope     []string `json:"file_scope,omitempty"`
	Acceptance    []string `json:"acceptance,omitempty"`
	Constraints   []string `json:"constraints,omitempty"`
	Notes         string   `json:"notes,omitempty"`
}

type listTasksInput struct {
	ChainID string `json:"chain_id" jsonschema:"the chain whose tasks to list"`
	Status  string `json:"status,omitempty" jsonschema:"filter tasks by status (backlog, todo, in-progress, in-review, done, blocked)"`
}

type listTasksOutput struct {
	Tasks []taskOutput `json:"tasks"`
	Count int          `json:"count"`
}

type nextTaskOutput struct {
	Found bool        `json:"found"`
	Task  *taskOutput `json:"task,omitempty"`
}

type transitionTaskInput struct {
	ChainID string `json:"chain_id"`
	TaskID  string `json:"task_id"`
	Status  string `json:"status" jsonschema:"the target status (backlog, todo, in-progress, in-review, done, blocked)"`
}

type transitionTaskOutput struct {
	Message string     `json:"message"`
	From    string     `json:"from"`
	To      string     `json:"to"`
	Task    taskOutput `json:"task"`
}

type updateTaskInput struct {
	ChainID       string   `json:"chain_id"`
	TaskID        string   `json:"task_id"`
	Title         *string  `json:"title,omitempty"`
	Description   *string  `json:"description,omitempty"`
	Notes         *string  `json:"notes,omitempty"`
	ExpectedFiles []string `json:"expected_files,omitempty"`
	FileScope     []string `json:"file_scope,omitempty"`
	Acceptance    []string `json:"acceptance,omitempty"`
	Constraints   []string `json:"constraints,omitempty"`
}

type conflictOutput struct {
	ChainID  string   `json:"chain_id"`
	Title    string   `json:"title"`
	Patterns []string `json:"patterns"`
}

type findConflictsOutput struct {
	Conflicts []conflictOutput `json:"conflicts"`
	Count     int              `json:"count"`
}

type checkDesignLinksOutput struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

type getMetricsInput struct {
	Since string `json:"since,omitempty" jsonschema:"time window for metrics (e.g. 7d, 30d, 24h). Defaults to 7d."`
}

type metricsOutput struct {
	TasksCreated  int            `json:"tasks_created"`
	TasksApproved int            `json:"tasks_approved"`
	TasksReworked int            `json:"tasks_reworked"`
	TasksByStatus map[string]int `json:"tasks_by_status"`
	TasksByType   map[string]int `json:"tasks_by_type"`
	ChainsCreated int            `json:"chains_created"`
	ChainsDeleted int            `json:"chains_deleted"`
	EventCount    int            `json:"event_count"`
	OldestEvent   string         `json:"oldest_event,omitempty"`
	NewestEvent   string         `json:"newest_event,omitempty"`
}

type getAlertsInput struct{}

type alertOutput struct {
	ID          string `json:"id"`
	Condition   string `json:"condition"`
	Severity    string `json:"severity"`
	ChainID     string `json:"chain_id,omitempty"`
	TaskID      string `json:"task_id,omitempty"`
	Message     string `json:"message"`
	TriggeredAt string `json:"triggered_at"`
}

type getAlertsOutput struct {
	Alerts []alertOutput `json:"alerts"`
	Count  int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_chains",
		Description: "List every chain with its derived status and progress, ordered by sequence.",
	}, s.handleListChains)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_chain",
		Description: "Get a chain's metadata and all of its tasks.",
	}, s.handleGetChain)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_chain",
		Description: "Create a chain. The chain id is allocated from the next chain sequence and the slug.",
	}, s.handleCreateChain)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "add_task",
		Description: "Add a task to a chain. New tasks start in backlog.",
	}, s.handleAddTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_task",
		Description: "Get a task by chain id and task id.",
	}, s.handleGetTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_tasks",
		Description: "List a chain's tasks with an optional status filter.",
	}, s.handleListTasks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_next_task",
		Description: "Get the task to work on next: the in-progress task, else the lowest-sequence todo task.",
	}, s.handleGetNextTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name: "transition_task",
		Description: "Move a task to another status. Allowed: backlog->todo|blocked, todo->in-progress|blocked, " +
			"in-progress->in-review|blocked|todo, in-review->done|in-progress|blocked, blocked->todo|backlog.",
	}, s.handleTransitionTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_task",
		Description: "Update a task's content fields. The status is never changed by an update.",
	}, s.handleUpdateTask)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_conflicts",
		Description: "Find other chains whose file scope overlaps the given chain's.",
	}, s.handleFindConflicts)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "check_design_links",
		Description: "Check that an implementation chain depends on a design chain or skips design with a justification.",
	}, s.handleCheckDesignLinks)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_metrics",
		Description: "Get aggregated metrics from the event log, including task counts, status transitions, and approvals.",
	}, s.handleGetMetrics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_alerts",
		Description: "Evaluate and return active alerts (blocked tasks, stale tasks, long reviews, backlog size).",
	}, s.handleGetAlerts)
}

// --- Tool handlers ---

func (s *Server) handleListChains(_ context.Context, _ *gomcp.CallToolRequest, _ listChainsInput) (*gomcp.CallToolResult, listChainsOutput, error) {
	chains, err := s.chainMgr.GetAllChains()
	if err != nil {
		return errorResult(fmt.Sprintf("listing chains: %s", err)), listChainsOutput{Chains: []chainSummaryOutput{}}, nil
	}

	out := listChainsOutput{
		Chains: make([]chainSummaryOutput, len(chains)),
		Count:  len(chains),
	}
	for i, c := range chains {
		done := 0
		for _, t := range c.Tasks {
			if t.Status == models.StatusDone {
				done++
			}
		}
		progress := 0.0
		if len(c.Tasks) > 0 {
			progress = float64(done) / float64(len(c.Tasks))
		}
		out.Chains[i] = chainSummaryOutput{
			ID:       c.ID,
			Title:    c.Title,
			Type:     string(c.Type),
			Status:   string(s.chainMgr.GetChainStatus(c)),
			Progress: progress,
			Done:     done,
			Total:    len(c.Tasks),
		}
	}

	return nil, out, nil
}

func (s *Server) handleGetChain(_ context.Context, _ *gomcp.CallToolRequest, input chainRefInput) (*gomcp.CallToolResult, chainOutput, error) {
	if input.ChainID == "" {
		return errorResult("chain_id is required"), chainOutput{}, nil
	}

	chain, err := s.chainMgr.GetChain(input.ChainID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting chain %s: %s", input.ChainID, err)), chainOutput{}, nil
	}
	if chain == nil {
		return errorResult(fmt.Sprintf("chain %s not found", input.ChainID)), chainOutput{}, nil
	}

	return nil, s.chainToOutput(chain), nil
}

func (s *Server) handleCreateChain(_ context.Context, _ *gomcp.CallToolRequest, input createChainInput) (*gomcp.CallToolResult, chainOutput, error) {
	if input.Slug == "" || input.Title == "" {
		return errorResult("slug and title are required"), chainOutput{}, nil
	}
	chainType := models.ChainType(input.Type)
	if !chainType.IsValid() {
		return errorResult(fmt.Sprintf("invalid chain type %q: must be design or implementation", input.Type)), chainOutput{}, nil
	}

	var chain *models.Chain
	err := s.withLock("", func() error {
		var err error
		chain, err = s.chainMgr.CreateChain(input.RequestID, input.Slug, input.Title, core.CreateChainOpts{
			Description:             input.Description,
			Type:                    chainType,
			DependsOn:               input.DependsOn,
			SkipDesign:              input.SkipDesign,
			SkipDesignJustification: input.SkipDesignJustification,
			FileScope:               input.FileScope,
		})
		return err
	})
	if err != nil {
		return errorResult(fmt.Sprintf("creating chain: %s", err)), chainOutput{}, nil
	}

	return nil, s.chainToOutput(chain), nil
}

func (s *Server) handleAddTask(_ context.Context, _ *gomcp.CallToolRequest, input addTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.ChainID == "" || input.Slug == "" || input.Title == "" {
		return errorResult("chain_id, slug and title are required"), taskOutput{}, nil
	}
	taskType := models.TaskType(input.Type)
	if taskType != "" && !taskType.IsValid() {
		return errorResult(fmt.Sprintf("invalid task type %q: must be impl or control", input.Type)), taskOutput{}, nil
	}

	var task *models.Task
	err := s.withLock(input.ChainID, func() error {
		var err error
		task, err = s.chainMgr.AddTask(input.ChainID, input.Slug, input.Title, input.Description, core.CreateTaskOpts{
			Type:          taskType,
			ExpectedFiles: input.ExpectedFiles,
			FileScope:     input.FileScope,
			Acceptance:    input.Acceptance,
			Constraints:   input.Constraints,
			Notes:         input.Notes,
		})
		return err
	})
	if err != nil {
		return errorResult(fmt.Sprintf("adding task to %s: %s", input.ChainID, err)), taskOutput{}, nil
	}

	return nil, taskToOutput(task), nil
}

func (s *Server) handleGetTask(_ context.Context, _ *gomcp.CallToolRequest, input taskRefInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.ChainID == "" || input.TaskID == "" {
		return errorResult("chain_id and task_id are required"), taskOutput{}, nil
	}

	task, err := s.taskMgr.GetTask(input.ChainID, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	if task == nil {
		return errorResult(fmt.Sprintf("task %s not found in chain %s", input.TaskID, input.ChainID)), taskOutput{}, nil
	}

	return nil, taskToOutput(task), nil
}

func (s *Server) handleListTasks(_ context.Context, _ *gomcp.CallToolRequest, input listTasksInput) (*gomcp.CallToolResult, listTasksOutput, error) {
	if input.ChainID == "" {
		return errorResult("chain_id is required"), listTasksOutput{Tasks: []taskOutput{}}, nil
	}

	var tasks []*models.Task
	var err error

	if input.Status != "" {
		status := models.TaskStatus(input.Status)
		if !status.IsValid() {
			return errorResult(fmt.Sprintf("invalid status %q", input.Status)), listTasksOutput{Tasks: []taskOutput{}}, nil
		}
		tasks, err = s.taskMgr.GetTasksByStatus(input.ChainID, status)
	} else {
		tasks, err = s.taskMgr.GetTasksForChain(input.ChainID)
	}

	if err != nil {
		return errorResult(fmt.Sprintf("listing tasks: %s", err)), listTasksOutput{Tasks: []taskOutput{}}, nil
	}

	out := listTasksOutput{
		Tasks: make([]taskOutput, len(tasks)),
		Count: len(tasks),
	}
	for i, t := range tasks {
		out.Tasks[i] = taskToOutput(t)
	}

	return nil, out, nil
}

func (s *Server) handleGetNextTask(_ context.Context, _ *gomcp.CallToolRequest, input chainRefInput) (*gomcp.CallToolResult, nextTaskOutput, error) {
	if input.ChainID == "" {
		return errorResult("chain_id is required"), nextTaskOutput{}, nil
	}

	task, err := s.taskMgr.GetNextTask(input.ChainID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting next task: %s", err)), nextTaskOutput{}, nil
	}
	if task == nil {
		return nil, nextTaskOutput{Found: false}, nil
	}

	out := taskToOutput(task)
	return nil, nextTaskOutput{Found: true, Task: &out}, nil
}

func (s *Server) handleTransitionTask(_ context.Context, _ *gomcp.CallToolRequest, input transitionTaskInput) (*gomcp.CallToolResult, transitionTaskOutput, error) {
	if input.ChainID == "" || input.TaskID == "" || input.Status == "" {
		return errorResult("chain_id, task_id and status are required"), transitionTaskOutput{}, nil
	}
	to := models.TaskStatus(input.Status)
	if !to.IsValid() {
		return errorResult(fmt.Sprintf("invalid status %q: must be one of backlog, todo, in-progress, in-review, done, blocked", input.Status)), transitionTaskOutput{}, nil
	}

	var res *core.TransitionResult
	err := s.withLock(input.ChainID, func() error {
		var err error
		res, err = s.taskMgr.TransitionTask(input.ChainID, input.TaskID, to)
		return err
	})
	if err != nil {
		return errorResult(fmt.Sprintf("transitioning task %s: %s", input.TaskID, err)), transitionTaskOutput{}, nil
	}
	if !res.OK() {
		return errorResult(res.Err().Error()), transitionTaskOutput{}, nil
	}

	out := transitionTaskOutput{
		Message: fmt.Sprintf("task %s moved from %s to %s", input.TaskID, res.From, res.To),
		From:    string(res.From),
		To:      string(res.To),
		Task:    taskToOutput(res.Task),
	}
	return nil, out, nil
}

func (s *Server) handleUpdateTask(_ context.Context, _ *gomcp.CallToolRequest, input updateTaskInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.ChainID == "" || input.TaskID == "" {
		return errorResult("chain_id and task_id are required"), taskOutput{}, nil
	}

	var task *models.Task
	err := s.withLock(input.ChainID, func() error {
		var err error
		task, err = s.taskMgr.UpdateTask(input.ChainID, input.TaskID, core.TaskUpdate{
			Title:         input.Title,
			Description:   input.Description,
			Notes:         input.Notes,
			ExpectedFiles: input.ExpectedFiles,
			FileScope:     input.FileScope,
			Acceptance:    input.Acceptance,
			Constraints:   input.Constraints,
		})
		return err
	})
	if err != nil {
		return errorResult(fmt.Sprintf("updating task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	if task == nil {
		return errorResult(fmt.Sprintf("task %s not found in chain %s", input.TaskID, input.ChainID)), taskOutput{}, nil
	}

	return nil, taskToOutput(task), nil
}

func (s *Server) handleFindConflicts(_ context.Context, _ *gomcp.CallToolRequest, input chainRefInput) (*gomcp.CallToolResult, findConflictsOutput, error) {
	if input.ChainID == "" {
		return errorResult("chain_id is required"), findConflictsOutput{Conflicts: []conflictOutput{}}, nil
	}

	conflicts, err := s.chainMgr.FindConflictingChains(input.ChainID)
	if err != nil {
		return errorResult(fmt.Sprintf("finding conflicts: %s", err)), findConflictsOutput{Conflicts: []conflictOutput{}}, nil
	}

	out := findConflictsOutput{
		Conflicts: make([]conflictOutput, len(conflicts)),
		Count:     len(conflicts),
	}
	for i, c := range conflicts {
		out.Conflicts[i] = conflictOutput{
			ChainID:  c.Chain.ID,
			Title:    c.Chain.Title,
			Patterns: c.Patterns,
		}
	}
	return nil, out, nil
}

func (s *Server) handleCheckDesignLinks(_ context.Context, _ *gomcp.CallToolRequest, input chainRefInput) (*gomcp.CallToolResult, checkDesignLinksOutput, error) {
	if input.ChainID == "" {
		return errorResult("chain_id is required"), checkDesignLinksOutput{}, nil
	}

	if err := s.chainMgr.CheckDesignLinks(input.ChainID); err != nil {
		if errors.Is(err, core.ErrChainNotFound) {
			return errorResult(err.Error()), checkDesignLinksOutput{}, nil
		}
		return nil, checkDesignLinksOutput{Valid: false, Message: err.Error()}, nil
	}
	return nil, checkDesignLinksOutput{Valid: true}, nil
}

func (s *Server) handleGetMetrics(_ context.Context, _ *gomcp.CallToolRequest, input getMetricsInput) (*gomcp.CallToolResult, metricsOutput, error) {
	if s.metricsCalc == nil {
		return errorResult("metrics calculator not available (observability may be disabled)"), emptyMetricsOutput(), nil
	}

	sinceStr := input.Since
	if sinceStr == "" {
		sinceStr = "7d"
	}

	sinceTime, err := ParseSince(sinceStr)
	if err != nil {
		return errorResult(fmt.Sprintf("parsing since duration: %s", err)), emptyMetricsOutput(), nil
	}

	metrics, err := s.metricsCalc.Calculate(sinceTime)
	if err != nil {
		return errorResult(fmt.Sprintf("calculating metrics: %s", err)), emptyMetricsOutput(), nil
	}

	out := metricsOutput{
		TasksCreated:  metrics.TasksCreated,
		TasksApproved: metrics.TasksApproved,
		TasksReworked: metrics.TasksReworked,
		TasksByStatus: metrics.TasksByStatus,
		TasksByType:   metrics.TasksByType,
		ChainsCreated: metrics.ChainsCreated,
		ChainsDeleted: metrics.ChainsDeleted,
		EventCount:    metrics.EventCount,
	}
	if metrics.OldestEvent != nil {
		out.OldestEvent = metrics.OldestEvent.Format(time.RFC3339)
	}
	if metrics.NewestEvent != nil {
		out.NewestEvent = metrics.NewestEvent.Format(time.RFC3339)
	}

	return nil, out, nil
}

func (s *Server) handleGetAlerts(_ context.Context, _ *gomcp.CallToolRequest, _ getAlertsInput) (*gomcp.CallToolResult, getAlertsOutput, error) {
	if s.alertEngine == nil {
		return errorResult("alert engine not available (observability may be disabled)"), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	alerts, err := s.alertEngine.Evaluate()
	if err != nil {
		return errorResult(fmt.Sprintf("evaluating alerts: %s", err)), getAlertsOutput{Alerts: []alertOutput{}}, nil
	}

	out := getAlertsOutput{
		Alerts: make([]alertOutput, len(alerts)),
		Count:  len(alerts),
	}
	for i, a := range alerts {
		out.Alerts[i] = alertOutput{
			ID:          a.ID,
			Condition:   a.Condition,
			Severity:    string(a.Severity),
			ChainID:     a.ChainID,
			TaskID:      a.TaskID,
			Message:     a.Message,
			TriggeredAt: a.TriggeredAt.Format(time.RFC3339),
		}
	}

	return nil, out, nil
}

// --- Helpers ---

// withLock runs fn under the advisory lock of chainID, so tool calls and CLI
// invocations touching the same chain do not interleave.
func (s *Server) withLock(chainID string, fn func() error) error {
	unlock, err := core.LockChain(s.taskMgr.Root(), chainID)
	if err != nil {
		return err
	}
	defer func() { _ = unlock() }()
	return fn()
}

func (s *Server) chainToOutput(c *models.Chain) chainOutput {
	out := chainOutput{
		ID:                      c.ID,
		Sequence:                c.Sequence,
		Slug:                    c.Slug,
		RequestID:               c.RequestID,
		Title:                   c.Title,
		Description:             c.Description,
		Type:                    string(c.Type),
		DependsOn:               c.DependsOn,
		SkipDesign:              c.SkipDesign,
		SkipDesignJustification: c.SkipDesignJustification,
		FileScope:               c.FileScope,
		Status:                  string(s.chainMgr.GetChainStatus(c)),
		Tasks:                   make([]taskOutput, len(c.Tasks)),
		Created:                 c.CreatedAt.Format(time.RFC3339),
		Updated:                 c.UpdatedAt.Format(time.RFC3339),
	}
	for i, t := range c.Tasks {
		out.Tasks[i] = taskToOutput(t)
	}
	return out
}

func taskToOutput(t *models.Task) taskOutput {
	return taskOutput{
		ChainID:       t.ChainID,
		ID:            t.ID,
		Sequence:      t.Sequence,
		Slug:          t.Slug,
		Title:         t.Title,
		Status:        string(t.Status),
		Type:          string(t.EffectiveType()),
		Description:   t.Description,
		ExpectedFiles: nonNil(t.ExpectedFiles),
		FileScope:     t.FileScope,
		Acceptance:    nonNil(t.Acceptance),
		Constraints:   nonNil(t.Constraints),
		Notes:         t.Notes,
		ReworkOf:      t.ReworkOf,
		ReworkCount:   t.ReworkCount,
		Created:       t.CreatedAt.Format(time.RFC3339),
		Updated:       t.UpdatedAt.Format(time.RFC3339),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func emptyMetricsOutput() metricsOutput {
	return metricsOutput{
		TasksByStatus: make(map[string]int),
		TasksByType:   make(map[string]int),
	}
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}

// ParseSince parses a human-friendly duration string like "7d", "30d", or "24h"
// into the corresponding time in the past.
func ParseSince(s string) (time.Time, error) {
	now := time.Now().UTC()

	if len(s) < 2 {
		return time.Time{}, fmt.Errorf("invalid duration %q", s)
	}

	suffix := s[len(s)-1]
	numStr := s[:len(s)-1]
	var num int
	if _, err := fmt.Sscanf(numStr, "%d", &num); err != nil {
		return time.Time{}, fmt.Errorf("invalid duration %q: %w", s, err)
	}

	switch suffix {
	case 'd':
		return now.AddDate(0, 0, -num), nil
	case 'h':
		return now.Add(-time.Duration(num) * time.Hour), nil
	default:
		return time.Time{}, fmt.Errorf("unsupported duration suffix %q (use d or h)", string(suffix))
	}
}
