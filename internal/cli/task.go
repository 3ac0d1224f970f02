package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks (add, show, list, transition, next, update, delete)",
	Long: `Task lifecycle commands.

Tasks are addressed by chain id and task id. A task's status is the
directory its document lives in; transitions move the document.`,
}

var (
	taskTypeFlag        string
	taskTitleFlag       string
	taskDescriptionFlag string
	taskExpectedFlag    []string
	taskScopeFlag       []string
	taskAcceptanceFlag  []string
	taskConstraintsFlag []string
	taskNotesFlag       string
	taskStatusFlag      string
	taskReasonFlag      string
	taskJSONFlag        bool
)

var taskAddCmd = &cobra.Command{
	Use:   "add <chain-id> <slug>",
	Short: "Add a task to a chain's backlog",
	Long: `Add a task to an existing chain. The task id is NNN-slug where NNN is the
next sequence within the chain. New tasks start in backlog.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}
		chainID, slug := args[0], args[1]

		title := taskTitleFlag
		if title == "" {
			title = slug
		}

		var task *models.Task
		err := withChainLock(chainID, func() error {
			var err error
			task, err = ChainMgr.AddTask(chainID, slug, title, taskDescriptionFlag, core.CreateTaskOpts{
				Type:          models.TaskType(taskTypeFlag),
				ExpectedFiles: taskExpectedFlag,
				FileScope:     taskScopeFlag,
				Acceptance:    taskAcceptanceFlag,
				Constraints:   taskConstraintsFlag,
				Notes:         taskNotesFlag,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("adding task: %w", err)
		}

		fmt.Printf("Created task %s/%s\n", task.ChainID, task.ID)
		fmt.Printf("  Title:  %s\n", task.Title)
		fmt.Printf("  Type:   %s\n", task.EffectiveType())
		fmt.Printf("  Status: %s\n", task.Status)
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <chain-id> <task-id>",
	Short: "Show a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		task, err := TaskMgr.GetTask(args[0], args[1])
		if err != nil {
			return fmt.Errorf("getting task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s in chain %s: %w", args[1], args[0], core.ErrTaskNotFound)
		}

		if taskJSONFlag {
			return printJSON(task)
		}

		fmt.Printf("%s/%s: %s\n", task.ChainID, task.ID, task.Title)
		fmt.Printf("  Status: %s\n", task.Status)
		fmt.Printf("  Type:   %s\n", task.EffectiveType())
		if task.ReworkOf != "" {
			fmt.Printf("  Rework of: %s (#%d)\n", task.ReworkOf, task.ReworkCount)
			if task.ReworkReason != "" {
				fmt.Printf("  Reason:    %s\n", task.ReworkReason)
			}
		}
		if next := models.AllowedTransitions(task.Status); len(next) > 0 {
			fmt.Printf("  Next:   %s\n", joinStatuses(next))
		}
		if task.Description != "" {
			fmt.Printf("\n%s\n", task.Description)
		}
		printList("Expected files", task.ExpectedFiles)
		printList("File scope", task.FileScope)
		printList("Acceptance", task.Acceptance)
		printList("Constraints", task.Constraints)
		if task.Notes != "" {
			fmt.Printf("\nNotes:\n%s\n", task.Notes)
		}
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list <chain-id>",
	Short: "List a chain's tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		var tasks []*models.Task
		var err error
		if taskStatusFlag != "" {
			status := models.TaskStatus(taskStatusFlag)
			if !status.IsValid() {
				return fmt.Errorf("invalid status %q: must be one of %s", taskStatusFlag, joinStatuses(models.AllStatuses()))
			}
			tasks, err = TaskMgr.GetTasksByStatus(args[0], status)
		} else {
			tasks, err = TaskMgr.GetTasksForChain(args[0])
		}
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}

		if taskJSONFlag {
			return printJSON(tasks)
		}
		if len(tasks) == 0 {
			fmt.Println("No tasks found.")
			return nil
		}
		printTaskTable(tasks)
		return nil
	},
}

var taskTransitionCmd = &cobra.Command{
	Use:   "transition <chain-id> <task-id> <status>",
	Short: "Move a task to another status",
	Long: `Move a task to another status along the allowed transitions:

  backlog     -> todo, blocked
  todo        -> in-progress, blocked
  in-progress -> in-review, blocked, todo
  in-review   -> done, in-progress, blocked
  blocked     -> todo, backlog`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}
		to := models.TaskStatus(args[2])
		if !to.IsValid() {
			return fmt.Errorf("invalid status %q: must be one of %s", args[2], joinStatuses(models.AllStatuses()))
		}
		return runTransition(args[0], args[1], func() (*core.TransitionResult, error) {
			return TaskMgr.TransitionTask(args[0], args[1], to)
		})
	},
}

// transitionShortcut builds a command that applies one named transition.
func transitionShortcut(use, short string, apply func(chainID, taskID string) (*core.TransitionResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <chain-id> <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if TaskMgr == nil {
				return fmt.Errorf("task manager not initialized")
			}
			return runTransition(args[0], args[1], func() (*core.TransitionResult, error) {
				return apply(args[0], args[1])
			})
		},
	}
}

var (
	taskStartCmd = transitionShortcut("start", "Start a task (todo -> in-progress)",
		func(c, t string) (*core.TransitionResult, error) { return TaskMgr.StartTask(c, t) })
	taskCompleteCmd = transitionShortcut("complete", "Submit a task for review (in-progress -> in-review)",
		func(c, t string) (*core.TransitionResult, error) { return TaskMgr.CompleteTask(c, t) })
	taskApproveCmd = transitionShortcut("approve", "Approve a reviewed task (in-review -> done)",
		func(c, t string) (*core.TransitionResult, error) { return TaskMgr.ApproveTask(c, t) })
	taskReworkCmd = transitionShortcut("rework", "Send a reviewed task back (in-review -> in-progress)",
		func(c, t string) (*core.TransitionResult, error) { return TaskMgr.ReworkTask(c, t) })
	taskBlockCmd = transitionShortcut("block", "Block a task",
		func(c, t string) (*core.TransitionResult, error) { return TaskMgr.BlockTask(c, t) })
)

func runTransition(chainID, taskID string, apply func() (*core.TransitionResult, error)) error {
	var res *core.TransitionResult
	err := withChainLock(chainID, func() error {
		var err error
		res, err = apply()
		return err
	})
	if err != nil {
		return fmt.Errorf("transitioning task: %w", err)
	}
	if !res.OK() {
		return res.Err()
	}
	fmt.Printf("%s/%s: %s -> %s\n", chainID, taskID, res.From, res.To)
	return nil
}

var taskNextCmd = &cobra.Command{
	Use:   "next <chain-id>",
	Short: "Show the next task to work on",
	Long: `Show the next task to work on: the in-progress task if there is one,
otherwise the lowest-sequence todo task.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		task, err := TaskMgr.GetNextTask(args[0])
		if err != nil {
			return fmt.Errorf("finding next task: %w", err)
		}
		if taskJSONFlag {
			return printJSON(task)
		}
		if task == nil {
			fmt.Println("No actionable tasks.")
			return nil
		}
		fmt.Printf("%s/%s [%s] %s\n", task.ChainID, task.ID, task.Status, task.Title)
		return nil
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <chain-id> <task-id>",
	Short: "Update task content",
	Long: `Update task content. Only the flags given on the command line are changed.
The status is never changed by an update; use transition for that.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		var update core.TaskUpdate
		flags := cmd.Flags()
		if flags.Changed("title") {
			update.Title = &taskTitleFlag
		}
		if flags.Changed("description") {
			update.Description = &taskDescriptionFlag
		}
		if flags.Changed("notes") {
			update.Notes = &taskNotesFlag
		}
		if flags.Changed("expected") {
			update.ExpectedFiles = nonEmpty(taskExpectedFlag)
		}
		if flags.Changed("scope") {
			update.FileScope = nonEmpty(taskScopeFlag)
		}
		if flags.Changed("acceptance") {
			update.Acceptance = nonEmpty(taskAcceptanceFlag)
		}
		if flags.Changed("constraint") {
			update.Constraints = nonEmpty(taskConstraintsFlag)
		}

		var task *models.Task
		err := withChainLock(args[0], func() error {
			var err error
			task, err = TaskMgr.UpdateTask(args[0], args[1], update)
			return err
		})
		if err != nil {
			return fmt.Errorf("updating task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s in chain %s: %w", args[1], args[0], core.ErrTaskNotFound)
		}
		fmt.Printf("Updated task %s/%s\n", task.ChainID, task.ID)
		return nil
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete <chain-id> <task-id>",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		var found bool
		err := withChainLock(args[0], func() error {
			var err error
			found, err = TaskMgr.DeleteTask(args[0], args[1])
			return err
		})
		if err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		if !found {
			return fmt.Errorf("task %s in chain %s: %w", args[1], args[0], core.ErrTaskNotFound)
		}
		fmt.Printf("Deleted task %s/%s\n", args[0], args[1])
		return nil
	},
}

var taskReworkTaskCmd = &cobra.Command{
	Use:   "rework-task <chain-id> <task-id>",
	Short: "Create a follow-up rework task in the chain's backlog",
	Long: `Create a new backlog task that reworks an existing one. The new task copies
the original's content, records the reason, and counts how many rework
rounds the original has been through.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if TaskMgr == nil {
			return fmt.Errorf("task manager not initialized")
		}

		var task *models.Task
		err := withChainLock(args[0], func() error {
			var err error
			task, err = TaskMgr.CreateReworkTask(args[0], args[1], taskReasonFlag)
			return err
		})
		if err != nil {
			return fmt.Errorf("creating rework task: %w", err)
		}
		if task == nil {
			return fmt.Errorf("task %s in chain %s: %w", args[1], args[0], core.ErrTaskNotFound)
		}
		fmt.Printf("Created rework task %s/%s (rework #%d of %s)\n", task.ChainID, task.ID, task.ReworkCount, task.ReworkOf)
		return nil
	},
}

func printTaskTable(tasks []*models.Task) {
	fmt.Printf("%-28s %-12s %-8s %s\n", "ID", "STATUS", "TYPE", "TITLE")
	for _, t := range tasks {
		fmt.Printf("%-28s %-12s %-8s %s\n", t.ID, t.Status, t.EffectiveType(), t.Title)
	}
}

func printList(heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", heading)
	for _, item := range items {
		fmt.Printf("  - %s\n", item)
	}
}

func joinStatuses(statuses []models.TaskStatus) string {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

func init() {
	taskAddCmd.Flags().StringVar(&taskTypeFlag, "type", "impl", "Task type: impl or control")
	_ = taskAddCmd.RegisterFlagCompletionFunc("type", completeTaskTypes)

	for _, c := range []*cobra.Command{taskAddCmd, taskUpdateCmd} {
		c.Flags().StringVar(&taskTitleFlag, "title", "", "Task title")
		c.Flags().StringVar(&taskDescriptionFlag, "description", "", "Task description")
		c.Flags().StringSliceVar(&taskExpectedFlag, "expected", nil, "Files the task is expected to produce")
		c.Flags().StringSliceVar(&taskScopeFlag, "scope", nil, "Glob patterns of files the task may touch")
		c.Flags().StringArrayVar(&taskAcceptanceFlag, "acceptance", nil, "Acceptance criterion (repeatable)")
		c.Flags().StringArrayVar(&taskConstraintsFlag, "constraint", nil, "Constraint (repeatable)")
		c.Flags().StringVar(&taskNotesFlag, "notes", "", "Free-form notes")
	}

	taskListCmd.Flags().StringVar(&taskStatusFlag, "status", "", "Only list tasks with this status")
	_ = taskListCmd.RegisterFlagCompletionFunc("status", completeStatuses)

	for _, c := range []*cobra.Command{taskShowCmd, taskListCmd, taskNextCmd} {
		c.Flags().BoolVar(&taskJSONFlag, "json", false, "Output as JSON")
	}

	taskReworkTaskCmd.Flags().StringVar(&taskReasonFlag, "reason", "", "Why the task needs rework")

	taskTransitionCmd.ValidArgsFunction = completeTransitionArgs
	for _, c := range []*cobra.Command{
		taskShowCmd, taskStartCmd, taskCompleteCmd, taskApproveCmd, taskReworkCmd,
		taskBlockCmd, taskUpdateCmd, taskDeleteCmd, taskReworkTaskCmd,
	} {
		c.ValidArgsFunction = completeChainAndTaskIDs
	}
	for _, c := range []*cobra.Command{taskAddCmd, taskListCmd, taskNextCmd} {
		c.ValidArgsFunction = completeChainIDs
	}

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskShowCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskTransitionCmd)
	taskCmd.AddCommand(taskStartCmd)
	taskCmd.AddCommand(taskCompleteCmd)
	taskCmd.AddCommand(taskApproveCmd)
	taskCmd.AddCommand(taskReworkCmd)
	taskCmd.AddCommand(taskBlockCmd)
	taskCmd.AddCommand(taskNextCmd)
	taskCmd.AddCommand(taskUpdateCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCmd.AddCommand(taskReworkTaskCmd)

	rootCmd.AddCommand(taskCmd)
}
