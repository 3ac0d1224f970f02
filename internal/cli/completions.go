package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// completeChainIDs completes the first positional argument with chain ids.
func completeChainIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if ChainMgr == nil || len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	return chainIDCandidates(toComplete), cobra.ShellCompDirectiveNoFileComp
}

// completeChainAndTaskIDs completes a chain id and then a task id within it.
func completeChainAndTaskIDs(_ *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		if ChainMgr == nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		return chainIDCandidates(toComplete), cobra.ShellCompDirectiveNoFileComp
	case 1:
		return taskIDCandidates(args[0], toComplete), cobra.ShellCompDirectiveNoFileComp
	default:
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeTransitionArgs completes chain id, task id, then the statuses the
// task may move to.
func completeTransitionArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) < 2 {
		return completeChainAndTaskIDs(cmd, args, toComplete)
	}
	if len(args) > 2 || TaskMgr == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	task, err := TaskMgr.GetTask(args[0], args[1])
	if err != nil || task == nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	var out []string
	for _, s := range models.AllowedTransitions(task.Status) {
		if strings.HasPrefix(string(s), toComplete) {
			out = append(out, string(s))
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func chainIDCandidates(toComplete string) []string {
	chains, err := ChainMgr.GetAllChains()
	if err != nil {
		return nil
	}
	var ids []string
	for _, c := range chains {
		if toComplete == "" || strings.HasPrefix(c.ID, toComplete) {
			ids = append(ids, c.ID+"\t"+c.Title)
		}
	}
	return ids
}

func taskIDCandidates(chainID, toComplete string) []string {
	if TaskMgr == nil {
		return nil
	}
	tasks, err := TaskMgr.GetTasksForChain(chainID)
	if err != nil {
		return nil
	}
	var ids []string
	for _, t := range tasks {
		if toComplete == "" || strings.HasPrefix(t.ID, toComplete) {
			ids = append(ids, t.ID+"\t"+string(t.Status)+": "+t.Title)
		}
	}
	return ids
}

// completeTaskTypes returns valid task type values for shell completion.
func completeTaskTypes(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"impl\tImplementation work",
		"control\tReview or verification work",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeChainTypes returns valid chain type values for shell completion.
func completeChainTypes(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"design\tPlanning-stage chain",
		"implementation\tExecution-stage chain",
	}, cobra.ShellCompDirectiveNoFileComp
}

// completeStatuses returns a completion function for task status values.
func completeStatuses(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return []string{
		"backlog\tQueued for future work",
		"todo\tReady to be picked up",
		"in-progress\tActively being worked on",
		"in-review\tWaiting for review",
		"done\tCompleted",
		"blocked\tWaiting on something external",
	}, cobra.ShellCompDirectiveNoFileComp
}
