package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/valter-silva-au/taskchain/internal/core"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Manage chains (create, list, show, update, delete, status, conflicts, check)",
	Long: `Chain management commands.

A chain is an ordered group of tasks serving one request. Chain ids are
CHAIN-NNN-slug where NNN is a project-wide sequence.`,
}

var (
	chainTitleFlag         string
	chainRequestFlag       string
	chainDescriptionFlag   string
	chainTypeFlag          string
	chainDependsOnFlag     string
	chainSkipDesignFlag    bool
	chainJustificationFlag string
	chainScopeFlag         []string
	chainJSONFlag          bool
)

var chainCreateCmd = &cobra.Command{
	Use:   "create <slug>",
	Short: "Create a new chain",
	Long: `Create a new chain with the given slug. The chain id is allocated from
the next project-wide chain sequence.

When --title is omitted and the terminal is interactive, a form asks for the
title, description and chain type.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		values := chainPromptValues{
			Title:       chainTitleFlag,
			Description: chainDescriptionFlag,
			Type:        chainTypeFlag,
		}
		if values.Title == "" {
			if !isInteractive() {
				return fmt.Errorf("--title is required when not running interactively")
			}
			if err := promptForChain(&values); err != nil {
				return err
			}
		}

		chainType := models.ChainType(values.Type)
		if !chainType.IsValid() {
			return fmt.Errorf("invalid chain type %q: must be design or implementation", values.Type)
		}

		var chain *models.Chain
		err := withChainLock("", func() error {
			var err error
			chain, err = ChainMgr.CreateChain(chainRequestFlag, args[0], values.Title, core.CreateChainOpts{
				Description:             values.Description,
				Type:                    chainType,
				DependsOn:               chainDependsOnFlag,
				SkipDesign:              chainSkipDesignFlag,
				SkipDesignJustification: chainJustificationFlag,
				FileScope:               chainScopeFlag,
			})
			return err
		})
		if err != nil {
			return fmt.Errorf("creating chain: %w", err)
		}

		fmt.Printf("Created chain %s\n", chain.ID)
		fmt.Printf("  Title: %s\n", chain.Title)
		if chain.Type != "" {
			fmt.Printf("  Type:  %s\n", chain.Type)
		}
		if len(chain.FileScope) > 0 {
			fmt.Printf("  Scope: %s\n", strings.Join(chain.FileScope, ", "))
		}
		if err := core.ValidateDesignLink(chain); err != nil {
			fmt.Printf("  Warning: %s\n", err)
		}
		return nil
	},
}

var chainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all chains with their status and progress",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		chains, err := ChainMgr.GetAllChains()
		if err != nil {
			return fmt.Errorf("listing chains: %w", err)
		}

		if chainJSONFlag {
			return printJSON(chains)
		}

		if len(chains) == 0 {
			fmt.Println("No chains found.")
			return nil
		}

		fmt.Printf("%-32s %-12s %-15s %-7s %s\n", "ID", "STATUS", "TYPE", "DONE", "TITLE")
		for _, c := range chains {
			done := 0
			for _, t := range c.Tasks {
				if t.Status == models.StatusDone {
					done++
				}
			}
			fmt.Printf("%-32s %-12s %-15s %-7s %s\n",
				c.ID, ChainMgr.GetChainStatus(c), orDash(string(c.Type)),
				fmt.Sprintf("%d/%d", done, len(c.Tasks)), c.Title)
		}
		return nil
	},
}

var chainShowCmd = &cobra.Command{
	Use:   "show <chain-id>",
	Short: "Show a chain and its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		chain, err := ChainMgr.GetChain(args[0])
		if err != nil {
			return fmt.Errorf("getting chain: %w", err)
		}
		if chain == nil {
			return fmt.Errorf("chain %s: %w", args[0], core.ErrChainNotFound)
		}

		if chainJSONFlag {
			return printJSON(chain)
		}

		fmt.Printf("%s: %s\n", chain.ID, chain.Title)
		fmt.Printf("  Status:  %s\n", ChainMgr.GetChainStatus(chain))
		if chain.RequestID != "" {
			fmt.Printf("  Request: %s\n", chain.RequestID)
		}
		if chain.Type != "" {
			fmt.Printf("  Type:    %s\n", chain.Type)
		}
		if chain.DependsOn != "" {
			fmt.Printf("  Depends: %s\n", chain.DependsOn)
		}
		if chain.SkipDesign {
			fmt.Printf("  Skips design: %s\n", chain.SkipDesignJustification)
		}
		if scope := chain.EffectiveFileScope(); len(scope) > 0 {
			fmt.Printf("  Scope:   %s\n", strings.Join(scope, ", "))
		}
		if chain.Description != "" {
			fmt.Printf("\n%s\n", chain.Description)
		}

		fmt.Println()
		if len(chain.Tasks) == 0 {
			fmt.Println("  No tasks.")
			return nil
		}
		printTaskTable(chain.Tasks)
		return nil
	},
}

var chainUpdateCmd = &cobra.Command{
	Use:   "update <chain-id>",
	Short: "Update chain metadata",
	Long: `Update chain metadata. Only the flags given on the command line are changed.
Pass --scope with an empty value to clear the declared file scope.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		var update core.ChainUpdate
		flags := cmd.Flags()
		if flags.Changed("title") {
			update.Title = &chainTitleFlag
		}
		if flags.Changed("request") {
			update.RequestID = &chainRequestFlag
		}
		if flags.Changed("description") {
			update.Description = &chainDescriptionFlag
		}
		if flags.Changed("type") {
			chainType := models.ChainType(chainTypeFlag)
			update.Type = &chainType
		}
		if flags.Changed("depends-on") {
			update.DependsOn = &chainDependsOnFlag
		}
		if flags.Changed("skip-design") {
			update.SkipDesign = &chainSkipDesignFlag
		}
		if flags.Changed("justification") {
			update.SkipDesignJustification = &chainJustificationFlag
		}
		if flags.Changed("scope") {
			update.FileScope = nonEmpty(chainScopeFlag)
		}

		var chain *models.Chain
		err := withChainLock(args[0], func() error {
			var err error
			chain, err = ChainMgr.UpdateChain(args[0], update)
			return err
		})
		if err != nil {
			return fmt.Errorf("updating chain: %w", err)
		}
		if chain == nil {
			return fmt.Errorf("chain %s: %w", args[0], core.ErrChainNotFound)
		}

		fmt.Printf("Updated chain %s\n", chain.ID)
		return nil
	},
}

var chainDeleteCmd = &cobra.Command{
	Use:   "delete <chain-id>",
	Short: "Delete a chain and all of its tasks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		var found bool
		err := withChainLock(args[0], func() error {
			var err error
			found, err = ChainMgr.DeleteChain(args[0])
			return err
		})
		if err != nil {
			return fmt.Errorf("deleting chain: %w", err)
		}
		if !found {
			return fmt.Errorf("chain %s: %w", args[0], core.ErrChainNotFound)
		}

		fmt.Printf("Deleted chain %s\n", args[0])
		return nil
	},
}

var chainStatusCmd = &cobra.Command{
	Use:   "status <chain-id>",
	Short: "Show a chain's derived status and progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		summary, err := ChainMgr.GetChainSummary(args[0])
		if err != nil {
			return fmt.Errorf("summarizing chain: %w", err)
		}
		if summary == nil {
			return fmt.Errorf("chain %s: %w", args[0], core.ErrChainNotFound)
		}

		if chainJSONFlag {
			return printJSON(map[string]any{
				"id":       summary.Chain.ID,
				"status":   summary.Status,
				"progress": summary.Progress,
				"done":     summary.Done,
				"total":    summary.Total,
			})
		}

		fmt.Printf("%s: %s (%d/%d done, %.0f%%)\n",
			summary.Chain.ID, summary.Status, summary.Done, summary.Total, summary.Progress*100)

		counts := make(map[models.TaskStatus]int)
		for _, t := range summary.Chain.Tasks {
			counts[t.Status]++
		}
		for _, s := range models.AllStatuses() {
			if counts[s] > 0 {
				fmt.Printf("  %-12s %d\n", s, counts[s])
			}
		}
		return nil
	},
}

var chainConflictsCmd = &cobra.Command{
	Use:   "conflicts <chain-id>",
	Short: "List chains whose file scope overlaps this chain's",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		conflicts, err := ChainMgr.FindConflictingChains(args[0])
		if err != nil {
			return fmt.Errorf("finding conflicts: %w", err)
		}

		if chainJSONFlag {
			return printJSON(conflicts)
		}

		if len(conflicts) == 0 {
			fmt.Println("No conflicting chains.")
			return nil
		}
		fmt.Printf("%d conflicting chain(s):\n\n", len(conflicts))
		for _, c := range conflicts {
			fmt.Printf("  %s (%s)\n", c.Chain.ID, c.Chain.Title)
			fmt.Printf("    overlapping: %s\n", strings.Join(c.Patterns, ", "))
		}
		return nil
	},
}

var chainCheckCmd = &cobra.Command{
	Use:   "check <chain-id>",
	Short: "Check a chain's design link",
	Long: `Check that an implementation chain either depends on an existing design
chain or skips design with a written justification.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}

		if err := ChainMgr.CheckDesignLinks(args[0]); err != nil {
			if errors.Is(err, core.ErrChainNotFound) {
				return err
			}
			return fmt.Errorf("design link check failed: %w", err)
		}
		fmt.Printf("%s: design link OK\n", args[0])
		return nil
	},
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("formatting JSON: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// nonEmpty drops blank entries so that "--scope=" clears a list.
func nonEmpty(items []string) []string {
	out := []string{}
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func init() {
	for _, c := range []*cobra.Command{chainCreateCmd, chainUpdateCmd} {
		c.Flags().StringVar(&chainTitleFlag, "title", "", "Chain title")
		c.Flags().StringVar(&chainRequestFlag, "request", "", "Identifier of the originating request")
		c.Flags().StringVar(&chainDescriptionFlag, "description", "", "Chain description")
		c.Flags().StringVar(&chainTypeFlag, "type", "", "Chain type: design or implementation")
		c.Flags().StringVar(&chainDependsOnFlag, "depends-on", "", "Id of the design chain this chain depends on")
		c.Flags().BoolVar(&chainSkipDesignFlag, "skip-design", false, "Waive the design dependency")
		c.Flags().StringVar(&chainJustificationFlag, "justification", "", "Why design is skipped")
		c.Flags().StringSliceVar(&chainScopeFlag, "scope", nil, "Glob patterns of files this chain may touch")
		_ = c.RegisterFlagCompletionFunc("type", completeChainTypes)
	}
	for _, c := range []*cobra.Command{chainShowCmd, chainUpdateCmd, chainDeleteCmd, chainStatusCmd, chainConflictsCmd, chainCheckCmd} {
		c.ValidArgsFunction = completeChainIDs
	}
	for _, c := range []*cobra.Command{chainListCmd, chainShowCmd, chainStatusCmd, chainConflictsCmd} {
		c.Flags().BoolVar(&chainJSONFlag, "json", false, "Output as JSON")
	}

	chainCmd.AddCommand(chainCreateCmd)
	chainCmd.AddCommand(chainListCmd)
	chainCmd.AddCommand(chainShowCmd)
	chainCmd.AddCommand(chainUpdateCmd)
	chainCmd.AddCommand(chainDeleteCmd)
	chainCmd.AddCommand(chainStatusCmd)
	chainCmd.AddCommand(chainConflictsCmd)
	chainCmd.AddCommand(chainCheckCmd)
	rootCmd.AddCommand(chainCmd)
}
