package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var completionInstall bool

var completionCmd = &cobra.Command{
	Use:   "completion <shell>",
	Short: "Set up shell completions for taskchain",
	Long: `Set up shell tab-completions for taskchain commands, flags, chain ids and
task ids.

Supported shells: bash, zsh, fish, powershell

Quick install (adds completions to your shell profile):

  taskchain completion bash --install
  taskchain completion zsh --install
  taskchain completion fish --install

Or print the completion script to stdout (for manual setup):

  taskchain completion bash
  taskchain completion powershell`,
	ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
	Args:      cobra.MaximumNArgs(1),
	RunE:      runCompletion,
}

// completionShell describes how to generate and install one shell's script.
type completionShell struct {
	generate func(w io.Writer) error
	// target returns the install directory and file name under home. An
	// empty dir means automatic install is unsupported.
	target    func(home string) (dir, file string)
	loadHint  string
	afterHint []string
}

var completionShells = map[string]completionShell{
	"bash": {
		generate: func(w io.Writer) error { return rootCmd.GenBashCompletionV2(w, true) },
		target: func(home string) (string, string) {
			return filepath.Join(home, ".local", "share", "bash-completion", "completions"), "taskchain"
		},
		loadHint: `eval "$(taskchain completion bash)"`,
	},
	"zsh": {
		generate: func(w io.Writer) error { return rootCmd.GenZshCompletion(w) },
		target: func(home string) (string, string) {
			return filepath.Join(home, ".local", "share", "zsh", "site-functions"), "_taskchain"
		},
		loadHint: `eval "$(taskchain completion zsh)"`,
		afterHint: []string{
			"Ensure the directory is in your fpath, then run: autoload -Uz compinit && compinit",
		},
	},
	"fish": {
		generate: func(w io.Writer) error { return rootCmd.GenFishCompletion(w, true) },
		target: func(home string) (string, string) {
			return filepath.Join(home, ".config", "fish", "completions"), "taskchain.fish"
		},
		loadHint:  "taskchain completion fish | source",
		afterHint: []string{"Completions will be available in new fish sessions automatically."},
	},
	"powershell": {
		generate: func(w io.Writer) error { return rootCmd.GenPowerShellCompletionWithDesc(w) },
		target:   func(string) (string, string) { return "", "" },
		loadHint: "taskchain completion powershell | Out-String | Invoke-Expression",
	},
}

func init() {
	completionCmd.Flags().BoolVar(&completionInstall, "install", false,
		"Install completions into your shell profile")

	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(completionCmd)
}

func runCompletion(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}
	shell, ok := completionShells[args[0]]
	if !ok {
		return fmt.Errorf("unsupported shell %q (supported: bash, zsh, fish, powershell)", args[0])
	}

	if completionInstall {
		return installCompletion(args[0], shell)
	}

	// Hints go to stderr so the script can be piped from stdout.
	w := cmd.ErrOrStderr()
	_, _ = fmt.Fprintln(w, "# To load completions in your current session:")
	_, _ = fmt.Fprintf(w, "#   %s\n#\n", shell.loadHint)
	return shell.generate(cmd.OutOrStdout())
}

func installCompletion(name string, shell completionShell) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("detecting home directory: %w", err)
	}
	dir, file := shell.target(home)
	if dir == "" {
		return fmt.Errorf("automatic install is not supported for %s; run 'taskchain completion %s' and add the output to your profile", name, name)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating completion directory: %w", err)
	}
	target := filepath.Join(dir, file)
	if err := writeCompletionFile(target, shell.generate); err != nil {
		return err
	}

	fmt.Printf("%s completions installed to %s\n", name, target)
	for _, line := range shell.afterHint {
		fmt.Println(line)
	}
	return nil
}

// writeCompletionFile creates target and writes the script into it,
// propagating close errors.
func writeCompletionFile(target string, generate func(io.Writer) error) error {
	f, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("creating completion file %s: %w", target, err)
	}

	writeErr := generate(f)
	closeErr := f.Close()

	if writeErr != nil {
		return writeErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing completion file %s: %w", target, closeErr)
	}
	return nil
}
