package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// chainPromptValues holds the answers of the interactive chain form.
type chainPromptValues struct {
	Title       string
	Description string
	Type        string
}

// promptForChain asks for the chain fields that were not given as flags.
var promptForChain = func(v *chainPromptValues) error {
	title := huh.NewInput().
		Title("Chain title").
		Placeholder("Authentication").
		Value(&v.Title).
		Validate(func(s string) error {
			if s == "" {
				return fmt.Errorf("title is required")
			}
			return nil
		})

	description := huh.NewText().
		Title("Description").
		Value(&v.Description)

	chainType := huh.NewSelect[string]().
		Title("Chain type").
		Options(
			huh.NewOption("none", ""),
			huh.NewOption(string(models.ChainTypeDesign), string(models.ChainTypeDesign)),
			huh.NewOption(string(models.ChainTypeImplementation), string(models.ChainTypeImplementation)),
		).
		Value(&v.Type)

	form := huh.NewForm(huh.NewGroup(title, description, chainType))
	if err := form.Run(); err != nil {
		return fmt.Errorf("prompt failed: %w", err)
	}
	return nil
}

// isInteractive reports whether stdin is a terminal and no CI environment
// is detected.
var isInteractive = func() bool {
	for _, envVar := range []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "BUILDKITE"} {
		if os.Getenv(envVar) != "" {
			return false
		}
	}
	fileInfo, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
