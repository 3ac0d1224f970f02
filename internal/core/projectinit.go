package core

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/valter-silva-au/taskchain/pkg/models"
)

// configTemplate renders the initial .taskchain.yaml.
const configTemplate = `# taskchain project configuration
tasks:
  root: {{ .TasksRoot }}
events:
  enabled: {{ .Events.Enabled }}
  path: {{ .Events.Path }}
alerts:
  blocked_hours: {{ .Alerts.BlockedHours }}
  review_days: {{ .Alerts.ReviewDays }}
`

// taskRootGitignore keeps lock files out of version control.
const taskRootGitignore = locksDir + "/\n"

// InitConfig holds the parameters for initializing a project.
type InitConfig struct {
	BasePath string
	// TasksRoot overrides the default task root. Relative paths are resolved
	// against BasePath.
	TasksRoot string
}

// InitResult holds a summary of what was created vs. skipped.
type InitResult struct {
	Created []string
	Skipped []string
}

// ProjectInitializer lays out a new task root and its configuration.
type ProjectInitializer interface {
	Init(config InitConfig) (*InitResult, error)
}

type projectInitializer struct{}

// NewProjectInitializer creates a new ProjectInitializer.
func NewProjectInitializer() ProjectInitializer {
	return &projectInitializer{}
}

// Init writes .taskchain.yaml and creates the task root with one directory
// per status plus the chain record and sequence directories. It is safe to
// run on an existing project: anything that already exists is skipped and
// not overwritten.
func (pi *projectInitializer) Init(config InitConfig) (*InitResult, error) {
	result := &InitResult{}

	cfg := defaultConfig()
	if config.TasksRoot != "" {
		cfg.TasksRoot = config.TasksRoot
		cfg.Events.Path = filepath.Join(config.TasksRoot, ".events.jsonl")
	}
	root := NewConfigurationManager(config.BasePath).ResolveTasksRoot(cfg)

	dirs := []string{config.BasePath, root}
	for _, s := range models.AllStatuses() {
		dirs = append(dirs, filepath.Join(root, string(s)))
	}
	dirs = append(dirs, filepath.Join(root, chainsDir), filepath.Join(root, sequencesDir))
	for _, dir := range dirs {
		created, err := ensureDir(dir)
		if err != nil {
			return nil, fmt.Errorf("initializing project: creating directory %s: %w", dir, err)
		}
		if created {
			result.Created = append(result.Created, dir)
		} else {
			result.Skipped = append(result.Skipped, dir)
		}
	}

	configPath := filepath.Join(config.BasePath, ConfigFileName+".yaml")
	if err := writeFileIfNotExists(configPath, func() ([]byte, error) {
		return renderConfig(cfg)
	}, result); err != nil {
		return nil, err
	}

	gitignorePath := filepath.Join(root, ".gitignore")
	if err := writeFileIfNotExists(gitignorePath, func() ([]byte, error) {
		return []byte(taskRootGitignore), nil
	}, result); err != nil {
		return nil, err
	}

	return result, nil
}

// ensureDir creates a directory if it does not exist. Returns true if created.
func ensureDir(path string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(path, dirPerms); err != nil {
		return false, err
	}
	return true, nil
}

// writeFileIfNotExists writes content from contentFn if the file does not exist.
// It records created/skipped in the result.
func writeFileIfNotExists(path string, contentFn func() ([]byte, error), result *InitResult) error {
	if _, err := os.Stat(path); err == nil {
		result.Skipped = append(result.Skipped, path)
		return nil
	}
	content, err := contentFn()
	if err != nil {
		return fmt.Errorf("initializing project: generating content for %s: %w", path, err)
	}
	if err := writeFileAtomic(path, content); err != nil {
		return fmt.Errorf("initializing project: writing %s: %w", path, err)
	}
	result.Created = append(result.Created, path)
	return nil
}

func renderConfig(cfg *models.Config) ([]byte, error) {
	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return nil, fmt.Errorf("parsing config template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("rendering config template: %w", err)
	}
	return buf.Bytes(), nil
}
