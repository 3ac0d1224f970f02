package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/valter-silva-au/taskchain/pkg/models"
	"gopkg.in/yaml.v3"
)

const (
	// chainsDir holds one metadata record per chain, beside the status directories.
	chainsDir      = ".chains"
	chainRecordExt = ".yaml"
	// chainSequenceKey names the project-wide chain sequence mark.
	chainSequenceKey = "chains"
)

var (
	// ErrChainNotFound is returned when an operation needs an existing chain.
	ErrChainNotFound = errors.New("chain not found")

	errCorruptRecord = errors.New("corrupt chain record")
)

// CreateChainOpts holds the optional metadata of a new chain.
type CreateChainOpts struct {
	Description             string
	Type                    models.ChainType
	DependsOn               string
	SkipDesign              bool
	SkipDesignJustification string
	FileScope               []string
}

// ChainUpdate holds the metadata fields to merge into a chain record. Nil
// fields are left unchanged.
type ChainUpdate struct {
	RequestID               *string
	Title                   *string
	Description             *string
	Type                    *models.ChainType
	DependsOn               *string
	SkipDesign              *bool
	SkipDesignJustification *string
	FileScope               []string
}

// ChainManager defines chain lifecycle operations. It owns a TaskManager
// rooted at the same task root.
type ChainManager interface {
	CreateChain(requestID, slug, title string, opts CreateChainOpts) (*models.Chain, error)
	GetChain(id string) (*models.Chain, error)
	GetAllChains() ([]*models.Chain, error)
	GetChainStatus(chain *models.Chain) models.TaskStatus
	UpdateChain(id string, update ChainUpdate) (*models.Chain, error)
	DeleteChain(id string) (bool, error)
	AddTask(chainID, slug, title, description string, opts CreateTaskOpts) (*models.Task, error)
	GetChainSummary(id string) (*models.ChainSummary, error)
	FindConflictingChains(id string) ([]ChainConflict, error)
	CheckDesignLinks(id string) error
	GetTaskManager() TaskManager
}

type fileChainManager struct {
	root     string
	tasks    TaskManager
	counter  *sequenceCounter
	eventLog EventLogger
}

// NewChainManager creates a ChainManager and its TaskManager, both rooted at
// the task root. eventLog may be nil.
func NewChainManager(root string, eventLog EventLogger) ChainManager {
	return &fileChainManager{
		root:     root,
		tasks:    NewTaskManager(root, eventLog),
		counter:  newSequenceCounter(root),
		eventLog: eventLog,
	}
}

func (cm *fileChainManager) GetTaskManager() TaskManager {
	return cm.tasks
}

// CreateChain allocates the next project-wide chain sequence, creates the
// chain's empty backlog directory and writes its metadata record.
func (cm *fileChainManager) CreateChain(requestID, slug, title string, opts CreateChainOpts) (*models.Chain, error) {
	if !validSlug(slug) {
		return nil, fmt.Errorf("creating chain: %w: %q", ErrInvalidSlug, slug)
	}
	if !opts.Type.IsValid() {
		return nil, fmt.Errorf("creating chain: unknown chain type %q", opts.Type)
	}

	ids, err := cm.listRecordIDs()
	if err != nil {
		return nil, fmt.Errorf("creating chain: %w", err)
	}
	floor := 0
	for _, id := range ids {
		if p := ParseChainID(id); p != nil && p.Sequence > floor {
			floor = p.Sequence
		}
	}
	seq, err := cm.counter.next(chainSequenceKey, floor)
	if err != nil {
		return nil, fmt.Errorf("creating chain: %w", err)
	}

	now := time.Now().UTC()
	chain := &models.Chain{
		ID:                      FormatChainID(seq, slug),
		Sequence:                seq,
		Slug:                    slug,
		RequestID:               requestID,
		Title:                   title,
		Description:             opts.Description,
		Type:                    opts.Type,
		DependsOn:               opts.DependsOn,
		SkipDesign:              opts.SkipDesign,
		SkipDesignJustification: opts.SkipDesignJustification,
		FileScope:               opts.FileScope,
		CreatedAt:               now,
		UpdatedAt:               now,
		Tasks:                   []*models.Task{},
	}

	initialDir := filepath.Join(cm.root, string(models.StatusBacklog), chain.ID)
	if err := os.MkdirAll(initialDir, dirPerms); err != nil {
		return nil, fmt.Errorf("creating chain %s: creating task directory: %w", chain.ID, err)
	}
	if err := cm.writeRecord(chain); err != nil {
		return nil, fmt.Errorf("creating chain %s: %w", chain.ID, err)
	}

	cm.logEvent(models.EventChainCreated, map[string]any{
		"chain_id":   chain.ID,
		"request_id": requestID,
		"type":       string(chain.Type),
	})
	return chain, nil
}

// GetChain loads the chain record and attaches its tasks. It returns nil when
// the id is malformed or no record exists.
func (cm *fileChainManager) GetChain(id string) (*models.Chain, error) {
	chain, err := cm.readRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting chain %s: %w", id, err)
	}
	if chain == nil {
		return nil, nil
	}
	tasks, err := cm.tasks.GetTasksForChain(chain.ID)
	if err != nil {
		return nil, fmt.Errorf("getting chain %s: %w", id, err)
	}
	chain.Tasks = tasks
	return chain, nil
}

// GetAllChains loads every chain, sorted by sequence. Records that cannot be
// decoded are skipped.
func (cm *fileChainManager) GetAllChains() ([]*models.Chain, error) {
	ids, err := cm.listRecordIDs()
	if err != nil {
		return nil, fmt.Errorf("listing chains: %w", err)
	}

	chains := make([]*models.Chain, 0, len(ids))
	for _, id := range ids {
		chain, err := cm.GetChain(id)
		if err != nil {
			if errors.Is(err, errCorruptRecord) {
				continue
			}
			return nil, fmt.Errorf("listing chains: %w", err)
		}
		if chain != nil {
			chains = append(chains, chain)
		}
	}
	sort.SliceStable(chains, func(i, j int) bool {
		return chains[i].Sequence < chains[j].Sequence
	})
	return chains, nil
}

func (cm *fileChainManager) GetChainStatus(chain *models.Chain) models.TaskStatus {
	if chain == nil {
		return models.StatusBacklog
	}
	return ChainStatus(chain.Tasks)
}

// ChainStatus derives a chain status from its tasks. Highest priority wins:
// blocked, in-review, in-progress, todo, then done when every task is done,
// otherwise backlog.
func ChainStatus(tasks []*models.Task) models.TaskStatus {
	counts := make(map[models.TaskStatus]int, len(tasks))
	for _, t := range tasks {
		counts[t.Status]++
	}
	for _, s := range []models.TaskStatus{
		models.StatusBlocked,
		models.StatusInReview,
		models.StatusInProgress,
		models.StatusTodo,
	} {
		if counts[s] > 0 {
			return s
		}
	}
	if len(tasks) > 0 && counts[models.StatusDone] == len(tasks) {
		return models.StatusDone
	}
	return models.StatusBacklog
}

// UpdateChain merges update into the stored record and returns the reloaded
// chain, or nil when the chain does not exist.
func (cm *fileChainManager) UpdateChain(id string, update ChainUpdate) (*models.Chain, error) {
	chain, err := cm.readRecord(id)
	if err != nil {
		return nil, fmt.Errorf("updating chain %s: %w", id, err)
	}
	if chain == nil {
		return nil, nil
	}

	if update.RequestID != nil {
		chain.RequestID = *update.RequestID
	}
	if update.Title != nil {
		chain.Title = *update.Title
	}
	if update.Description != nil {
		chain.Description = *update.Description
	}
	if update.Type != nil {
		if !update.Type.IsValid() {
			return nil, fmt.Errorf("updating chain %s: unknown chain type %q", id, *update.Type)
		}
		chain.Type = *update.Type
	}
	if update.DependsOn != nil {
		chain.DependsOn = *update.DependsOn
	}
	if update.SkipDesign != nil {
		chain.SkipDesign = *update.SkipDesign
	}
	if update.SkipDesignJustification != nil {
		chain.SkipDesignJustification = *update.SkipDesignJustification
	}
	if update.FileScope != nil {
		chain.FileScope = update.FileScope
	}
	chain.UpdatedAt = time.Now().UTC()

	if err := cm.writeRecord(chain); err != nil {
		return nil, fmt.Errorf("updating chain %s: %w", id, err)
	}

	cm.logEvent(models.EventChainUpdated, map[string]any{"chain_id": chain.ID})
	return cm.GetChain(chain.ID)
}

// DeleteChain removes the chain record and the chain's task directories
// under every status. It reports whether anything was found.
func (cm *fileChainManager) DeleteChain(id string) (bool, error) {
	if ParseChainID(id) == nil || !validPathSegment(id) {
		return false, nil
	}

	found := false
	if err := os.Remove(cm.recordPath(id)); err != nil {
		if !os.IsNotExist(err) {
			return false, fmt.Errorf("deleting chain %s: %w", id, err)
		}
	} else {
		found = true
	}

	removed, err := cm.tasks.DeleteChainTasks(id)
	if err != nil {
		return false, fmt.Errorf("deleting chain %s: %w", id, err)
	}
	found = found || removed

	if found {
		cm.logEvent(models.EventChainDeleted, map[string]any{"chain_id": id})
	}
	return found, nil
}

// AddTask creates a task in an existing chain.
func (cm *fileChainManager) AddTask(chainID, slug, title, description string, opts CreateTaskOpts) (*models.Task, error) {
	chain, err := cm.readRecord(chainID)
	if err != nil {
		return nil, fmt.Errorf("adding task to %s: %w", chainID, err)
	}
	if chain == nil {
		return nil, fmt.Errorf("adding task to %s: %w", chainID, ErrChainNotFound)
	}
	return cm.tasks.CreateTask(chainID, slug, title, description, opts)
}

// GetChainSummary returns the chain with its derived status and the share of
// done tasks, or nil when the chain does not exist.
func (cm *fileChainManager) GetChainSummary(id string) (*models.ChainSummary, error) {
	chain, err := cm.GetChain(id)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, nil
	}

	done := 0
	for _, t := range chain.Tasks {
		if t.Status == models.StatusDone {
			done++
		}
	}
	progress := 0.0
	if len(chain.Tasks) > 0 {
		progress = float64(done) / float64(len(chain.Tasks))
	}
	return &models.ChainSummary{
		Chain:    chain,
		Status:   ChainStatus(chain.Tasks),
		Progress: progress,
		Done:     done,
		Total:    len(chain.Tasks),
	}, nil
}

// FindConflictingChains returns the other chains whose file scope overlaps
// the chain's. A chain without a file scope conflicts with nothing.
func (cm *fileChainManager) FindConflictingChains(id string) ([]ChainConflict, error) {
	chains, err := cm.GetAllChains()
	if err != nil {
		return nil, fmt.Errorf("finding conflicts for %s: %w", id, err)
	}
	for _, c := range chains {
		if c.ID == id {
			return FindConflicts(c, chains), nil
		}
	}
	return nil, nil
}

// CheckDesignLinks validates the chain's design link and, when it depends on
// another chain, that the dependency exists and is a design chain.
func (cm *fileChainManager) CheckDesignLinks(id string) error {
	chain, err := cm.readRecord(id)
	if err != nil {
		return fmt.Errorf("checking chain %s: %w", id, err)
	}
	if chain == nil {
		return fmt.Errorf("checking chain %s: %w", id, ErrChainNotFound)
	}
	if err := ValidateDesignLink(chain); err != nil {
		return err
	}
	if chain.DependsOn == "" {
		return nil
	}

	dep, err := cm.readRecord(chain.DependsOn)
	if err != nil {
		return fmt.Errorf("checking chain %s: %w", id, err)
	}
	if dep == nil {
		return fmt.Errorf("chain %s depends on %s: %w", id, chain.DependsOn, ErrChainNotFound)
	}
	if dep.Type != "" && dep.Type != models.ChainTypeDesign {
		return fmt.Errorf("chain %s depends on %s, which is a %s chain, not a design chain", id, dep.ID, dep.Type)
	}
	return nil
}

// ValidateDesignLink checks that an implementation chain either depends on a
// design chain or explicitly waives it with a justification, but not both.
// Other chain types always pass.
func ValidateDesignLink(chain *models.Chain) error {
	if chain.Type != models.ChainTypeImplementation {
		return nil
	}
	hasDep := chain.DependsOn != ""
	switch {
	case hasDep && chain.SkipDesign:
		return fmt.Errorf("chain %s both depends on %s and skips design", chain.ID, chain.DependsOn)
	case !hasDep && !chain.SkipDesign:
		return fmt.Errorf("chain %s must depend on a design chain or set skipDesign with a justification", chain.ID)
	case chain.SkipDesign && strings.TrimSpace(chain.SkipDesignJustification) == "":
		return fmt.Errorf("chain %s skips design without a justification", chain.ID)
	}
	return nil
}

// --- record storage ---

func (cm *fileChainManager) recordPath(id string) string {
	return filepath.Join(cm.root, chainsDir, id+chainRecordExt)
}

func (cm *fileChainManager) readRecord(id string) (*models.Chain, error) {
	if ParseChainID(id) == nil || !validPathSegment(id) {
		return nil, nil
	}
	data, err := os.ReadFile(cm.recordPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chain record: %w", err)
	}

	var chain models.Chain
	if err := yaml.Unmarshal(data, &chain); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errCorruptRecord, id, err)
	}
	if chain.ID == "" {
		chain.ID = id
	}
	if chain.Sequence == 0 {
		if p := ParseChainID(chain.ID); p != nil {
			chain.Sequence = p.Sequence
			if chain.Slug == "" {
				chain.Slug = p.Slug
			}
		}
	}
	return &chain, nil
}

func (cm *fileChainManager) writeRecord(chain *models.Chain) error {
	data, err := yaml.Marshal(chain)
	if err != nil {
		return fmt.Errorf("marshalling chain record: %w", err)
	}
	if err := writeFileAtomic(cm.recordPath(chain.ID), data); err != nil {
		return fmt.Errorf("writing chain record: %w", err)
	}
	return nil
}

func (cm *fileChainManager) listRecordIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(cm.root, chainsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading chain records: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, chainRecordExt) {
			continue
		}
		id := strings.TrimSuffix(name, chainRecordExt)
		if ParseChainID(id) == nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (cm *fileChainManager) logEvent(eventType string, data map[string]any) {
	if cm.eventLog == nil {
		return
	}
	_ = cm.eventLog.LogEvent(eventType, data)
}
