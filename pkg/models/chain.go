package models

import "time"

// ChainType distinguishes planning-stage chains from execution-stage chains.
// Chains created before classification existed carry an empty type.
type ChainType string

const (
	ChainTypeDesign         ChainType = "design"
	ChainTypeImplementation ChainType = "implementation"
)

// IsValid reports whether t is empty or a known chain type.
func (t ChainType) IsValid() bool {
	return t == "" || t == ChainTypeDesign || t == ChainTypeImplementation
}

// Chain is an ordered, request-scoped grouping of tasks. Everything except
// Tasks is persisted in the chain metadata record; Tasks is attached on load
// from the task directories.
type Chain struct {
	ID                      string    `yaml:"id" json:"id"`
	Sequence                int       `yaml:"sequence" json:"sequence"`
	Slug                    string    `yaml:"slug" json:"slug"`
	RequestID               string    `yaml:"requestId" json:"requestId"`
	Title                   string    `yaml:"title" json:"title"`
	Description             string    `yaml:"description" json:"description"`
	Type                    ChainType `yaml:"type,omitempty" json:"type,omitempty"`
	DependsOn               string    `yaml:"dependsOn,omitempty" json:"dependsOn,omitempty"`
	SkipDesign              bool      `yaml:"skipDesign,omitempty" json:"skipDesign,omitempty"`
	SkipDesignJustification string    `yaml:"skipDesignJustification,omitempty" json:"skipDesignJustification,omitempty"`
	FileScope               []string  `yaml:"fileScope,omitempty" json:"fileScope,omitempty"`
	CreatedAt               time.Time `yaml:"createdAt" json:"createdAt"`
	UpdatedAt               time.Time `yaml:"updatedAt" json:"updatedAt"`

	Tasks []*Task `yaml:"-" json:"tasks"`
}

// EffectiveFileScope returns the declared file scope, or when none is
// declared the ordered union of the tasks' file scopes.
func (c *Chain) EffectiveFileScope() []string {
	if len(c.FileScope) > 0 {
		return c.FileScope
	}
	var scope []string
	seen := make(map[string]struct{})
	for _, t := range c.Tasks {
		for _, p := range t.FileScope {
			if _, ok := seen[p]; ok {
				continue
			}
			seen[p] = struct{}{}
			scope = append(scope, p)
		}
	}
	return scope
}

// ChainSummary is a chain together with its derived status and progress.
type ChainSummary struct {
	Chain    *Chain     `json:"chain"`
	Status   TaskStatus `json:"status"`
	Progress float64    `json:"progress"`
	Done     int        `json:"done"`
	Total    int        `json:"total"`
}
