package core

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// anySegment stands in for a "**" segment when a pattern is materialized.
const anySegment = "__any__"

var (
	charClass   = regexp.MustCompile(`\[[^\]]*\]`)
	braceGroup  = regexp.MustCompile(`\{([^,}]*)[^}]*\}`)
	wildcardRep = strings.NewReplacer("*", "x", "?", "x")
)

// ChainConflict is another chain whose file scope overlaps the one being
// checked, with the patterns taking part in the overlap.
type ChainConflict struct {
	Chain    *models.Chain `json:"chain"`
	Patterns []string      `json:"patterns"`
}

// MatchPattern reports whether candidate matches the glob pattern. "*"
// matches within one path segment and "**" across segments. A pattern
// ending in "/**" also matches its base directory and anything under it
// literally, whatever the glob semantics say.
func MatchPattern(pattern, candidate string) bool {
	if ok, err := doublestar.Match(pattern, candidate); err == nil && ok {
		return true
	}
	if strings.HasSuffix(pattern, "/**") {
		base := strings.TrimSuffix(pattern, "/**")
		return candidate == base || strings.HasPrefix(candidate, base+"/")
	}
	return false
}

// materialize turns a pattern into a concrete-looking path: "**" segments
// become a sentinel segment and the remaining wildcards become filler.
func materialize(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if seg == "**" {
			segments[i] = anySegment
			continue
		}
		seg = charClass.ReplaceAllString(seg, "x")
		seg = braceGroup.ReplaceAllString(seg, "$1")
		segments[i] = wildcardRep.Replace(seg)
	}
	return strings.Join(segments, "/")
}

// PatternsOverlap reports whether two patterns might claim the same file.
// Either pattern may match the other directly, or match the other's
// materialized form. The check is a heuristic and is symmetric.
func PatternsOverlap(a, b string) bool {
	if a == b {
		return true
	}
	if MatchPattern(a, b) || MatchPattern(b, a) {
		return true
	}
	return MatchPattern(a, materialize(b)) || MatchPattern(b, materialize(a))
}

// HasOverlap reports whether any pattern in a overlaps any pattern in b. An
// empty scope never conflicts.
func HasOverlap(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	for _, pa := range a {
		for _, pb := range b {
			if PatternsOverlap(pa, pb) {
				return true
			}
		}
	}
	return false
}

// GetOverlappingPatterns returns the patterns from both scopes that take
// part in at least one overlapping pair, a's first, without duplicates.
func GetOverlappingPatterns(a, b []string) []string {
	var fromA, fromB []string
	seenA := make(map[string]bool)
	seenB := make(map[string]bool)
	for _, pa := range a {
		for _, pb := range b {
			if !PatternsOverlap(pa, pb) {
				continue
			}
			if !seenA[pa] {
				seenA[pa] = true
				fromA = append(fromA, pa)
			}
			if !seenB[pb] {
				seenB[pb] = true
				fromB = append(fromB, pb)
			}
		}
	}

	out := append([]string{}, fromA...)
	for _, p := range fromB {
		if !seenA[p] {
			out = append(out, p)
		}
	}
	return out
}

// FindConflicts returns every chain in chains, other than target, whose
// effective file scope overlaps target's.
func FindConflicts(target *models.Chain, chains []*models.Chain) []ChainConflict {
	scope := target.EffectiveFileScope()
	if len(scope) == 0 {
		return nil
	}
	var conflicts []ChainConflict
	for _, c := range chains {
		if c.ID == target.ID {
			continue
		}
		other := c.EffectiveFileScope()
		if !HasOverlap(scope, other) {
			continue
		}
		conflicts = append(conflicts, ChainConflict{
			Chain:    c,
			Patterns: GetOverlappingPatterns(scope, other),
		})
	}
	return conflicts
}

// FindConflictingChains loads the configuration in projectRoot, then every
// chain under the configured task root, and returns those whose file scope
// overlaps chainID's.
func FindConflictingChains(projectRoot, chainID string) ([]ChainConflict, error) {
	cfgMgr := NewConfigurationManager(projectRoot)
	cfg, err := cfgMgr.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("finding conflicts for %s: %w", chainID, err)
	}
	return NewChainManager(cfgMgr.ResolveTasksRoot(cfg), nil).FindConflictingChains(chainID)
}
