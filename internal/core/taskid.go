package core

import (
	"fmt"
	"regexp"
	"strconv"
)

// ChainIDPrefix prefixes every chain identifier.
const ChainIDPrefix = "CHAIN-"

// idPattern matches exactly three digits, a dash, and a non-empty slug.
var idPattern = regexp.MustCompile(`^(\d{3})-(.+)$`)

// ParsedID is the sequence and slug decoded from a task or chain id.
type ParsedID struct {
	Sequence int
	Slug     string
}

// FormatTaskID builds a task id such as "001-setup-api".
func FormatTaskID(sequence int, slug string) string {
	return fmt.Sprintf("%03d-%s", sequence, slug)
}

// ParseTaskID decodes a task id. It returns nil when id is not three digits
// followed by "-" and a non-empty slug.
func ParseTaskID(id string) *ParsedID {
	m := idPattern.FindStringSubmatch(id)
	if m == nil {
		return nil
	}
	seq, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &ParsedID{Sequence: seq, Slug: m[2]}
}

// FormatChainID builds a chain id such as "CHAIN-001-auth".
func FormatChainID(sequence int, slug string) string {
	return ChainIDPrefix + FormatTaskID(sequence, slug)
}

// ParseChainID decodes a chain id, returning nil when it is malformed.
func ParseChainID(id string) *ParsedID {
	if len(id) <= len(ChainIDPrefix) || id[:len(ChainIDPrefix)] != ChainIDPrefix {
		return nil
	}
	return ParseTaskID(id[len(ChainIDPrefix):])
}
