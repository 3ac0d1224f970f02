package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/valter-silva-au/taskchain/pkg/models"
)

// emptyNotes is written in the Notes section when a task has no notes.
const emptyNotes = "_No notes yet._"

const titlePrefix = "Task:"

// Section headings, in the order they are written.
const (
	sectionObjective   = "Objective"
	sectionExpected    = "Expected Files"
	sectionAcceptance  = "Acceptance Criteria"
	sectionConstraints = "Constraints"
	sectionNotes       = "Notes"
)

// Metadata field names as they appear in the document.
const (
	fieldChain        = "Chain"
	fieldTask         = "Task"
	fieldStatus       = "Status"
	fieldCreated      = "Created"
	fieldType         = "Type"
	fieldFileScope    = "File Scope"
	fieldReworkOf     = "Rework Of"
	fieldReworkReason = "Rework Reason"
	fieldReworkCount  = "Rework Count"
)

var (
	metadataLine = regexp.MustCompile(`^\*\*([^*]+):\*\*\s*(.*)$`)
	inlineCode   = regexp.MustCompile("`([^`]*)`")

	// headingLike matches body lines that would read back as a section
	// heading. Escaped lines carry one extra leading backslash.
	headingLike = regexp.MustCompile(`^\\*## `)
	escapedLine = regexp.MustCompile(`^\\+## `)
)

// SerializeTask renders a task as its markdown document.
func SerializeTask(t *models.Task) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s %s\n\n", titlePrefix, oneLine(t.Title))

	writeField(&b, fieldChain, t.ChainID)
	writeField(&b, fieldTask, t.ID)
	writeField(&b, fieldStatus, string(t.Status))
	writeField(&b, fieldCreated, t.CreatedAt.UTC().Format(time.RFC3339))
	if t.Type != "" && t.Type != models.TaskTypeImpl {
		writeField(&b, fieldType, string(t.Type))
	}
	if len(t.FileScope) > 0 {
		quoted := make([]string, len(t.FileScope))
		for i, p := range t.FileScope {
			quoted[i] = "`" + p + "`"
		}
		writeField(&b, fieldFileScope, strings.Join(quoted, ", "))
	}
	if t.ReworkOf != "" {
		writeField(&b, fieldReworkOf, t.ReworkOf)
	}
	if t.ReworkReason != "" {
		writeField(&b, fieldReworkReason, oneLine(t.ReworkReason))
	}
	if t.ReworkCount > 0 {
		writeField(&b, fieldReworkCount, strconv.Itoa(t.ReworkCount))
	}

	writeSection(&b, sectionObjective, t.Description)
	writeSection(&b, sectionExpected, bulletList(t.ExpectedFiles, "- `", "`"))
	writeSection(&b, sectionAcceptance, bulletList(t.Acceptance, "- [ ] ", ""))
	if len(t.Constraints) > 0 {
		writeSection(&b, sectionConstraints, bulletList(t.Constraints, "- ", ""))
	}

	notes := t.Notes
	if strings.TrimSpace(notes) == "" {
		notes = emptyNotes
	}
	writeSection(&b, sectionNotes, notes)

	return b.String()
}

// ParseTask decodes a task document found in the status directory status of
// chain chainID. It returns nil when the document has no title heading or no
// parsable task id.
func ParseTask(text, chainID string, status models.TaskStatus) *models.Task {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	titleIdx := -1
	for i, line := range lines {
		if strings.HasPrefix(line, "# ") {
			titleIdx = i
			break
		}
	}
	if titleIdx < 0 {
		return nil
	}
	title := strings.TrimSpace(strings.TrimPrefix(lines[titleIdx], "# "))
	title = strings.TrimSpace(strings.TrimPrefix(title, titlePrefix))

	meta := make(map[string]string)
	i := titleIdx + 1
	for ; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], "## ") {
			break
		}
		if m := metadataLine.FindStringSubmatch(strings.TrimSpace(lines[i])); m != nil {
			meta[strings.ToLower(strings.TrimSpace(m[1]))] = strings.TrimSpace(m[2])
		}
	}

	taskID := meta[strings.ToLower(fieldTask)]
	parsed := ParseTaskID(taskID)
	if parsed == nil {
		return nil
	}

	sections := parseSections(lines[i:])
	now := time.Now().UTC()

	task := &models.Task{
		ID:            taskID,
		Sequence:      parsed.Sequence,
		Slug:          parsed.Slug,
		ChainID:       chainID,
		Status:        status,
		Type:          models.TaskTypeImpl,
		Title:         title,
		Description:   sections[strings.ToLower(sectionObjective)],
		ExpectedFiles: listItems(sections[strings.ToLower(sectionExpected)]),
		Acceptance:    listItems(sections[strings.ToLower(sectionAcceptance)]),
		Constraints:   listItems(sections[strings.ToLower(sectionConstraints)]),
		Notes:         sections[strings.ToLower(sectionNotes)],
		CreatedAt:     parseCreated(meta[strings.ToLower(fieldCreated)], now),
		UpdatedAt:     now,
	}
	if task.Notes == emptyNotes {
		task.Notes = ""
	}

	if v := models.TaskType(meta[strings.ToLower(fieldType)]); v.IsValid() {
		task.Type = v
	}
	if v, ok := meta[strings.ToLower(fieldFileScope)]; ok {
		for _, m := range inlineCode.FindAllStringSubmatch(v, -1) {
			if m[1] != "" {
				task.FileScope = append(task.FileScope, m[1])
			}
		}
	}
	task.ReworkOf = meta[strings.ToLower(fieldReworkOf)]
	task.ReworkReason = meta[strings.ToLower(fieldReworkReason)]
	if v, err := strconv.Atoi(meta[strings.ToLower(fieldReworkCount)]); err == nil {
		task.ReworkCount = v
	}

	return task
}

func writeField(b *strings.Builder, name, value string) {
	fmt.Fprintf(b, "**%s:** %s\n", name, value)
}

func writeSection(b *strings.Builder, heading, body string) {
	fmt.Fprintf(b, "\n## %s\n\n", heading)
	body = trimBody(body)
	if body == "" {
		return
	}
	for _, line := range strings.Split(body, "\n") {
		if headingLike.MatchString(line) {
			b.WriteString(`\`)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
}

// trimBody drops blank lines around a section body and trailing whitespace,
// keeping the indentation of the first line.
func trimBody(body string) string {
	lines := strings.Split(strings.TrimRight(body, " \t\r\n"), "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[0]) == "" {
		lines = lines[1:]
	}
	return strings.Join(lines, "\n")
}

func bulletList(items []string, prefix, suffix string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString(prefix)
		b.WriteString(oneLine(item))
		b.WriteString(suffix)
		b.WriteString("\n")
	}
	return b.String()
}

// parseSections splits lines beginning at the first "## " heading into
// bodies keyed by lower-cased heading name.
func parseSections(lines []string) map[string]string {
	sections := make(map[string]string)
	var current string
	var body []string
	inSection := false

	flush := func() {
		if inSection {
			sections[current] = trimBody(strings.Join(body, "\n"))
		}
	}

	for _, line := range lines {
		if strings.HasPrefix(line, "## ") {
			flush()
			current = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "## ")))
			body = body[:0]
			inSection = true
			continue
		}
		if inSection {
			if escapedLine.MatchString(line) {
				line = line[1:]
			}
			body = append(body, line)
		}
	}
	flush()
	return sections
}

// listItems returns the non-empty lines of a section body with list and
// checkbox markers and inline code markers removed.
func listItems(body string) []string {
	items := []string{}
	for _, line := range strings.Split(body, "\n") {
		item := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(item, "- "):
			item = strings.TrimPrefix(item, "- ")
		case strings.HasPrefix(item, "* "):
			item = strings.TrimPrefix(item, "* ")
		}
		for _, box := range []string{"[ ] ", "[x] ", "[X] "} {
			if strings.HasPrefix(item, box) {
				item = strings.TrimPrefix(item, box)
				break
			}
		}
		item = strings.TrimSpace(strings.ReplaceAll(item, "`", ""))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseCreated(v string, fallback time.Time) time.Time {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t
	}
	return fallback
}

func oneLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}
