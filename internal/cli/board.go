package cli

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/valter-silva-au/taskchain/internal/observability"
	"github.com/valter-silva-au/taskchain/pkg/models"
)

// Board panel indices.
const (
	panelBoard = iota
	panelMetrics
	panelAlerts
	panelCount
)

// boardColumns is the left-to-right column order of the kanban board.
var boardColumns = []models.TaskStatus{
	models.StatusBacklog,
	models.StatusTodo,
	models.StatusInProgress,
	models.StatusInReview,
	models.StatusDone,
	models.StatusBlocked,
}

type boardModel struct {
	activePanel int
	chainIndex  int
	width       int
	height      int

	chains  []chainSnapshot
	metrics *observability.Metrics
	alerts  []observability.Alert

	loading bool
	err     error
}

type chainSnapshot struct {
	id      string
	title   string
	status  models.TaskStatus
	columns map[models.TaskStatus][]string
	done    int
	total   int
}

// boardLoadedMsg carries loaded data back to the model.
type boardLoadedMsg struct {
	chains  []chainSnapshot
	metrics *observability.Metrics
	alerts  []observability.Alert
	err     error
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	activePanelStyle = panelStyle.BorderForeground(lipgloss.Color("62"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62"))

	statusStyles = map[models.TaskStatus]lipgloss.Style{
		models.StatusBacklog:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		models.StatusTodo:       lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		models.StatusInProgress: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		models.StatusInReview:   lipgloss.NewStyle().Foreground(lipgloss.Color("141")),
		models.StatusDone:       lipgloss.NewStyle().Foreground(lipgloss.Color("46")),
		models.StatusBlocked:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
	}

	severityStyles = map[observability.AlertSeverity]lipgloss.Style{
		observability.SeverityHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		observability.SeverityMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("226")),
		observability.SeverityLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
	}

	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func newBoardModel() boardModel {
	return boardModel{
		activePanel: panelBoard,
		loading:     true,
	}
}

func (m boardModel) Init() tea.Cmd {
	return loadBoard
}

func (m boardModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "tab":
			m.activePanel = (m.activePanel + 1) % panelCount
		case "shift+tab":
			m.activePanel = (m.activePanel - 1 + panelCount) % panelCount
		case "right", "l", "n":
			if len(m.chains) > 0 {
				m.chainIndex = (m.chainIndex + 1) % len(m.chains)
			}
		case "left", "h", "p":
			if len(m.chains) > 0 {
				m.chainIndex = (m.chainIndex - 1 + len(m.chains)) % len(m.chains)
			}
		case "r":
			m.loading = true
			return m, loadBoard
		}
		return m, nil

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case boardLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.chains = msg.chains
		m.metrics = msg.metrics
		m.alerts = msg.alerts
		if m.chainIndex >= len(m.chains) {
			m.chainIndex = 0
		}
		m.err = nil
		return m, nil
	}

	return m, nil
}

func (m boardModel) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	title := titleStyle.Render(" Taskchain Board ")
	help := helpStyle.Render("←/→: switch chain | tab: switch panel | r: refresh | q: quit")

	if m.loading {
		return fmt.Sprintf("%s\n\n  Loading data...\n\n%s", title, help)
	}
	if m.err != nil {
		return fmt.Sprintf("%s\n\n  Error: %s\n\n%s", title, m.err, help)
	}

	width := m.width - 2
	board := m.applyPanelStyle(panelBoard, m.renderBoard(width-4), width-4)

	var side string
	if width > 100 {
		half := width/2 - 4
		side = lipgloss.JoinHorizontal(lipgloss.Top,
			m.applyPanelStyle(panelMetrics, m.renderMetricsPanel(), half),
			m.applyPanelStyle(panelAlerts, m.renderAlertsPanel(), half))
	} else {
		side = lipgloss.JoinVertical(lipgloss.Left,
			m.applyPanelStyle(panelMetrics, m.renderMetricsPanel(), width-4),
			m.applyPanelStyle(panelAlerts, m.renderAlertsPanel(), width-4))
	}

	return fmt.Sprintf("%s\n\n%s\n%s\n\n%s", title, board, side, help)
}

func (m boardModel) applyPanelStyle(panel int, content string, width int) string {
	if width < 20 {
		width = 20
	}
	style := panelStyle
	if m.activePanel == panel {
		style = activePanelStyle
	}
	return style.Width(width).Render(content)
}

// renderBoard draws the selected chain as one column per status.
func (m boardModel) renderBoard(width int) string {
	if len(m.chains) == 0 {
		return headerStyle.Render("Board") + "\n  No chains found."
	}
	c := m.chains[m.chainIndex]

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d/%d)", c.id, m.chainIndex+1, len(m.chains))))
	b.WriteString(fmt.Sprintf("  %s  [%s, %d/%d done]\n\n", c.title, c.status, c.done, c.total))

	colWidth := width / len(boardColumns)
	if colWidth < 12 {
		colWidth = 12
	}
	cols := make([]string, 0, len(boardColumns))
	for _, status := range boardColumns {
		var col strings.Builder
		col.WriteString(statusStyles[status].Bold(true).Render(fmt.Sprintf("%s (%d)", status, len(c.columns[status]))))
		for _, id := range c.columns[status] {
			col.WriteString("\n")
			col.WriteString(statusStyles[status].Render(truncate(id, colWidth-1)))
		}
		cols = append(cols, lipgloss.NewStyle().Width(colWidth).Render(col.String()))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, cols...))
	return b.String()
}

func (m boardModel) renderMetricsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Metrics (7d)"))
	b.WriteString("\n")

	if m.metrics == nil {
		b.WriteString("  No metrics available.")
		return b.String()
	}

	md := m.metrics
	lines := []struct {
		label string
		value int
	}{
		{"Events", md.EventCount},
		{"Chains", md.ChainsCreated},
		{"Created", md.TasksCreated},
		{"Approved", md.TasksApproved},
		{"Reworked", md.TasksReworked},
	}
	for _, l := range lines {
		b.WriteString(fmt.Sprintf("  %-12s %d\n", l.label, l.value))
	}
	return b.String()
}

func (m boardModel) renderAlertsPanel() string {
	var b strings.Builder
	b.WriteString(headerStyle.Render("Alerts"))
	b.WriteString("\n")

	if len(m.alerts) == 0 {
		b.WriteString("  No active alerts.")
		return b.String()
	}

	for _, a := range m.alerts {
		sev := severityStyles[a.Severity].Render(fmt.Sprintf("[%s]", strings.ToUpper(string(a.Severity))))
		b.WriteString(fmt.Sprintf("  %s %s\n", sev, a.Message))
	}
	b.WriteString(fmt.Sprintf("\n  Total: %d alert(s)", len(m.alerts)))
	return b.String()
}

func truncate(s string, n int) string {
	if n <= 1 || len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func loadBoard() tea.Msg {
	var result boardLoadedMsg

	if ChainMgr != nil {
		chains, err := ChainMgr.GetAllChains()
		if err != nil {
			result.err = fmt.Errorf("loading chains: %w", err)
			return result
		}
		for _, c := range chains {
			snap := chainSnapshot{
				id:      c.ID,
				title:   c.Title,
				status:  ChainMgr.GetChainStatus(c),
				columns: make(map[models.TaskStatus][]string),
				total:   len(c.Tasks),
			}
			for _, t := range c.Tasks {
				snap.columns[t.Status] = append(snap.columns[t.Status], t.ID)
				if t.Status == models.StatusDone {
					snap.done++
				}
			}
			result.chains = append(result.chains, snap)
		}
	}

	if MetricsCalc != nil {
		metrics, err := MetricsCalc.Calculate(time.Now().UTC().AddDate(0, 0, -7))
		if err != nil {
			result.err = fmt.Errorf("loading metrics: %w", err)
			return result
		}
		result.metrics = metrics
	}

	if AlertEngine != nil {
		alerts, err := AlertEngine.Evaluate()
		if err != nil {
			result.err = fmt.Errorf("loading alerts: %w", err)
			return result
		}
		result.alerts = filterAlerts(alerts, "")
	}

	return result
}

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Interactive kanban board of chains, metrics and alerts",
	Long: `Launch an interactive terminal board showing each chain's tasks in status
columns, alongside metrics and alerts from the event log.

Switch chains with the arrow keys, switch panels with Tab, refresh with r,
quit with q.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if ChainMgr == nil {
			return fmt.Errorf("chain manager not initialized")
		}
		p := tea.NewProgram(newBoardModel(), tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

func init() {
	rootCmd.AddCommand(boardCmd)
}
