// Package tui provides an interactive BubbleTea browser over a sealed
// index: type a point id or a raw vector, adjust ef live, and walk its
// nearest neighbors.
//
// Layout:
//
//	┌────────────────────────────────────────────────────────────┐
//	│  vexel  nearest-neighbor browser                           │  ← header
//	│  ❯ <id or "v: 1,2,3">                                      │  ← query input
//	│  ────────────────────────────────────────────────────────  │  ← divider
//	│      0.0012  #482                                          │  ← results
//	│      0.0057  #119                                          │
//	│  ...                                                       │
//	│  ────────────────────────────────────────────────────────  │  ← divider
//	│  [10 results]  ef=50  k=10  ↑↓ select  +/- ef  ^Q quit     │  ← status bar
//	└────────────────────────────────────────────────────────────┘
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/screenager/vexel/internal/hnsw"
)

var (
	colorAccent  = lipgloss.Color("#7C6AF7")
	colorDim     = lipgloss.Color("#555555")
	colorMuted   = lipgloss.Color("#888888")
	colorText    = lipgloss.Color("#DDDDDD")
	colorSubdued = lipgloss.Color("#444444")
	colorScore   = lipgloss.Color("#5ECEF5")
	colorErr     = lipgloss.Color("#FF6B6B")

	sTitle   = lipgloss.NewStyle().Bold(true).Foreground(colorText)
	sDim     = lipgloss.NewStyle().Foreground(colorDim)
	sMuted   = lipgloss.NewStyle().Foreground(colorMuted)
	sScore   = lipgloss.NewStyle().Foreground(colorScore).Bold(true)
	sID      = lipgloss.NewStyle().Foreground(colorText)
	sErr     = lipgloss.NewStyle().Foreground(colorErr)
	sSel     = lipgloss.NewStyle().Background(lipgloss.Color("#1E1A3A")).Foreground(colorText)
	sHint    = lipgloss.NewStyle().Foreground(colorDim).Background(lipgloss.Color("#111111"))
	sDivider = lipgloss.NewStyle().Foreground(colorSubdued)
	sAccent  = lipgloss.NewStyle().Foreground(colorAccent)
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

type spinTickMsg struct{}

func spinTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return spinTickMsg{} })
}

type (
	searchResultMsg []hnsw.Result
	errMsg          struct{ err error }
)

// Model is the BubbleTea application model.
type Model struct {
	g         *hnsw.Graph
	input     textinput.Model
	results   []hnsw.Result
	cursor    int
	err       error
	width     int
	height    int
	searching bool
	spinFrame int
	ef        int
	k         int
}

// New creates a TUI model over a sealed graph. ef seeds the ef used for
// every query; the user can bump it with +/- while the input is empty.
func New(g *hnsw.Graph, ef int) Model {
	ti := textinput.New()
	ti.Placeholder = "id, or v: 1.0,2.0,3.0"
	ti.Focus()
	ti.CharLimit = 512
	ti.Width = 60
	ti.PromptStyle = sAccent
	ti.Prompt = "❯ "
	ti.TextStyle = lipgloss.NewStyle().Foreground(colorText)

	if ef <= 0 {
		ef = hnsw.DefaultEfSearch
	}
	return Model{g: g, input: ti, ef: ef, k: 10}
}

// Init is the BubbleTea init hook.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, spinTick())
}

// parseQuery accepts either a bare point id ("482") or a literal vector
// ("v: 1,2,3").
func parseQuery(raw string) (isVector bool, id uint32, vec []float32, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "v:") {
		parts := strings.Split(strings.TrimPrefix(raw, "v:"), ",")
		vec = make([]float32, len(parts))
		for i, p := range parts {
			f, perr := strconv.ParseFloat(strings.TrimSpace(p), 32)
			if perr != nil {
				return false, 0, nil, fmt.Errorf("bad component %q: %w", p, perr)
			}
			vec[i] = float32(f)
		}
		return true, 0, vec, nil
	}
	n, perr := strconv.ParseUint(raw, 10, 32)
	if perr != nil {
		return false, 0, nil, fmt.Errorf("expected an id or \"v: ...\": %w", perr)
	}
	return false, uint32(n), nil, nil
}

func (m Model) runQuery(raw string) tea.Cmd {
	g, k, ef := m.g, m.k, m.ef
	return func() tea.Msg {
		isVector, id, vec, err := parseQuery(raw)
		if err != nil {
			return errMsg{err}
		}
		var res []hnsw.Result
		if isVector {
			res, err = g.SearchByVector(vec, k, ef)
		} else {
			res, err = g.SearchByID(id, k, ef)
		}
		if err != nil {
			return errMsg{err}
		}
		return searchResultMsg(res)
	}
}

// Update processes messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.input.Width = m.width - 8
		return m, nil

	case spinTickMsg:
		m.spinFrame = (m.spinFrame + 1) % len(spinnerFrames)
		return m, spinTick()

	case searchResultMsg:
		m.searching = false
		m.results = msg
		m.cursor = 0
		m.err = nil
		return m, nil

	case errMsg:
		m.searching = false
		m.err = msg.err
		m.results = nil
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "ctrl+q":
			return m, tea.Quit
		case "enter":
			raw := m.input.Value()
			if raw == "" {
				return m, nil
			}
			m.searching = true
			return m, m.runQuery(raw)
		case "up", "ctrl+p":
			if m.cursor > 0 {
				m.cursor--
			}
			return m, nil
		case "down", "ctrl+n":
			if m.cursor < len(m.results)-1 {
				m.cursor++
			}
			return m, nil
		case "+":
			if m.input.Value() == "" {
				m.ef += 10
				return m, nil
			}
		case "-":
			if m.input.Value() == "" && m.ef > 10 {
				m.ef -= 10
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	status := ""
	if m.searching {
		status = " " + spinnerFrames[m.spinFrame]
	}
	b.WriteString(sTitle.Render("vexel") + sMuted.Render("  nearest-neighbor browser"+status) + "\n")
	b.WriteString(m.input.View() + "\n")
	b.WriteString(sDivider.Render(strings.Repeat("─", max(m.width-2, 10))) + "\n")

	switch {
	case m.err != nil:
		b.WriteString(sErr.Render(m.err.Error()) + "\n")
	case len(m.results) == 0:
		b.WriteString(sDim.Render("no results yet") + "\n")
	default:
		for i, r := range m.results {
			line := fmt.Sprintf("%s  %s", sScore.Render(fmt.Sprintf("%10.4f", r.Distance)), sID.Render(fmt.Sprintf("#%d", r.ID)))
			if i == m.cursor {
				line = sSel.Render(line)
			}
			b.WriteString(line + "\n")
		}
	}

	b.WriteString(sDivider.Render(strings.Repeat("─", max(m.width-2, 10))) + "\n")
	b.WriteString(sHint.Render(fmt.Sprintf("[%d results]  ef=%d  k=%d  ↑↓ select  +/- ef  ^Q quit", len(m.results), m.ef, m.k)))
	return b.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
