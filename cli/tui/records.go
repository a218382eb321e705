package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/types"
)

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
	Up   key.Binding
	Down key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Up: key.NewBinding(
		key.WithKeys("up", "k"),
		key.WithHelp("↑/k", "previous"),
	),
	Down: key.NewBinding(
		key.WithKeys("down", "j"),
		key.WithHelp("↓/j", "next"),
	),
}

// RecordsModel lists recovered records with a detail pane for the
// selected one.
type RecordsModel struct {
	records  []types.Candidate
	cursor   int
	width    int
	height   int
	quitting bool
}

// NewRecordsModel creates a records model.
func NewRecordsModel(records []types.Candidate) RecordsModel {
	return RecordsModel{records: records}
}

// Init implements tea.Model.
func (m RecordsModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m RecordsModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.cursor > 0 {
				m.cursor--
			}
		case key.Matches(msg, keys.Down):
			if m.cursor < len(m.records)-1 {
				m.cursor++
			}
		}
	}
	return m, nil
}

// Selected returns the highlighted record, if any.
func (m RecordsModel) Selected() (types.Candidate, bool) {
	if len(m.records) == 0 {
		return types.Candidate{}, false
	}
	return m.records[m.cursor], true
}

// View implements tea.Model.
func (m RecordsModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render(fmt.Sprintf("Records (%d)", len(m.records))))
	b.WriteString("\n")

	if len(m.records) == 0 {
		b.WriteString(ValueStyle.Render("No records recovered."))
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
		return b.String()
	}

	for i, c := range m.records {
		line := fmt.Sprintf("%-24s %s", c.Handle(), c.Role)
		if i == m.cursor {
			b.WriteString(SelectedStyle.Render("› " + line))
		} else {
			b.WriteString(ValueStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}

	selected, _ := m.Selected()
	b.WriteString(renderCandidate(selected))
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("↑/↓ to move, q or Ctrl+C to quit"))
	return b.String()
}

func renderCandidate(c types.Candidate) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(c.Handle()))
	b.WriteString("\n")

	rows := [][]string{
		{"Name", c.Name},
		{"GitHub", c.GithubUsername},
		{"Profile", c.GithubProfileURL},
		{"Role", c.Role},
		{"Experience", c.ExperienceLevel},
		{"Location", c.Location},
		{"Language", c.PrimaryLanguage},
		{"Skills", strings.Join(c.Skills, ", ")},
		{"Email", c.Email},
	}
	if c.MatchScore != nil {
		rows = append(rows, []string{"Match Score", fmt.Sprintf("%.2f", *c.MatchScore)})
	}
	if s := c.GithubStats; s != nil {
		rows = append(rows, []string{"GitHub Stats", fmt.Sprintf("%d repos, %d stars, %d followers", s.Repos, s.Stars, s.Followers)})
	}

	for _, row := range rows {
		if row[1] == "" {
			continue
		}
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render(row[0]+":"), ValueStyle.Render(row[1])))
	}

	if len(c.MatchReasons) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Reasons:"))
		b.WriteString("\n")
		for _, r := range c.MatchReasons {
			b.WriteString(fmt.Sprintf("  • %s\n", ValueStyle.Render(r)))
		}
	}

	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

// RunRecordsTUI runs the records browser.
func RunRecordsTUI(data any) error {
	records, ok := data.([]types.Candidate)
	if !ok {
		return fmt.Errorf("records view expects []types.Candidate, got %T", data)
	}
	p := tea.NewProgram(NewRecordsModel(records), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderRecordsStatic renders the records view without a terminal program.
func RenderRecordsStatic(records []types.Candidate) string {
	model := NewRecordsModel(records)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
