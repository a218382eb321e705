package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/sluice/runtime"
)

// maxDiagnostics bounds the diagnostics listed in the report view.
const maxDiagnostics = 8

// ReportModel summarizes a finished stream.
type ReportModel struct {
	report   *runtime.StreamReport
	width    int
	height   int
	quitting bool
}

// NewReportModel creates a report model.
func NewReportModel(report *runtime.StreamReport) ReportModel {
	return ReportModel{report: report}
}

// Init implements tea.Model.
func (m ReportModel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m ReportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case tea.KeyMsg:
		if key.Matches(msg, keys.Quit) {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ReportModel) View() string {
	if m.quitting {
		return ""
	}
	r := m.report
	if r == nil {
		return "No report available"
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Stream " + r.StreamID))
	b.WriteString("\n")

	outcome := string(r.Outcome)
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Outcome:"), OutcomeStyle(outcome).Render(outcome)))
	if r.Upstream != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Upstream:"), ValueStyle.Render(r.Upstream)))
	}
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Error:"), ErrorStyle.Render(r.Error)))
	}
	if r.Strategy != "" {
		b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Strategy:"), ValueStyle.Render(r.Strategy)))
	}
	b.WriteString(fmt.Sprintf("%s %s\n", LabelStyle.Render("Duration:"), ValueStyle.Render(fmt.Sprintf("%dms", r.DurationMs))))
	b.WriteString("\n")

	boxes := []string{
		renderStatBox("Events", r.EventCount, highlightColor),
		renderStatBox("Records", int64(len(r.Records)), successColor),
		renderStatBox("Diagnostics", int64(len(r.Diagnostics)), warningColor),
	}
	if p := r.Policy; p != nil {
		boxes = append(boxes, renderStatBox("Dropped", p.EventsDropped, errorColor))
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
	b.WriteString("\n")

	if len(r.Diagnostics) > 0 {
		b.WriteString("\n")
		b.WriteString(LabelStyle.Render("Discarded:"))
		b.WriteString("\n")
		for i, d := range r.Diagnostics {
			if i == maxDiagnostics {
				b.WriteString(fmt.Sprintf("  … %d more\n", len(r.Diagnostics)-maxDiagnostics))
				break
			}
			b.WriteString(fmt.Sprintf("  • %s at %d (%d bytes) %s\n", d.Kind, d.Offset, d.Size, d.Preview))
		}
	}

	b.WriteString(HelpStyle.Render("Press q or Ctrl+C to quit"))
	return b.String()
}

func renderStatBox(label string, value int64, color lipgloss.Color) string {
	boxStyle := StatBoxStyle.BorderForeground(color)
	valueStr := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	labelStr := StatLabelStyle.Render(label)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Center, valueStr, labelStr))
}

// RunReportTUI runs the stream report view.
func RunReportTUI(data any) error {
	report, ok := data.(*runtime.StreamReport)
	if !ok {
		return fmt.Errorf("stream report view expects *runtime.StreamReport, got %T", data)
	}
	p := tea.NewProgram(NewReportModel(report), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// RenderReportStatic renders the report view without a terminal program.
func RenderReportStatic(report *runtime.StreamReport) string {
	model := NewReportModel(report)
	model.width = 80
	model.height = 24
	return lipgloss.NewStyle().Padding(1, 2).Render(model.View())
}
