package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pipewatch/pipewatch/pkg/bus"
	"github.com/pipewatch/pipewatch/pkg/pipeline"
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	activeStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	completedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	failedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	pendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// RunModel renders one generation run: the stage table on top, a scrolling
// event log below. It is a pure consumer of bus snapshots; cancellation is
// driven by the command that owns the stream client, via OnQuit.
type RunModel struct {
	width  int
	height int

	snapshot *bus.RunSnapshot
	logLines []string
	log      viewport.Model
	quitting bool

	// OnQuit runs once when the user asks to leave (q / ctrl-c).
	OnQuit func()
}

func NewRunModel(onQuit func()) RunModel {
	vp := viewport.New(80, 12)
	return RunModel{log: vp, OnQuit: onQuit}
}

func (m RunModel) Init() tea.Cmd { return nil }

func (m RunModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch v := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = v.Width, v.Height
		m.log.Width = v.Width
		h := v.Height - m.headerHeight()
		if h < 3 {
			h = 3
		}
		m.log.Height = h
		return m, nil
	case tea.KeyMsg:
		switch v.String() {
		case "q", "ctrl+c":
			if !m.quitting {
				m.quitting = true
				if m.OnQuit != nil {
					m.OnQuit()
				}
			}
			return m, tea.Quit
		default:
			var cmd tea.Cmd
			m.log, cmd = m.log.Update(msg)
			return m, cmd
		}
	case RunSnapshotMsg:
		snap := v.Snapshot
		m.snapshot = &snap
		return m, nil
	case RunEventMsg:
		m.logLines = append(m.logLines, formatEvent(v.Event))
		if len(m.logLines) > 500 {
			m.logLines = m.logLines[len(m.logLines)-500:]
		}
		atBottom := m.log.AtBottom()
		m.log.SetContent(strings.Join(m.logLines, "\n"))
		if atBottom {
			m.log.GotoBottom()
		}
		return m, nil
	default:
		return m, nil
	}
}

func (m RunModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("pipewatch"))
	if m.snapshot != nil && m.snapshot.RunID != "" {
		b.WriteString(dimStyle.Render("  run=" + m.snapshot.RunID))
	}
	b.WriteString("\n\n")

	if m.snapshot == nil {
		b.WriteString(dimStyle.Render("waiting for events…"))
		b.WriteString("\n")
		return b.String()
	}
	snap := m.snapshot

	for _, st := range snap.Stages {
		detail := ""
		if st.Iterations > 1 {
			detail = dimStyle.Render(fmt.Sprintf("×%d", st.Iterations))
		}
		b.WriteString(fmt.Sprintf("  %s %-12s %s\n", stageIcon(st.Status), st.Name, detail))
	}
	b.WriteString("\n")

	if len(snap.ActiveTools) > 0 {
		b.WriteString("  tools: " + activeStyle.Render(strings.Join(snap.ActiveTools, ", ")) + "\n")
	}
	if snap.Score > 0 {
		b.WriteString(fmt.Sprintf("  score: %.0f\n", snap.Score))
	}
	b.WriteString("  " + statusLine(snap) + "\n\n")

	b.WriteString(m.log.View())
	b.WriteString("\n" + dimStyle.Render("q quit · ↑/↓ scroll"))
	return b.String()
}

func (m RunModel) headerHeight() int {
	// Title, five stages, tools/score/status lines, padding, footer.
	return 12
}

func stageIcon(status pipeline.StageStatus) string {
	switch status {
	case pipeline.StageActive:
		return activeStyle.Render("●")
	case pipeline.StageCompleted:
		return completedStyle.Render("✓")
	case pipeline.StageFailed:
		return failedStyle.Render("✗")
	default:
		return pendingStyle.Render("○")
	}
}

func statusLine(snap *bus.RunSnapshot) string {
	switch {
	case snap.Cancelled:
		return dimStyle.Render("cancelled")
	case snap.Error != "":
		return failedStyle.Render("failed: " + snap.Error)
	case snap.IsRunning:
		extra := ""
		if snap.IsRefining {
			extra = fmt.Sprintf(" (refining, iteration %d)", snap.RefinementIterations)
		}
		return activeStyle.Render("running" + extra)
	default:
		return completedStyle.Render("completed in " + (time.Duration(snap.ElapsedMs) * time.Millisecond).String())
	}
}

func formatEvent(ev bus.RunEvent) string {
	ts := ev.At.Format("15:04:05")
	stage := ""
	if ev.Event.Stage != "" {
		stage = " stage=" + string(ev.Event.Stage)
	}
	return fmt.Sprintf("%s  %-22s seq=%d%s", dimStyle.Render(ts), ev.Event.Type, ev.Event.Seq, stage)
}
