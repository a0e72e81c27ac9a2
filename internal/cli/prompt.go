package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/searchmeter/internal/stresstest"
)

var (
	pickerTitleStyle = lipgloss.NewStyle().MarginLeft(2).Bold(true)
	pickerRowStyle   = lipgloss.NewStyle().PaddingLeft(4)
	pickerCursor     = lipgloss.NewStyle().PaddingLeft(2).Foreground(lipgloss.Color("170"))
	pickerMetaStyle  = lipgloss.NewStyle().PaddingLeft(6).Foreground(lipgloss.Color("241"))
	pickerHelpStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).MarginTop(1).MarginLeft(2)

	runStatusStyles = map[string]lipgloss.Style{
		stresstest.RunStatusRunning:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		stresstest.RunStatusCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		stresstest.RunStatusCancelled: lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

var errSelectionCancelled = errors.New("selection cancelled")

// isInteractive reports whether stdin is a terminal
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}

// runItem adapts a run to list.Item
type runItem struct {
	run *stresstest.Run
}

func (i runItem) FilterValue() string {
	return i.run.GUID + " " + i.run.Name + " " + i.run.Status
}

// pickerModel lets the user choose one run
type pickerModel struct {
	list   list.Model
	chosen *stresstest.Run
	done   bool
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.list.SetSize(msg.Width, min(msg.Height-2, runPickerHeight))
		return m, nil

	case tea.KeyMsg:
		if m.list.FilterState() == list.Filtering {
			break
		}
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.done = true
			return m, tea.Quit
		case "enter":
			if item, ok := m.list.SelectedItem().(runItem); ok {
				m.chosen = item.run
			}
			m.done = true
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m pickerModel) View() string {
	if m.done {
		return ""
	}
	return m.list.View() + "\n" + pickerHelpStyle.Render("↑/↓ move • / filter • enter select • q cancel")
}

const runPickerHeight = 16

// pickRun shows the runs in a filterable list and returns the chosen one
func pickRun(runs []*stresstest.Run) (*stresstest.Run, error) {
	if len(runs) == 0 {
		return nil, errors.New("no runs recorded")
	}

	items := make([]list.Item, 0, len(runs))
	for _, r := range runs {
		items = append(items, runItem{run: r})
	}

	l := list.New(items, runDelegate{}, 100, runPickerHeight)
	l.Title = fmt.Sprintf("Runs (%d)", len(runs))
	l.Styles.Title = pickerTitleStyle
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)

	final, err := tea.NewProgram(pickerModel{list: l}).Run()
	if err != nil {
		return nil, fmt.Errorf("run picker failed: %w", err)
	}
	if chosen := final.(pickerModel).chosen; chosen != nil {
		return chosen, nil
	}
	return nil, errSelectionCancelled
}

// runDelegate renders a run on two lines: name and status, then guid and totals
type runDelegate struct{}

func (runDelegate) Height() int                         { return 2 }
func (runDelegate) Spacing() int                        { return 0 }
func (runDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (runDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	ri, ok := item.(runItem)
	if !ok {
		return
	}
	r := ri.run

	status := r.Status
	if style, ok := runStatusStyles[r.Status]; ok {
		status = style.Render(r.Status)
	}
	head := fmt.Sprintf("%s  %s  %s", r.StartedAt.Local().Format(time.DateTime), r.Name, status)
	if index == m.Index() {
		head = pickerCursor.Render("> " + head)
	} else {
		head = pickerRowStyle.Render(head)
	}

	meta := pickerMetaStyle.Render(fmt.Sprintf("%s  %d issued  %d ok  %d failed  %s",
		r.GUID, r.TotalIssued, r.TotalSucceeded, r.TotalFailed, r.Duration().Round(time.Millisecond)))

	fmt.Fprint(w, head+"\n"+meta)
}
