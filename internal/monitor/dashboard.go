package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/studiowebux/searchmeter/internal/keybinds"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
)

// Adaptive color definitions for light/dark terminal support
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#b8860b", Dark: "#ffff00"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}
)

// Style definitions
var (
	styleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	styleSection = lipgloss.NewStyle().
			Bold(true)

	styleSuccess = lipgloss.NewStyle().
			Foreground(colorGreen)

	styleError = lipgloss.NewStyle().
			Foreground(colorRed)

	styleWarning = lipgloss.NewStyle().
			Foreground(colorYellow)

	styleSubtle = lipgloss.NewStyle().
			Foreground(colorGray)
)

type tickMsg time.Time

type actionDoneMsg struct {
	action string
	err    error
}

// Dashboard is a bubbletea model showing the statistics of a scope.
// Default keys: s start, x stop, r restart, q quit.
type Dashboard struct {
	scope    Scope
	keys     *keybinds.Registry
	refresh  time.Duration
	viewport viewport.Model
	width    int
	height   int
	ready    bool

	busy    string
	status  string
	lastErr error
}

// NewDashboard creates the dashboard model; nil keys means the default bindings
func NewDashboard(scope Scope, refresh time.Duration, keys *keybinds.Registry) *Dashboard {
	if refresh <= 0 {
		refresh = time.Second
	}
	if keys == nil {
		keys = keybinds.Defaults()
	}
	return &Dashboard{scope: scope, refresh: refresh, keys: keys}
}

// RunDashboard runs the dashboard in the alternate screen until the user quits
func RunDashboard(scope Scope, refresh time.Duration, keys *keybinds.Registry) error {
	p := tea.NewProgram(NewDashboard(scope, refresh, keys), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model
func (d *Dashboard) Init() tea.Cmd {
	return d.tick()
}

// Update implements tea.Model
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width, d.height = msg.Width, msg.Height
		height := max(msg.Height-4, 1)
		if !d.ready {
			d.viewport = viewport.New(msg.Width, height)
			d.ready = true
		} else {
			d.viewport.Width = msg.Width
			d.viewport.Height = height
		}
		d.viewport.SetContent(d.renderBody())
		return d, nil

	case tickMsg:
		if d.ready {
			d.viewport.SetContent(d.renderBody())
		}
		return d, d.tick()

	case actionDoneMsg:
		d.busy = ""
		d.lastErr = msg.err
		if msg.err == nil {
			d.status = msg.action + " done"
		} else {
			d.status = ""
		}
		if d.ready {
			d.viewport.SetContent(d.renderBody())
		}
		return d, nil

	case tea.KeyMsg:
		action, ok := d.keys.Match(msg.String())
		if !ok {
			return d, nil
		}
		return d, d.handleAction(action)
	}

	var cmd tea.Cmd
	d.viewport, cmd = d.viewport.Update(msg)
	return d, cmd
}

func (d *Dashboard) handleAction(action keybinds.Action) tea.Cmd {
	switch action {
	case keybinds.ActionQuit:
		return tea.Quit
	case keybinds.ActionStart:
		return d.action("start", d.scope.Start)
	case keybinds.ActionStop:
		return d.action("stop", d.scope.Stop)
	case keybinds.ActionRestart:
		return d.action("restart", d.scope.Restart)
	}
	if !d.ready {
		return nil
	}
	switch action {
	case keybinds.ActionScrollUp:
		d.viewport.LineUp(1)
	case keybinds.ActionScrollDown:
		d.viewport.LineDown(1)
	case keybinds.ActionPageUp:
		d.viewport.ViewUp()
	case keybinds.ActionPageDown:
		d.viewport.ViewDown()
	case keybinds.ActionGoToTop:
		d.viewport.GotoTop()
	case keybinds.ActionGoToBottom:
		d.viewport.GotoBottom()
	}
	return nil
}

// action runs a lifecycle call off the UI goroutine, one at a time
func (d *Dashboard) action(name string, fn func(context.Context) error) tea.Cmd {
	if d.busy != "" {
		return nil
	}
	d.busy = name
	d.status = name + "..."
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
		defer cancel()
		return actionDoneMsg{action: name, err: fn(ctx)}
	}
}

// View implements tea.Model
func (d *Dashboard) View() string {
	if !d.ready {
		return "Loading..."
	}
	return d.renderHeader() + "\n" + d.viewport.View() + "\n" + d.renderFooter()
}

func (d *Dashboard) renderHeader() string {
	state := styleSubtle.Render("idle")
	if d.scope.IsRunning() {
		state = styleSuccess.Render("running")
	}
	header := fmt.Sprintf("%s  %s  generation %d", styleTitle.Render("searchmeter"), state, d.scope.Generation())
	if run := d.scope.Run(); run != nil {
		header += styleSubtle.Render(fmt.Sprintf("  run %s (%s, %s)", run.GUID, run.Status, run.Duration().Round(time.Second)))
	}
	return header
}

func (d *Dashboard) renderFooter() string {
	help := styleSubtle.Render(d.keys.Help(keybinds.ActionStart, keybinds.ActionStop, keybinds.ActionRestart, keybinds.ActionQuit))
	switch {
	case d.lastErr != nil:
		return styleError.Render("Error: "+d.lastErr.Error()) + "\n" + help
	case d.status != "":
		return styleWarning.Render(d.status) + "\n" + help
	}
	return "\n" + help
}

func (d *Dashboard) renderBody() string {
	var b strings.Builder

	if be := d.scope.BuildError(); be != nil {
		b.WriteString(styleSection.Render("Build errors") + "\n")
		for _, ce := range be.Errors {
			style := styleWarning
			if ce.Fatal {
				style = styleError
			}
			b.WriteString(style.Render("  "+ce.Error()) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(styleSection.Render("Executors") + "\n")
	b.WriteString(RenderStatus(d.scope.Status()))
	b.WriteString("\n")

	b.WriteString(RenderSnapshots(d.scope.Statistics().Snapshots()))
	return b.String()
}

// RenderStatus renders one line per executor
func RenderStatus(statuses []stresstest.Status) string {
	if len(statuses) == 0 {
		return styleSubtle.Render("  no executor enabled") + "\n"
	}
	var b strings.Builder
	for _, st := range statuses {
		state := styleSubtle.Render("stopped")
		if st.Running {
			state = styleSuccess.Render("running")
		}
		failed := fmt.Sprintf("%d failed", st.Failed)
		if st.Failed > 0 {
			failed = styleError.Render(failed)
		}
		fmt.Fprintf(&b, "  %-9s %s  workers %d/%d  issued %d  ok %d  %s\n",
			st.Kind, state, st.ActiveWorkers, st.Workers, st.Issued, st.Succeeded, failed)
	}
	return b.String()
}

// RenderSnapshots renders the statistics that have a view. Others are skipped.
func RenderSnapshots(snaps []statistics.Snapshot) string {
	var b strings.Builder
	for _, snap := range snaps {
		if !snap.HasView {
			continue
		}
		kinds := make([]string, len(snap.Kinds))
		for i, k := range snap.Kinds {
			kinds[i] = k.String()
		}
		b.WriteString(styleSection.Render(snap.Name) + styleSubtle.Render(" ("+strings.Join(kinds, ", ")+")") + "\n")
		if len(snap.Entries) == 0 {
			b.WriteString(styleSubtle.Render("  no data yet") + "\n\n")
			continue
		}
		width := 0
		for _, e := range snap.Entries {
			width = max(width, len(e.Label))
		}
		for _, e := range snap.Entries {
			fmt.Fprintf(&b, "  %-*s %s\n", width, e.Label, formatValue(e))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatValue(e statistics.Entry) string {
	var v string
	if e.Value == float64(int64(e.Value)) {
		v = fmt.Sprintf("%d", int64(e.Value))
	} else {
		v = fmt.Sprintf("%.2f", e.Value)
	}
	if e.Unit != "" {
		v += " " + e.Unit
	}
	return v
}
