package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/studiowebux/searchmeter/internal/monitor"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
)

// Output formats
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"})
	subtleStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"})
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"})
)

// Summary is what the run command prints once the test stopped
type Summary struct {
	Run        *RunSummary           `json:"run,omitempty" yaml:"run,omitempty"`
	Executors  []stresstest.Status   `json:"executors" yaml:"executors"`
	Statistics []statistics.Snapshot `json:"statistics" yaml:"statistics"`
}

// RunSummary is the printable form of a run
type RunSummary struct {
	GUID      string        `json:"guid" yaml:"guid"`
	Name      string        `json:"name" yaml:"name"`
	Status    string        `json:"status" yaml:"status"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration_ns" yaml:"duration"`
	Issued    int64         `json:"issued" yaml:"issued"`
	Succeeded int64         `json:"succeeded" yaml:"succeeded"`
	Failed    int64         `json:"failed" yaml:"failed"`
}

// NewSummary assembles a summary; run may be nil
func NewSummary(run *stresstest.Run, statuses []stresstest.Status, snaps []statistics.Snapshot) Summary {
	s := Summary{Executors: statuses, Statistics: snaps}
	if run != nil {
		s.Run = runSummary(run)
	}
	return s
}

func runSummary(run *stresstest.Run) *RunSummary {
	return &RunSummary{
		GUID:      run.GUID,
		Name:      run.Name,
		Status:    run.Status,
		StartedAt: run.StartedAt,
		Duration:  run.Duration(),
		Issued:    run.TotalIssued,
		Succeeded: run.TotalSucceeded,
		Failed:    run.TotalFailed,
	}
}

// printSummary writes the summary in the requested format
func printSummary(w io.Writer, s Summary, format string) error {
	switch strings.ToLower(format) {
	case "", FormatText:
		_, err := io.WriteString(w, formatSummaryText(s))
		return err
	default:
		return writeStructured(w, s, format)
	}
}

// writeStructured encodes v as json or yaml
func writeStructured(w io.Writer, v any, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode json: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case FormatYAML:
		data, err := yaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	}
	return fmt.Errorf("unknown output format %q (expected text, json or yaml)", format)
}

func formatSummaryText(s Summary) string {
	var b strings.Builder
	if r := s.Run; r != nil {
		b.WriteString(headingStyle.Render("Run "+r.GUID) + "\n")
		fmt.Fprintf(&b, "  name      %s\n", r.Name)
		fmt.Fprintf(&b, "  status    %s\n", r.Status)
		fmt.Fprintf(&b, "  duration  %s\n", r.Duration.Round(time.Millisecond))
		failed := fmt.Sprintf("%d", r.Failed)
		if r.Failed > 0 {
			failed = failStyle.Render(failed)
		}
		fmt.Fprintf(&b, "  issued    %d (ok %d, failed %s)\n", r.Issued, r.Succeeded, failed)
		if secs := r.Duration.Seconds(); secs > 0 {
			fmt.Fprintf(&b, "  rate      %.2f ops/s\n", float64(r.Issued)/secs)
		}
		b.WriteString("\n")
	} else {
		b.WriteString(subtleStyle.Render("No run was started") + "\n\n")
	}

	b.WriteString(headingStyle.Render("Executors") + "\n")
	b.WriteString(monitor.RenderStatus(s.Executors))
	b.WriteString("\n")
	b.WriteString(monitor.RenderSnapshots(s.Statistics))
	return b.String()
}
