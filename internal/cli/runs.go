package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/studiowebux/searchmeter/internal/config"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
)

// StatisticsOptions are the flags of the statistics command
type StatisticsOptions struct {
	Options
	OutputFormat string
}

// statisticRow is one descriptor as listed by the statistics command
type statisticRow struct {
	Name           string   `json:"name" yaml:"name"`
	Implementation string   `json:"implementation" yaml:"implementation"`
	Kinds          []string `json:"kinds" yaml:"kinds"`
	Active         bool     `json:"active" yaml:"active"`
	View           bool     `json:"view" yaml:"view"`
}

// Statistics lists the statistics the configuration (and its plugins) would instantiate
func Statistics(opts StatisticsOptions) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load(config.ResolveConfigPath(opts.ConfigPath))
	if err != nil {
		return err
	}
	plan, err := cfg.Plan(nil)
	if err != nil {
		return err
	}
	return printStatistics(os.Stdout, plan.Statistics, statistics.NewRegistry().Implementations(), opts.OutputFormat)
}

func printStatistics(w io.Writer, descriptors []statistics.Descriptor, implementations []string, format string) error {
	rows := make([]statisticRow, len(descriptors))
	for i, d := range descriptors {
		kinds := make([]string, len(d.Kinds))
		for j, k := range d.Kinds {
			kinds[j] = k.String()
		}
		rows[i] = statisticRow{Name: d.Name, Implementation: d.Implementation, Kinds: kinds, Active: d.Active, View: d.HasView}
	}

	if format != "" && format != FormatText {
		return writeStructured(w, map[string]any{"statistics": rows, "implementations": implementations}, format)
	}

	t := newTable("NAME", "IMPLEMENTATION", "KINDS", "ACTIVE", "VIEW")
	for _, r := range rows {
		t.Row(r.Name, r.Implementation, strings.Join(r.Kinds, ","), strconv.FormatBool(r.Active), strconv.FormatBool(r.View))
	}
	_, err := fmt.Fprintf(w, "%s\n\n%s %s\n", t.Render(), subtleStyle.Render("implementations:"), strings.Join(implementations, ", "))
	return err
}

// newTable builds a borderless table with a bold header row
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		BorderTop(false).
		BorderBottom(false).
		BorderHeader(false).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			return tableCellStyle
		})
}

var (
	tableHeaderStyle = lipgloss.NewStyle().Bold(true).PaddingRight(2)
	tableCellStyle   = lipgloss.NewStyle().PaddingRight(2)
)

// RunsOptions are the flags of the runs commands
type RunsOptions struct {
	Options
	Limit        int
	OutputFormat string
}

func openStore(opts Options) (*stresstest.Manager, error) {
	if err := config.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load(config.ResolveConfigPath(opts.ConfigPath))
	if err != nil {
		return nil, err
	}
	return openManager(cfg)
}

// ListRuns prints the persisted runs, most recent first
func ListRuns(opts RunsOptions) error {
	mgr, err := openStore(opts.Options)
	if err != nil {
		return err
	}
	defer mgr.Close()

	runs, err := mgr.ListRuns(opts.Limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	return printRuns(os.Stdout, runs, opts.OutputFormat)
}

func printRuns(w io.Writer, runs []*stresstest.Run, format string) error {
	if format != "" && format != FormatText {
		out := make([]*RunSummary, len(runs))
		for i, r := range runs {
			out[i] = runSummary(r)
		}
		return writeStructured(w, out, format)
	}
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded")
		return err
	}

	t := newTable("GUID", "NAME", "STATUS", "STARTED", "DURATION", "ISSUED", "OK", "FAILED")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		t.Row(r.GUID, r.Name, r.Status, r.StartedAt.Local().Format(time.DateTime), duration,
			strconv.FormatInt(r.TotalIssued, 10), strconv.FormatInt(r.TotalSucceeded, 10), strconv.FormatInt(r.TotalFailed, 10))
	}
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

// findRun resolves a GUID, or asks for one when none is given and stdin is a terminal
func findRun(mgr *stresstest.Manager, guid string) (*stresstest.Run, error) {
	if guid == "" {
		if !isInteractive() {
			return nil, errors.New("a run guid is required")
		}
		runs, err := mgr.ListRuns(50)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		return pickRun(runs)
	}
	run, err := mgr.GetRunByGUID(guid)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s not found", guid)
	}
	return run, err
}

// ShowRun prints a run with the statistic snapshots saved when it stopped
func ShowRun(opts RunsOptions, guid string) error {
	mgr, err := openStore(opts.Options)
	if err != nil {
		return err
	}
	defer mgr.Close()

	run, err := findRun(mgr, guid)
	if err != nil {
		return err
	}
	snaps, err := mgr.GetSnapshots(run.ID)
	if err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}
	return printSummary(os.Stdout, NewSummary(run, nil, snaps), opts.OutputFormat)
}

// DeleteRun removes a run and everything recorded for it
func DeleteRun(opts RunsOptions, guid string) error {
	mgr, err := openStore(opts.Options)
	if err != nil {
		return err
	}
	defer mgr.Close()

	run, err := findRun(mgr, guid)
	if err != nil {
		return err
	}
	if err := mgr.DeleteRun(run.ID); err != nil {
		return err
	}
	fmt.Printf("Deleted run %s\n", run.GUID)
	return nil
}
