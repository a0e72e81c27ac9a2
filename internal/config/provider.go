package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/studiowebux/searchmeter/internal/solr"
	"github.com/studiowebux/searchmeter/internal/source"
	"github.com/studiowebux/searchmeter/internal/statistics"
	"github.com/studiowebux/searchmeter/internal/stresstest"
	"github.com/studiowebux/searchmeter/internal/types"
)

// FileProvider re-reads a configuration file on every scope restart, so edits to the file
// are picked up by the next restart.
type FileProvider struct {
	Path   string
	Logger *zap.Logger

	// Last is the configuration of the most recent successful Plan
	Last *File
}

// Plan implements stresstest.PlanProvider
func (p *FileProvider) Plan() (*stresstest.Plan, error) {
	cfg, err := Load(p.Path)
	if err != nil {
		return nil, err
	}
	plan, err := cfg.Plan(p.Logger)
	if err != nil {
		return nil, err
	}
	p.Last = cfg
	return plan, nil
}

// Plan turns the configuration into a test plan. Sources are opened lazily by the scope so
// that every restart replays them from the start.
func (f *File) Plan(logger *zap.Logger) (*stresstest.Plan, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	solrCfg := f.Solr
	if solrCfg.MaxConns == 0 {
		solrCfg.MaxConns = f.TotalWorkers()
	}
	client, err := solr.NewClient(solrCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create solr client: %w", err)
	}

	plan := &stresstest.Plan{
		Name:         f.Name,
		DrainTimeout: f.DrainTimeout,
		Policy:       f.Classify,
		Statistics:   f.descriptors(logger),
		Executors: []stresstest.ExecutorPlan{
			{Kind: types.KindQuery, Config: f.Query.ExecutorConfig, Issuer: client, Source: f.querySource},
			{Kind: types.KindUpdate, Config: f.Update.ExecutorConfig, Issuer: client, Source: f.updateSource},
			{Kind: types.KindOptimize, Config: f.Optimize.ExecutorConfig, Issuer: client, Source: f.optimizeSource},
		},
	}
	return plan, nil
}

// descriptors returns the configured statistics (or the defaults) followed by the plugin
// statistics. Name clashes are left for the registry to report.
func (f *File) descriptors(logger *zap.Logger) []statistics.Descriptor {
	base := f.Statistics
	if len(base) == 0 {
		base = statistics.DefaultDescriptors()
	}
	descriptors := append([]statistics.Descriptor(nil), base...)

	dir := f.ResolvedPluginsDir()
	if dir == "" {
		return descriptors
	}
	scratch := statistics.NewRegistry()
	loaded, errs := statistics.LoadPlugins(dir, scratch, logger)
	for _, err := range errs {
		logger.Warn("Plugin skipped", zap.Error(err))
	}
	if loaded > 0 {
		logger.Info("Plugins loaded", zap.String("dir", dir), zap.Int("statistics", loaded))
	}
	return append(descriptors, scratch.Descriptors()...)
}

func (f *File) querySource() (source.Source, error) {
	if f.Query.QueryFile != "" {
		return source.NewQueryFile(ResolveRelative(f.path, f.Query.QueryFile), f.Query.Order, f.Query.Repeat)
	}
	payloads, err := source.ReadQueries(strings.NewReader(strings.Join(f.Query.Queries, "\n")))
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, errors.New("no queries configured")
	}
	return source.NewList(payloads, f.Query.Order, f.Query.Repeat), nil
}

func (f *File) updateSource() (source.Source, error) {
	batch := f.Update.BatchSize
	if batch <= 0 {
		batch = 1
	}
	if f.Update.DocumentFile != "" {
		return source.NewDocumentFile(ResolveRelative(f.path, f.Update.DocumentFile), batch, f.Update.Repeat)
	}
	if f.Update.Synthetic != nil {
		return source.NewSynthetic(batch, f.Update.Synthetic.Fields, f.Update.Synthetic.Vocabulary)
	}
	return nil, errors.New("no documents configured")
}

func (f *File) optimizeSource() (source.Source, error) {
	action := f.Optimize.Action
	if action == "" {
		action = types.ActionOptimize
	}
	return source.NewCommand(action), nil
}
