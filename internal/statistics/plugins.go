package statistics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PluginConfigFile is the manifest read first from a plugin directory
const PluginConfigFile = "statistics-config.yaml"

// Manifest lists the statistics a plugin contributes. Implementations must already be
// registered with RegisterFactory; the manifest only binds descriptors to them.
type Manifest struct {
	Statistics []Descriptor `yaml:"statistics" json:"statistics"`
}

// ParseManifest decodes a manifest. JSON and JSON-with-comments are accepted for .json and
// .jsonc files, YAML otherwise.
func ParseManifest(name string, data []byte) (*Manifest, error) {
	var m Manifest
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	default:
		if err := yaml.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	}
	return &m, nil
}

// LoadPlugins registers the statistics declared by every manifest in dir.
//
// A missing or empty directory is not an error. A manifest or descriptor that fails to load is
// logged and skipped; the returned errors describe what was skipped.
func LoadPlugins(dir string, reg *Registry, logger *zap.Logger) (int, []error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("plugins", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("No plugins directory found. No plugin added")
			return 0, nil
		}
		return 0, []error{fmt.Errorf("failed to read plugins directory: %w", err)}
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json", ".jsonc":
			files = append(files, e.Name())
		}
	}
	// the well-known manifest wins name clashes by loading first
	sort.SliceStable(files, func(i, j int) bool {
		if files[i] == PluginConfigFile || files[j] == PluginConfigFile {
			return files[i] == PluginConfigFile
		}
		return files[i] < files[j]
	})

	if len(files) == 0 {
		logger.Warn("Plugins directory is empty. No plugin added")
		return 0, nil
	}

	var (
		loaded int
		errs   []error
	)
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("Skipping unreadable plugin manifest", zap.String("file", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
			continue
		}
		manifest, err := ParseManifest(name, data)
		if err != nil {
			logger.Error("Skipping invalid plugin manifest", zap.String("file", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
			continue
		}

		for _, d := range manifest.Statistics {
			if err := reg.Register(d); err != nil {
				logger.Error("Skipping plugin statistic", zap.String("file", name), zap.String("statistic", d.Name), zap.Error(err))
				errs = append(errs, fmt.Errorf("plugin %s: %w", name, err))
				continue
			}
			logger.Info("Adding plugin statistic", zap.String("file", name), zap.String("statistic", d.Name))
			loaded++
		}
	}
	return loaded, errs
}
