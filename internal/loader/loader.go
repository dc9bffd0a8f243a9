// Package loader discovers plugins on disk and validates their manifests.
// Discovery walks the configured roots depth-limited, parses plugin.json
// manifests under hard size and field limits, and hands DiscoveredPlugin
// records to the lifecycle manager for construction. Errors on one
// candidate never abort its siblings.
package loader

import (
	"context"
	"encoding/json"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// manifestName is the manifest file looked for in each candidate directory.
const manifestName = "plugin.json"

// raycastManifestName is the third-party extension manifest the adapter
// understands.
const raycastManifestName = "package.json"

// Field length limits applied during validation.
const (
	maxNameLen        = 256
	maxVersionLen     = 64
	maxDescriptionLen = 4096
	maxFieldLen       = 1024
	maxKeywords       = 64
	maxCommands       = 128
)

// Config tunes discovery.
type Config struct {
	Roots           []string
	MaxDepth        int   // default 6
	ManifestMaxSize int64 // default 1 MiB
	BatchSize       int   // default 16
}

func (c *Config) fillDefaults() {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 6
	}
	if c.ManifestMaxSize <= 0 {
		c.ManifestMaxSize = 1 << 20
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
}

// DiscoveredPlugin carries the minimal metadata needed to construct a
// runtime instance.
type DiscoveredPlugin struct {
	ID           string
	Kind         plugin.Kind
	Dir          string
	ManifestPath string
	// EntryPath is the runtime artifact: plugin.wasm for wasm plugins,
	// index.js for javascript and adapted raycast extensions. Empty for
	// native plugins, which resolve against the builtin registry.
	EntryPath string
	Manifest  plugin.Manifest

	DiscoveredAt time.Time
}

// Scanner walks plugin roots and validates candidates.
type Scanner struct {
	cfg    Config
	logger *slog.Logger
}

// NewScanner creates a scanner.
func NewScanner(cfg Config, logger *slog.Logger) *Scanner {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cfg: cfg, logger: logger}
}

// Discover scans all roots. Candidate validation runs in parallel batches;
// a failing candidate is logged and skipped.
func (s *Scanner) Discover(ctx context.Context) ([]DiscoveredPlugin, error) {
	var candidates []string
	for _, root := range s.cfg.Roots {
		dirs, err := s.candidateDirs(root)
		if err != nil {
			s.logger.Warn("plugin root scan failed", "root", root, "error", err)
			continue
		}
		candidates = append(candidates, dirs...)
	}

	var (
		mu    sync.Mutex
		found []DiscoveredPlugin
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.BatchSize)

	for _, dir := range candidates {
		dir := dir
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			dp, err := s.Validate(dir)
			if err != nil {
				s.logger.Warn("plugin candidate rejected", "dir", dir, "error", err)
				return nil // sibling errors do not abort the batch
			}
			mu.Lock()
			found = append(found, dp)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return found, err
	}
	return found, nil
}

// candidateDirs returns directories under root containing a manifest,
// depth-limited and guarded against escaping the scan root.
func (s *Scanner) candidateDirs(root string) ([]string, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errs.InvalidInput("plugin root")
	}
	if _, err := os.Stat(absRoot); os.IsNotExist(err) {
		return nil, nil
	}

	var dirs []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // unreadable subtree: skip, keep walking siblings
		}
		if !d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(absRoot, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return fs.SkipDir
		}
		depth := 0
		if rel != "." {
			depth = strings.Count(rel, string(filepath.Separator)) + 1
		}
		if depth > s.cfg.MaxDepth {
			return fs.SkipDir
		}

		// Symlinked directories could escape the root; skip them.
		if d.Type()&fs.ModeSymlink != 0 {
			return fs.SkipDir
		}

		if fileExists(filepath.Join(path, manifestName)) ||
			fileExists(filepath.Join(path, raycastManifestName)) {
			dirs = append(dirs, path)
			return fs.SkipDir // plugins do not nest
		}
		return nil
	})
	return dirs, err
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate parses and validates one candidate directory.
func (s *Scanner) Validate(dir string) (DiscoveredPlugin, error) {
	manifestPath := filepath.Join(dir, manifestName)
	if !fileExists(manifestPath) {
		rcPath := filepath.Join(dir, raycastManifestName)
		if fileExists(rcPath) {
			return s.validateRaycast(dir, rcPath)
		}
		return DiscoveredPlugin{}, errs.NotFound("manifest in " + dir)
	}

	m, err := s.readManifest(manifestPath)
	if err != nil {
		return DiscoveredPlugin{}, err
	}
	if err := ValidateManifest(m); err != nil {
		return DiscoveredPlugin{}, err
	}

	dp := DiscoveredPlugin{
		ID:           m.ID,
		Kind:         m.Kind,
		Dir:          dir,
		ManifestPath: manifestPath,
		Manifest:     *m,
		DiscoveredAt: time.Now(),
	}

	switch m.Kind {
	case plugin.KindWasm:
		dp.EntryPath = filepath.Join(dir, "plugin.wasm")
		if !fileExists(dp.EntryPath) {
			return DiscoveredPlugin{}, errs.NotFound("plugin.wasm in " + dir)
		}
	case plugin.KindJavaScript:
		dp.EntryPath = filepath.Join(dir, "index.js")
		if !fileExists(dp.EntryPath) {
			return DiscoveredPlugin{}, errs.NotFound("index.js in " + dir)
		}
	case plugin.KindNative:
		// Resolved against the builtin registry at construction time.
	case plugin.KindRaycast:
		// A plugin.json claiming the raycast kind still loads through the
		// javascript runtime.
		dp.Kind = plugin.KindJavaScript
		dp.EntryPath = filepath.Join(dir, "index.js")
		if !fileExists(dp.EntryPath) {
			return DiscoveredPlugin{}, errs.NotFound("index.js in " + dir)
		}
	}
	return dp, nil
}

// readManifest reads a manifest enforcing the size cap before parsing.
func (s *Scanner) readManifest(path string) (*plugin.Manifest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errs.PlatformFailure("manifest stat", err)
	}
	if info.Size() > s.cfg.ManifestMaxSize {
		return nil, errs.InvalidInput("manifest_size")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.PlatformFailure("manifest read", err)
	}
	var m plugin.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errs.InvalidInput("manifest JSON")
	}
	return &m, nil
}

// ValidateManifest applies the structural and field-length rules.
func ValidateManifest(m *plugin.Manifest) error {
	if err := capability.ValidatePluginID(m.ID); err != nil {
		return err
	}
	if m.Name == "" || len(m.Name) > maxNameLen {
		return errs.InvalidInput("name")
	}
	if m.Version == "" || len(m.Version) > maxVersionLen {
		return errs.InvalidInput("version")
	}
	if len(m.Description) > maxDescriptionLen {
		return errs.InvalidInput("description")
	}
	if !m.Kind.Valid() {
		return errs.InvalidInput("kind")
	}
	for _, f := range []string{m.Author, m.License, m.Homepage, m.Repository, m.Icon} {
		if len(f) > maxFieldLen {
			return errs.InvalidInput("field length")
		}
	}
	if len(m.Keywords) > maxKeywords {
		return errs.InvalidInput("keywords")
	}
	if len(m.Commands) > maxCommands {
		return errs.InvalidInput("commands")
	}
	seen := make(map[string]bool, len(m.Commands))
	for _, c := range m.Commands {
		if c.ID == "" || len(c.ID) > maxFieldLen || len(c.Title) > maxFieldLen {
			return errs.InvalidInput("command")
		}
		if seen[c.ID] {
			return errs.InvalidInput("duplicate command id")
		}
		seen[c.ID] = true
	}
	return validateConfiguration(m.Configuration)
}
