package loader

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// raycastSchema is the shape we require of a third-party extension manifest
// before adapting it. Anything failing this gate is rejected up front with
// a field-level message instead of surfacing as a half-adapted plugin.
const raycastSchema = `{
	"type": "object",
	"required": ["name", "title", "commands"],
	"properties": {
		"name":        {"type": "string", "minLength": 1, "maxLength": 256},
		"title":       {"type": "string", "minLength": 1, "maxLength": 256},
		"description": {"type": "string"},
		"author":      {"type": "string"},
		"icon":        {"type": "string"},
		"license":     {"type": "string"},
		"version":     {"type": "string"},
		"commands": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "title"],
				"properties": {
					"name":        {"type": "string", "minLength": 1},
					"title":       {"type": "string"},
					"subtitle":    {"type": "string"},
					"description": {"type": "string"},
					"mode":        {"type": "string", "enum": ["view", "no-view", "menu-bar"]},
					"keywords":    {"type": "array", "items": {"type": "string"}},
					"interval":    {"type": "string"}
				}
			}
		},
		"preferences": {"type": "array"}
	}
}`

// raycastManifest mirrors the fields of a Raycast extension package.json we
// adapt.
type raycastManifest struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Icon        string `json:"icon"`
	License     string `json:"license"`
	Version     string `json:"version"`
	Commands    []struct {
		Name        string   `json:"name"`
		Title       string   `json:"title"`
		Subtitle    string   `json:"subtitle"`
		Description string   `json:"description"`
		Icon        string   `json:"icon"`
		Mode        string   `json:"mode"`
		Keywords    []string `json:"keywords"`
		Interval    string   `json:"interval"`
	} `json:"commands"`
	Preferences []struct {
		Name        string   `json:"name"`
		Title       string   `json:"title"`
		Description string   `json:"description"`
		Type        string   `json:"type"`
		Required    bool     `json:"required"`
		Default     any      `json:"default"`
		Placeholder string   `json:"placeholder"`
		Data        []string `json:"data"`
	} `json:"preferences"`
}

// validateRaycast adapts a third-party extension manifest into the native
// schema.
func (s *Scanner) validateRaycast(dir, manifestPath string) (DiscoveredPlugin, error) {
	info, err := os.Stat(manifestPath)
	if err != nil {
		return DiscoveredPlugin{}, errs.PlatformFailure("manifest stat", err)
	}
	if info.Size() > s.cfg.ManifestMaxSize {
		return DiscoveredPlugin{}, errs.InvalidInput("manifest_size")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return DiscoveredPlugin{}, errs.PlatformFailure("manifest read", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(raycastSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return DiscoveredPlugin{}, errs.InvalidInput("raycast manifest JSON")
	}
	if !result.Valid() {
		return DiscoveredPlugin{}, errs.InvalidInput("raycast manifest: " + result.Errors()[0].String())
	}

	var rc raycastManifest
	if err := json.Unmarshal(data, &rc); err != nil {
		return DiscoveredPlugin{}, errs.InvalidInput("raycast manifest JSON")
	}

	m := adaptRaycast(rc)
	if err := ValidateManifest(&m); err != nil {
		return DiscoveredPlugin{}, err
	}

	entry := filepath.Join(dir, "index.js")
	if !fileExists(entry) {
		return DiscoveredPlugin{}, errs.NotFound("index.js in " + dir)
	}

	return DiscoveredPlugin{
		ID:           m.ID,
		Kind:         plugin.KindJavaScript,
		Dir:          dir,
		ManifestPath: manifestPath,
		EntryPath:    entry,
		Manifest:     m,
		DiscoveredAt: time.Now(),
	}, nil
}

// adaptRaycast maps the extension schema onto the native manifest. Raycast
// extensions get the capabilities their API surface implies: search,
// clipboard, notifications, network, and quick actions; background refresh
// is set when a command declares an interval.
func adaptRaycast(rc raycastManifest) plugin.Manifest {
	m := plugin.Manifest{
		ID:          sanitizeID(rc.Name),
		Name:        rc.Title,
		Version:     rc.Version,
		Author:      rc.Author,
		Description: rc.Description,
		License:     rc.License,
		Icon:        rc.Icon,
		Kind:        plugin.KindRaycast,
		Capabilities: plugin.ManifestCapabilities{
			Search:          true,
			ClipboardAccess: true,
			Notifications:   true,
			NetworkAccess:   true,
			QuickActions:    true,
		},
		Permissions: plugin.ManifestPermissions{
			ReadClipboard:       true,
			WriteClipboard:      true,
			SystemNotifications: true,
		},
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
	if m.License == "" {
		m.License = "MIT"
	}

	hasInterval := false
	for _, c := range rc.Commands {
		mode := plugin.CommandMode(c.Mode)
		if c.Mode == "" {
			mode = plugin.ModeView
		}
		if c.Interval != "" {
			mode = plugin.ModeInterval
			hasInterval = true
		}
		m.Commands = append(m.Commands, plugin.Command{
			ID:          c.Name,
			Title:       c.Title,
			Subtitle:    c.Subtitle,
			Description: c.Description,
			Icon:        c.Icon,
			Mode:        mode,
			Keywords:    c.Keywords,
			Interval:    c.Interval,
		})
	}
	m.Capabilities.BackgroundRefresh = hasInterval

	for _, p := range rc.Preferences {
		m.Configuration = append(m.Configuration, plugin.Preference{
			Name:        p.Name,
			Title:       p.Title,
			Description: p.Description,
			FieldType:   adaptFieldType(p.Type),
			Required:    p.Required,
			Default:     p.Default,
			Placeholder: p.Placeholder,
			Options:     p.Data,
		})
	}
	return m
}

func adaptFieldType(t string) plugin.FieldType {
	switch t {
	case "password":
		return plugin.FieldPassword
	case "checkbox":
		return plugin.FieldBoolean
	case "dropdown":
		return plugin.FieldSelect
	case "directory":
		return plugin.FieldDirectory
	case "file":
		return plugin.FieldFile
	default:
		return plugin.FieldText
	}
}

// sanitizeID maps an arbitrary extension name onto the plugin id charset.
func sanitizeID(name string) string {
	var b strings.Builder
	for i := 0; i < len(name) && b.Len() < 256; i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteByte(c)
		case c == ' ' || c == '.':
			b.WriteByte('-')
		}
	}
	return b.String()
}

// validateConfiguration checks the preference schema declarations.
func validateConfiguration(prefs []plugin.Preference) error {
	for _, p := range prefs {
		if p.Name == "" || len(p.Name) > maxFieldLen {
			return errs.InvalidInput("preference name")
		}
		switch p.FieldType {
		case plugin.FieldText, plugin.FieldPassword, plugin.FieldBoolean,
			plugin.FieldNumber, plugin.FieldDirectory, plugin.FieldFile:
		case plugin.FieldSelect:
			if len(p.Options) == 0 {
				return errs.InvalidInput("select preference without options")
			}
		default:
			return errs.InvalidInput("preference field_type")
		}
		if v := p.Validation; v != nil {
			if v.Pattern != "" {
				if _, err := regexp.Compile(v.Pattern); err != nil {
					return errs.InvalidInput("preference pattern")
				}
			}
			if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
				return errs.InvalidInput("preference min/max")
			}
			if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
				return errs.InvalidInput("preference min/max length")
			}
		}
	}
	return nil
}
