package plugin

// Manifest is the declarative document shipped with every plugin. It is
// JSON-compatible; the loader also adapts Raycast extension manifests into
// this schema.
type Manifest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Author      string   `json:"author,omitempty"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords,omitempty"`
	License     string   `json:"license"`
	Homepage    string   `json:"homepage,omitempty"`
	Repository  string   `json:"repository,omitempty"`
	Icon        string   `json:"icon,omitempty"`

	Kind Kind `json:"kind"`

	Capabilities ManifestCapabilities `json:"capabilities"`
	Permissions  ManifestPermissions  `json:"permissions"`

	Commands      []Command    `json:"commands,omitempty"`
	Configuration []Preference `json:"configuration,omitempty"`
}

// ManifestCapabilities is the capability declaration block.
type ManifestCapabilities struct {
	Search            bool `json:"search"`
	BackgroundRefresh bool `json:"background_refresh"`
	Notifications     bool `json:"notifications"`
	Shortcuts         bool `json:"shortcuts"`
	DeepLinks         bool `json:"deep_links"`
	ClipboardAccess   bool `json:"clipboard_access"`
	FileSystemAccess  bool `json:"file_system_access"`
	NetworkAccess     bool `json:"network_access"`
	SystemCommands    bool `json:"system_commands"`
	UIExtensions      bool `json:"ui_extensions"`
	ContextMenu       bool `json:"context_menu"`
	QuickActions      bool `json:"quick_actions"`
}

// CapabilitySet converts the boolean declaration block into the runtime
// capability set used for gating. The mapping is fixed: manifest booleans
// name UI-facing features, runtime capabilities name gated abilities.
func (c ManifestCapabilities) CapabilitySet() CapabilitySet {
	var caps []Capability
	add := func(ok bool, name, desc string) {
		if ok {
			caps = append(caps, Capability{Name: name, Version: "1", Description: desc})
		}
	}
	add(c.Search, CapSearch, "provide search results")
	add(c.SystemCommands || c.QuickActions, CapExecute, "execute actions and commands")
	add(c.FileSystemAccess, CapFilesystem, "read and write files")
	add(c.NetworkAccess, CapNetwork, "outbound network requests")
	add(c.ClipboardAccess, CapClipboard, "read and write the clipboard")
	add(c.Notifications, CapNotifications, "show desktop notifications")
	add(true, CapStorage, "per-plugin key/value storage")
	add(true, CapCache, "partitioned in-memory cache")
	add(c.BackgroundRefresh, CapBackground, "periodic background refresh")
	add(c.DeepLinks || c.UIExtensions, CapRealtime, "realtime UI updates")
	return NewCapabilitySet(caps...)
}

// ManifestPermissions is the permission declaration block.
type ManifestPermissions struct {
	ReadClipboard       bool `json:"read_clipboard"`
	WriteClipboard      bool `json:"write_clipboard"`
	SystemNotifications bool `json:"system_notifications"`
	Accessibility       bool `json:"accessibility"`
	Camera              bool `json:"camera"`
	Microphone          bool `json:"microphone"`
	Location            bool `json:"location"`
	Contacts            bool `json:"contacts"`
	Calendar            bool `json:"calendar"`

	ReadFiles            []string `json:"read_files,omitempty"`
	WriteFiles           []string `json:"write_files,omitempty"`
	ExecuteCommands      []string `json:"execute_commands,omitempty"`
	NetworkHosts         []string `json:"network_hosts,omitempty"`
	EnvironmentVariables []string `json:"environment_variables,omitempty"`
}

// Extended returns the string-named extended permissions the block requests.
func (p ManifestPermissions) Extended() []string {
	var out []string
	add := func(ok bool, name string) {
		if ok {
			out = append(out, name)
		}
	}
	add(p.Accessibility, "accessibility")
	add(p.Camera, "camera")
	add(p.Microphone, "microphone")
	add(p.Location, "location")
	add(p.Contacts, "contacts")
	add(p.Calendar, "calendar")
	return out
}

// CommandMode controls how a command presents when invoked.
type CommandMode string

const (
	ModeView     CommandMode = "view"
	ModeNoView   CommandMode = "no-view"
	ModeMenuBar  CommandMode = "menu-bar"
	ModeInterval CommandMode = "interval"
)

// Command is a manifest-declared invokable entry point.
type Command struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Subtitle    string        `json:"subtitle,omitempty"`
	Description string        `json:"description"`
	Icon        string        `json:"icon,omitempty"`
	Mode        CommandMode   `json:"mode"`
	Keywords    []string      `json:"keywords,omitempty"`
	Arguments   []CommandArg  `json:"arguments,omitempty"`
	Hotkey      string        `json:"hotkey,omitempty"`
	Interval    string        `json:"interval,omitempty"`
}

// CommandArg describes one argument a command accepts.
type CommandArg struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Placeholder string `json:"placeholder,omitempty"`
	Required    bool   `json:"required"`
}

// FieldType enumerates preference field kinds.
type FieldType string

const (
	FieldText      FieldType = "text"
	FieldPassword  FieldType = "password"
	FieldBoolean   FieldType = "boolean"
	FieldNumber    FieldType = "number"
	FieldSelect    FieldType = "select"
	FieldDirectory FieldType = "directory"
	FieldFile      FieldType = "file"
)

// Preference is one entry in the plugin's configuration schema.
type Preference struct {
	Name        string           `json:"name"`
	Title       string           `json:"title"`
	Description string           `json:"description,omitempty"`
	FieldType   FieldType        `json:"field_type"`
	Required    bool             `json:"required"`
	Default     any              `json:"default,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	Options     []string         `json:"options,omitempty"`
	Validation  *PrefValidation  `json:"validation,omitempty"`
}

// PrefValidation carries optional validation rules for a preference.
type PrefValidation struct {
	Pattern   string   `json:"pattern,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"min_length,omitempty"`
	MaxLength *int     `json:"max_length,omitempty"`
	Custom    string   `json:"custom,omitempty"`
}
