// Package launcher owns the tri-state launcher machine. Window visibility,
// focus, and opacity are projections of the state plus an animation clock;
// the coordinator never touches raw window APIs outside the WindowPort.
package launcher

import (
	"log/slog"
	"sync"

	"github.com/beaconkit/beacon/internal/events"
)

// State is the launcher's exclusive tri-state.
type State string

const (
	StateBackground     State = "background"
	StateLauncherActive State = "launcher_active"
	StateSearchMode     State = "search_mode"
)

// EventKind tags launcher events.
type EventKind string

const (
	EventSearchStarted  EventKind = "search_started"
	EventToggleShow     EventKind = "toggle_show"
	EventHide           EventKind = "hide"
	EventExecute        EventKind = "execute"
	EventSystemShutdown EventKind = "system_shutdown"
)

// LauncherEvent drives all transitions; state is never mutated directly.
type LauncherEvent struct {
	Kind  EventKind
	Query string // SearchStarted
	// ActionID is set on Execute.
	ActionID string
}

// Transition reports one applied state change.
type Transition struct {
	From  State
	To    State
	Event LauncherEvent
}

// Geometry is the window size/placement projection, in logical pixels.
type Geometry struct {
	Width   float64
	Height  float64
	CenterX float64
	CenterY float64
}

// GeometryConfig holds the sizing rule: a share of the primary monitor's
// logical dimensions, capped.
type GeometryConfig struct {
	WidthRatio  float64 // default 0.35
	HeightRatio float64 // default 0.28
	MaxWidth    float64 // default 800
	MaxHeight   float64 // default 600
}

func (c *GeometryConfig) fillDefaults() {
	if c.WidthRatio <= 0 {
		c.WidthRatio = 0.35
	}
	if c.HeightRatio <= 0 {
		c.HeightRatio = 0.28
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = 800
	}
	if c.MaxHeight <= 0 {
		c.MaxHeight = 600
	}
}

// Compute sizes and centers the window for a monitor's logical dimensions.
func (c GeometryConfig) Compute(screenWidth, screenHeight float64) Geometry {
	c.fillDefaults()
	w := screenWidth * c.WidthRatio
	if w > c.MaxWidth {
		w = c.MaxWidth
	}
	h := screenHeight * c.HeightRatio
	if h > c.MaxHeight {
		h = c.MaxHeight
	}
	return Geometry{
		Width:   w,
		Height:  h,
		CenterX: screenWidth / 2,
		CenterY: screenHeight / 2,
	}
}

// WindowPort is the thin platform layer the coordinator projects through.
type WindowPort interface {
	// Apply resizes and centers the window.
	Apply(g Geometry)
	// SetVisible shows or hides the window.
	SetVisible(visible bool)
	// Focus requests foreground focus.
	Focus()
	// AnimateOpacity starts an animation toward the target opacity.
	AnimateOpacity(target float64)
	// LogicalSize returns the primary monitor's logical dimensions.
	LogicalSize() (width, height float64)
}

// Coordinator is the single launcher state machine instance.
type Coordinator struct {
	logger *slog.Logger
	window WindowPort
	geom   GeometryConfig

	mu    sync.Mutex
	state State
	query string

	transitions *events.Bus[Transition]
}

// NewCoordinator creates the coordinator in Background.
func NewCoordinator(window WindowPort, geom GeometryConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	geom.fillDefaults()
	return &Coordinator{
		logger:      logger,
		window:      window,
		geom:        geom,
		state:       StateBackground,
		transitions: events.NewBus[Transition]("launcher", 16),
	}
}

// Transitions exposes the applied-transition bus.
func (c *Coordinator) Transitions() *events.Bus[Transition] { return c.transitions }

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Query returns the current search query. Empty whenever the launcher is
// not in SearchMode.
func (c *Coordinator) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.query
}

// Visible reports the window visibility projection: visible iff the state
// is not Background.
func (c *Coordinator) Visible() bool {
	return c.State() != StateBackground
}

// Handle applies one launcher event. Events that the transition table does
// not accept in the current state are ignored.
func (c *Coordinator) Handle(ev LauncherEvent) {
	c.mu.Lock()
	from := c.state
	to, ok := next(from, ev)
	if !ok {
		c.mu.Unlock()
		return
	}
	c.state = to
	switch {
	case ev.Kind == EventSearchStarted:
		c.query = ev.Query
	case to == StateBackground || to == StateLauncherActive:
		c.query = ""
	}
	c.mu.Unlock()

	c.project(from, to)
	c.transitions.Publish(Transition{From: from, To: to, Event: ev})
	c.logger.Debug("launcher transition", "from", from, "to", to, "event", ev.Kind)
}

// next is the transition table.
func next(from State, ev LauncherEvent) (State, bool) {
	if ev.Kind == EventSystemShutdown {
		return StateBackground, from != StateBackground
	}

	switch from {
	case StateBackground:
		switch ev.Kind {
		case EventSearchStarted:
			if ev.Query != "" {
				return StateSearchMode, true
			}
		case EventToggleShow:
			return StateLauncherActive, true
		}
	case StateLauncherActive:
		switch ev.Kind {
		case EventSearchStarted:
			if ev.Query != "" {
				return StateSearchMode, true
			}
		case EventHide:
			return StateBackground, true
		case EventToggleShow:
			return StateBackground, true
		}
	case StateSearchMode:
		switch ev.Kind {
		case EventSearchStarted:
			if ev.Query == "" {
				return StateLauncherActive, true
			}
			return StateSearchMode, true // query refinement, same state
		case EventExecute:
			return StateBackground, true
		case EventHide:
			return StateBackground, true
		}
	}
	return from, false
}

// project pushes the window-side effects of a transition through the port.
func (c *Coordinator) project(from, to State) {
	if c.window == nil {
		return
	}
	switch {
	case to == StateBackground:
		c.window.AnimateOpacity(0)
		c.window.SetVisible(false)
	case from == StateBackground:
		w, h := c.window.LogicalSize()
		c.window.Apply(c.geom.Compute(w, h))
		c.window.SetVisible(true)
		c.window.Focus()
		c.window.AnimateOpacity(1)
	case to == StateSearchMode && from == StateLauncherActive:
		w, h := c.window.LogicalSize()
		c.window.Apply(c.geom.Compute(w, h))
	}
}
