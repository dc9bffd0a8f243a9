// Package dispatch routes action executions: verb table lookup, action map
// resolution, capability check, and the bounded wrapper call.
package dispatch

//go:generate go run ./gen

import (
	"context"
	"log/slog"
	"time"

	"github.com/beaconkit/beacon/internal/capability"
	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/lifecycle"
	"github.com/beaconkit/beacon/internal/metrics"
	"github.com/beaconkit/beacon/internal/search"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// verbCapability maps each verb to the capability its execution requires.
// Lifecycle verbs (init, cleanup, status) carry no extra gate: the host
// itself drives them.
var verbCapability = map[Verb]string{
	VerbSearch:    plugin.CapSearch,
	VerbExecute:   plugin.CapExecute,
	VerbRefresh:   plugin.CapBackground,
	VerbConfigure: plugin.CapStorage,
	VerbValidate:  plugin.CapPermission,
}

// Config tunes the dispatcher.
type Config struct {
	ExecuteTimeout time.Duration // default 5s
}

func (c *Config) fillDefaults() {
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 5 * time.Second
	}
}

// Dispatcher executes actions against their owning plugins.
type Dispatcher struct {
	cfg     Config
	manager *lifecycle.Manager
	actions *search.ActionMap
	caps    *capability.Index
	metrics *metrics.Registry
	logger  *slog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg Config, manager *lifecycle.Manager, actions *search.ActionMap, caps *capability.Index, reg *metrics.Registry, logger *slog.Logger) *Dispatcher {
	cfg.fillDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		cfg:     cfg,
		manager: manager,
		actions: actions,
		caps:    caps,
		metrics: reg,
		logger:  logger,
	}
}

// Request is one action-execution intent.
type Request struct {
	ActionID string
	// Verb defaults to execute when empty.
	Verb string
	Args map[string]any
}

// Dispatch routes and executes one action. Failures surface as structured
// errors; a single failure never disables the plugin. Hysteresis belongs
// to the lifecycle health score.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (any, error) {
	verb := req.Verb
	if verb == "" {
		verb = string(VerbExecute)
	}

	// Unknown verbs die in O(1) before any registry access.
	if !KnownVerb(verb) {
		return nil, errs.InvalidInput("verb " + verb)
	}
	if req.ActionID == "" {
		return nil, errs.InvalidInput("action_id")
	}

	pluginID, ok := d.actions.Lookup(req.ActionID)
	if !ok {
		return nil, errs.NotFound("action " + req.ActionID)
	}

	if required, gated := verbCapability[Verb(verb)]; gated {
		has, err := d.caps.VerifyCapability(pluginID, required)
		if err != nil {
			return nil, err
		}
		if !has {
			return nil, errs.CapabilityDenied(required)
		}
	}

	w, ok := d.manager.Wrapper(pluginID)
	if !ok {
		return nil, errs.NotFound("plugin " + pluginID)
	}

	guard := d.metrics.Time("dispatch." + verb)
	defer guard.Stop()

	callCtx, cancel := context.WithTimeout(ctx, d.cfg.ExecuteTimeout)
	defer cancel()

	start := time.Now()
	out, err := w.ExecuteAction(callCtx, req.ActionID, req.Args)
	elapsed := time.Since(start)

	if err != nil {
		guard.Fail(err)
		d.manager.RecordError(pluginID, err.Error())
		if callCtx.Err() == context.DeadlineExceeded {
			return nil, errs.Timeout("action " + req.ActionID)
		}
		d.logger.Warn("action failed", "plugin", pluginID, "action", req.ActionID, "error", err)
		return nil, err
	}

	d.manager.RecordSuccess(pluginID, elapsed)
	return out, nil
}
