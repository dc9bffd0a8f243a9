// Package builtin holds the native plugins compiled into the host.
package builtin

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/beaconkit/beacon/internal/errs"
	"github.com/beaconkit/beacon/internal/wrapper"
	"github.com/beaconkit/beacon/pkg/plugin"
)

// RegisterAll adds every builtin plugin to the native registry.
func RegisterAll(reg *wrapper.NativeRegistry) {
	reg.Register("calc", func() plugin.Plugin { return &CalcPlugin{} })
}

// CalcPlugin evaluates simple two-operand arithmetic typed into the search
// field and copies the result on execute.
type CalcPlugin struct {
	host plugin.HostServices
}

func (p *CalcPlugin) Manifest() plugin.Manifest {
	return plugin.Manifest{
		ID:          "calc",
		Name:        "Calculator",
		Version:     "1.0.0",
		Description: "Inline arithmetic in the search field",
		License:     "MIT",
		Kind:        plugin.KindNative,
		Capabilities: plugin.ManifestCapabilities{
			Search:          true,
			QuickActions:    true,
			ClipboardAccess: true,
		},
		Commands: []plugin.Command{{
			ID:          "copy-result",
			Title:       "Copy Result",
			Description: "Copy the computed value to the clipboard",
			Mode:        plugin.ModeNoView,
		}},
	}
}

func (p *CalcPlugin) Initialize(_ context.Context, host plugin.HostServices) error {
	p.host = host
	return nil
}

// eval parses "a <op> b" with a single operator.
func eval(query string) (float64, bool) {
	query = strings.TrimSpace(query)
	for _, op := range []string{"+", "-", "*", "/"} {
		idx := strings.Index(query[1:], op) // skip a leading sign
		if idx < 0 {
			continue
		}
		idx++
		left, errL := strconv.ParseFloat(strings.TrimSpace(query[:idx]), 64)
		right, errR := strconv.ParseFloat(strings.TrimSpace(query[idx+1:]), 64)
		if errL != nil || errR != nil {
			continue
		}
		switch op {
		case "+":
			return left + right, true
		case "-":
			return left - right, true
		case "*":
			return left * right, true
		case "/":
			if right == 0 {
				return 0, false
			}
			return left / right, true
		}
	}
	return 0, false
}

func (p *CalcPlugin) Search(_ context.Context, query string) ([]plugin.ActionItem, error) {
	value, ok := eval(query)
	if !ok {
		return nil, nil
	}

	result := strconv.FormatFloat(value, 'f', -1, 64)
	now := time.Now()
	return []plugin.ActionItem{{
		ID:       "calc:" + query,
		Title:    result,
		Subtitle: query + " =",
		Score:    95,
		Actions: []plugin.ItemAction{{
			ID:    "calc.copy:" + result,
			Title: "Copy to clipboard",
		}},
		Metadata:  map[string]string{"value": result},
		CreatedAt: now,
		UpdatedAt: now,
	}}, nil
}

func (p *CalcPlugin) ExecuteCommand(ctx context.Context, commandID string, args map[string]any) (any, error) {
	if commandID != "copy-result" {
		return nil, errs.NotFound("command " + commandID)
	}
	value, _ := args["value"].(string)
	return nil, p.host.ClipboardWrite(ctx, value)
}

func (p *CalcPlugin) ExecuteAction(ctx context.Context, actionID string, _ map[string]any) (any, error) {
	const prefix = "calc.copy:"
	if !strings.HasPrefix(actionID, prefix) {
		return nil, errs.NotFound("action " + actionID)
	}
	value := actionID[len(prefix):]
	if err := p.host.ClipboardWrite(ctx, value); err != nil {
		return nil, err
	}
	return fmt.Sprintf("copied %s", value), nil
}

func (p *CalcPlugin) BackgroundRefresh(context.Context) error { return nil }

func (p *CalcPlugin) Cleanup(context.Context) error { return nil }
