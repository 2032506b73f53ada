package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"antennaforge/internal/model"
	forge "antennaforge/pkg/antennaforge"
)

// loadOptimizeRequestFromConfig reads a run config. Targets may be given
// flat or under a "targets" object; the flat keys win.
func loadOptimizeRequestFromConfig(path string) (forge.OptimizeRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return forge.OptimizeRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return forge.OptimizeRequest{}, err
	}

	var req forge.OptimizeRequest
	if targets, ok := raw["targets"].(map[string]any); ok {
		applyTargets(&req, targets)
	}
	applyTargets(&req, raw)

	if v, ok := asString(raw["run_id"]); ok {
		req.RunID = v
	}
	if v, ok := asString(raw["algorithm"]); ok {
		req.Algorithm = v
	}
	if v, ok := asString(raw["design_type"]); ok {
		req.DesignType = v
	}
	if v, ok := asString(raw["shape_family"]); ok {
		req.ShapeFamily = v
	}
	if v, ok := asFloat64(raw["max_size_mm"]); ok {
		req.MaxSizeMM = v
	}
	if v, ok := asString(raw["substrate"]); ok {
		req.Substrate = v
	}
	if v, ok := asFloat64(raw["substrate_thickness_mm"]); ok {
		req.SubstrateThicknessMM = v
	}
	if v, ok := asString(raw["conductor"]); ok {
		req.Conductor = v
	}
	if v, ok := asFloat64(raw["conductor_thickness_um"]); ok {
		req.ConductorThicknessUM = v
	}
	if v, ok := asString(raw["mode"]); ok {
		req.Mode = v
	}
	if v, ok := asBool(raw["auto_design"]); ok {
		req.AutoDesign = v
	}
	if v, ok := asInt(raw["population_size"]); ok {
		req.PopulationSize = v
	}
	if v, ok := asInt(raw["generations"]); ok {
		req.Generations = v
	}
	if v, ok := asInt(raw["workers"]); ok {
		req.Workers = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asBool(raw["plot"]); ok {
		req.Plot = v
	}
	if constraints, ok := raw["constraints"].(map[string]any); ok {
		req.Constraints = make(map[string]float64, len(constraints))
		for name, value := range constraints {
			f, ok := asFloat64(value)
			if !ok {
				return forge.OptimizeRequest{}, fmt.Errorf("constraint %q must be a number", name)
			}
			req.Constraints[name] = f
		}
	}
	return req, nil
}

func applyTargets(req *forge.OptimizeRequest, raw map[string]any) {
	if v, ok := asFloat64(raw["target_frequency_ghz"]); ok {
		req.TargetFrequencyGHz = v
	}
	if v, ok := asFloat64(raw["bandwidth_mhz"]); ok {
		req.BandwidthMHz = v
	}
	if v, ok := asFloat64(raw["target_gain_dbi"]); ok {
		req.TargetGainDBi = v
	}
	if v, ok := asFloat64(raw["target_impedance_ohm"]); ok {
		req.TargetImpedanceOhm = v
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	default:
		return 0, false
	}
}

func overrideFromFlags(req *forge.OptimizeRequest, set map[string]bool, flagValue map[string]any) {
	for name := range set {
		v, ok := flagValue[name]
		if !ok {
			continue
		}
		switch name {
		case "run-id":
			req.RunID = v.(string)
		case "algorithm":
			req.Algorithm = v.(string)
		case "design":
			req.DesignType = v.(string)
		case "shape":
			req.ShapeFamily = v.(string)
		case "freq":
			req.TargetFrequencyGHz = v.(float64)
		case "bandwidth":
			req.BandwidthMHz = v.(float64)
		case "gain":
			req.TargetGainDBi = v.(float64)
		case "impedance":
			req.TargetImpedanceOhm = v.(float64)
		case "max-size":
			req.MaxSizeMM = v.(float64)
		case "substrate":
			req.Substrate = v.(string)
		case "substrate-thickness":
			req.SubstrateThicknessMM = v.(float64)
		case "conductor":
			req.Conductor = v.(string)
		case "conductor-thickness":
			req.ConductorThicknessUM = v.(float64)
		case "mode":
			req.Mode = v.(string)
		case "auto-design":
			req.AutoDesign = v.(bool)
		case "pop":
			req.PopulationSize = v.(int)
		case "gens":
			req.Generations = v.(int)
		case "seed":
			req.Seed = v.(int64)
		case "workers":
			req.Workers = v.(int)
		case "plot":
			req.Plot = v.(bool)
		}
	}
}

func loadOrDefaultOptimizeRequest(configPath string) (forge.OptimizeRequest, error) {
	if configPath == "" {
		return forge.OptimizeRequest{}, nil
	}
	req, err := loadOptimizeRequestFromConfig(configPath)
	if err != nil {
		return forge.OptimizeRequest{}, fmt.Errorf("load config: %w", err)
	}
	return req, nil
}

// parseParams reads "length_mm=29,width_mm=38" style geometry. A value
// starting with @ names a JSON file holding a flat object of numbers.
func parseParams(raw string) (model.Params, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("--params is required")
	}
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var p model.Params
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode params %s: %w", path, err)
		}
		return p, nil
	}

	p := make(model.Params)
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid param %q: want name=value", pair)
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", name, err)
		}
		p[strings.TrimSpace(name)] = f
	}
	return p, nil
}
