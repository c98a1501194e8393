package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"
)

// redactedValue replaces sensitive values in diagnostics output.
const redactedValue = "**REDACTED**"

// redactKeys are removed from diagnostics wherever they appear. The
// mixed-case names are the raw keys some firmware reports.
var redactKeys = map[string]struct{}{
	"host":          {},
	"device_id":     {},
	"DeviceId":      {},
	"ProductId":     {},
	"serial_number": {},
	"mac":           {},
}

// Redact returns a deep copy of v with every redactKeys entry masked. Maps
// and slices produced by encoding/json or yaml.v3 are walked; other values
// are returned unchanged.
func Redact(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			if _, ok := redactKeys[k]; ok {
				out[k] = redactedValue
				continue
			}
			out[k] = Redact(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = Redact(val)
		}
		return out
	default:
		return v
	}
}

// jsonTree converts v into the generic map/slice form Redact walks.
func jsonTree(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// yamlTree converts v through its yaml tags, so the dump uses the same
// key names as config.yaml.
func yamlTree(v any) (any, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := yaml.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// diagnostics builds the unredacted diagnostics document.
func (s *Server) diagnostics() (map[string]any, error) {
	pollers := s.manager.List()
	devices := make([]DeviceResponse, 0, len(pollers))
	for _, p := range pollers {
		devices = append(devices, deviceResponse(p))
	}
	devTree, err := jsonTree(devices)
	if err != nil {
		return nil, fmt.Errorf("encoding devices: %w", err)
	}

	doc := map[string]any{
		"generated_at":   time.Now().UTC().Format(time.RFC3339),
		"version":        s.version,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"devices":        devTree,
	}

	if s.settings != nil {
		cfgTree, err := yamlTree(s.settings.Redacted())
		if err != nil {
			return nil, fmt.Errorf("encoding config: %w", err)
		}
		doc["config"] = cfgTree
	}

	if s.bridgeStats != nil {
		statsTree, err := jsonTree(s.bridgeStats())
		if err != nil {
			return nil, fmt.Errorf("encoding bridge stats: %w", err)
		}
		doc["bridge"] = statsTree
	}

	return doc, nil
}

// handleDiagnostics dumps redacted config, endpoint state and counters.
func (s *Server) handleDiagnostics(w http.ResponseWriter, _ *http.Request) {
	doc, err := s.diagnostics()
	if err != nil {
		s.logger.Error("building diagnostics failed", "error", err)
		writeInternalError(w, "failed to build diagnostics")
		return
	}
	writeJSON(w, http.StatusOK, Redact(doc))
}
