// Package parse implements the three response-parsing strategies over one
// typed ResponseSchema: baseline tag-scans the XML-like text, structured
// validates against a declared JSON schema, and hybrid runs both and logs
// their differences before returning the structured result.
package parse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ResponseSchema is the per-routing-command contract a raw LLM response is
// parsed against.
type ResponseSchema struct {
	// Name identifies the schema for compiled-schema caching and logging.
	Name string
	// ExpectedFields are the XML-like tags the baseline strategy scans for.
	ExpectedFields []string
	// JSONSchema is the optional compiled-at-first-use JSON schema the
	// structured strategy validates a field map against. Nil disables
	// structured validation (the structured strategy then behaves like
	// baseline).
	JSONSchema []byte
}

// Strategy parses a raw LLM response into a field map keyed by tag/field
// name.
type Strategy interface {
	Parse(raw string, schema ResponseSchema) (map[string]string, error)
}

// New resolves the configured strategy name ("baseline", "structured",
// "hybrid") to a Strategy. Unknown names fall back to baseline.
func New(kind string, logger *slog.Logger) Strategy {
	switch kind {
	case "structured":
		return &structuredStrategy{logger: logger}
	case "hybrid":
		return &hybridStrategy{logger: logger}
	default:
		return baselineStrategy{}
	}
}

var tagPattern = regexp.MustCompile(`(?s)<(\w[\w-]*)>(.*?)</(\w[\w-]*)>`)

// baselineStrategy tag-scans the XML-like text for each expected field.
type baselineStrategy struct{}

func (baselineStrategy) Parse(raw string, schema ResponseSchema) (map[string]string, error) {
	found := make(map[string]string)
	for _, m := range tagPattern.FindAllStringSubmatch(raw, -1) {
		open, value, close := m[1], m[2], m[3]
		if open != close {
			continue
		}
		found[open] = strings.TrimSpace(value)
	}

	out := make(map[string]string, len(schema.ExpectedFields))
	var missing []string
	for _, field := range schema.ExpectedFields {
		v, ok := found[field]
		if !ok {
			missing = append(missing, field)
			continue
		}
		out[field] = v
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("parse: missing expected tag(s) %v in response", missing)
	}
	return out, nil
}

var schemaCache sync.Map

func compileSchema(name string, raw []byte) (*jsonschema.Schema, error) {
	if cached, ok := schemaCache.Load(name); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}
	schemaCache.Store(name, compiled)
	return compiled, nil
}

// structuredStrategy validates the baseline-extracted field map against a
// declared JSON schema. On a compile or validation failure it falls back to
// the raw baseline result.
type structuredStrategy struct {
	logger *slog.Logger
}

func (s *structuredStrategy) Parse(raw string, schema ResponseSchema) (map[string]string, error) {
	fields, err := baselineStrategy{}.Parse(raw, schema)
	if err != nil {
		return nil, err
	}
	if len(schema.JSONSchema) == 0 {
		return fields, nil
	}

	compiled, err := compileSchema(schema.Name, schema.JSONSchema)
	if err != nil {
		s.logf("structured schema %q failed to compile, falling back to baseline: %v", schema.Name, err)
		return fields, nil
	}

	payload, err := json.Marshal(toAnyMap(fields))
	if err != nil {
		s.logf("structured schema %q: failed to encode fields, falling back to baseline: %v", schema.Name, err)
		return fields, nil
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fields, nil
	}
	if err := compiled.Validate(decoded); err != nil {
		s.logf("structured schema %q: validation failed, falling back to baseline: %v", schema.Name, err)
		return fields, nil
	}
	return fields, nil
}

func (s *structuredStrategy) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(fmt.Sprintf(format, args...))
	}
}

// hybridStrategy runs baseline and structured independently, logs any
// divergence between the two, and returns the structured result.
type hybridStrategy struct {
	logger *slog.Logger
}

func (h *hybridStrategy) Parse(raw string, schema ResponseSchema) (map[string]string, error) {
	base, baseErr := baselineStrategy{}.Parse(raw, schema)
	structured := &structuredStrategy{logger: h.logger}
	result, structErr := structured.Parse(raw, schema)

	if baseErr == nil && structErr == nil && h.logger != nil {
		for k, v := range base {
			if result[k] != v {
				h.logger.Info("hybrid parse divergence", "schema", schema.Name, "field", k, "baseline", v, "structured", result[k])
			}
		}
	}

	if structErr != nil {
		return base, baseErr
	}
	return result, nil
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
