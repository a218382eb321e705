// Package recovery extracts structured candidate records from model output
// that may be wrapped in prose, escaped, fenced, or truncated.
//
// Strategies are tried in a fixed order and the first one yielding at least
// one valid record wins. Each strategy is a pure function of its input and
// scans it a bounded number of times.
package recovery

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/pithecene-io/sluice/types"
)

// Strategy names, in the order they are attempted.
const (
	StrategyStrict  = "strict"
	StrategyBraces  = "brace_scan"
	StrategyEscaped = "escaped_wrapper"
	StrategyFenced  = "fenced_block"
	StrategySalvage = "array_salvage"
)

// Config configures an Engine.
type Config struct {
	// ArrayKeys are the object keys that hold the record array, in
	// preference order.
	ArrayKeys []string
	// IdentityKeys are the fields of which a record must carry at least one
	// non-empty value.
	IdentityKeys []string
	// MaxInputBytes truncates oversized input. Zero means no limit.
	MaxInputBytes int
}

// DefaultConfig returns the record shape produced by the candidate
// search agents.
func DefaultConfig() Config {
	return Config{
		ArrayKeys:    []string{"top_candidates", "candidates", "results", "matches", "profiles"},
		IdentityKeys: []string{"github_username", "name", "id"},
	}
}

// Strategy is one recovery technique.
type Strategy struct {
	Name string
	Run  func(e *Engine, text string) []types.Candidate
}

// Engine runs the recovery strategies against a text.
// An Engine is immutable after construction and safe for concurrent use.
type Engine struct {
	cfg        Config
	schema     *jsonschema.Schema
	keyRe      *regexp.Regexp
	arrayRe    *regexp.Regexp
	strategies []Strategy
}

var (
	wrapperRe = regexp.MustCompile(`"[A-Za-z_][A-Za-z0-9_]*"\s*:\s*"`)
	fenceRe   = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*[ \t]*\r?\n?(.*?)```")
)

// New compiles an engine. Returns an error if no array or identity keys
// are configured.
func New(cfg Config) (*Engine, error) {
	if len(cfg.ArrayKeys) == 0 {
		return nil, fmt.Errorf("recovery: at least one array key is required")
	}
	if len(cfg.IdentityKeys) == 0 {
		return nil, fmt.Errorf("recovery: at least one identity key is required")
	}

	schema, err := jsonschema.CompileString("candidate.json", recordSchema(cfg.IdentityKeys))
	if err != nil {
		return nil, fmt.Errorf("recovery: compile record schema: %w", err)
	}

	quoted := make([]string, len(cfg.ArrayKeys))
	for i, k := range cfg.ArrayKeys {
		quoted[i] = regexp.QuoteMeta(k)
	}
	alt := strings.Join(quoted, "|")

	return &Engine{
		cfg:     cfg,
		schema:  schema,
		keyRe:   regexp.MustCompile(`"(?:` + alt + `)"\s*:`),
		arrayRe: regexp.MustCompile(`"(?:` + alt + `)"\s*:\s*\[`),
		strategies: []Strategy{
			{Name: StrategyStrict, Run: (*Engine).strict},
			{Name: StrategyBraces, Run: (*Engine).braceScan},
			{Name: StrategyEscaped, Run: (*Engine).escapedWrapper},
			{Name: StrategyFenced, Run: (*Engine).fenced},
			{Name: StrategySalvage, Run: (*Engine).salvage},
		},
	}, nil
}

// MustNew is New for configurations known to be valid.
func MustNew(cfg Config) *Engine {
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

// recordSchema requires at least one identity key holding a non-empty
// string or a number.
func recordSchema(identityKeys []string) string {
	branches := make([]any, 0, len(identityKeys))
	for _, k := range identityKeys {
		branches = append(branches, map[string]any{
			"required": []string{k},
			"properties": map[string]any{
				k: map[string]any{
					"type":      []string{"string", "number"},
					"minLength": 1,
					"pattern":   `\S`,
				},
			},
		})
	}
	b, _ := json.Marshal(map[string]any{
		"type":  "object",
		"anyOf": branches,
	})
	return string(b)
}

// Strategies returns the strategy names in attempt order.
func (e *Engine) Strategies() []string {
	names := make([]string, len(e.strategies))
	for i, s := range e.strategies {
		names[i] = s.Name
	}
	return names
}

// Extract returns the recovered records, or nil when nothing valid was found.
func (e *Engine) Extract(text string) []types.Candidate {
	recs, _ := e.ExtractWithStrategy(text)
	return recs
}

// ExtractWithStrategy is Extract that also reports the winning strategy.
// It never panics; internal failures yield no records.
func (e *Engine) ExtractWithStrategy(text string) (recs []types.Candidate, strategy string) {
	defer func() {
		if r := recover(); r != nil {
			recs, strategy = nil, ""
		}
	}()

	if e.cfg.MaxInputBytes > 0 && len(text) > e.cfg.MaxInputBytes {
		text = text[:e.cfg.MaxInputBytes]
	}
	if strings.TrimSpace(text) == "" {
		return nil, ""
	}
	for _, s := range e.strategies {
		if recs := s.Run(e, text); len(recs) > 0 {
			return recs, s.Name
		}
	}
	return nil, ""
}

// records locates the record array in a decoded value and returns its
// valid elements. A bare top-level array is accepted as the record array.
func (e *Engine) records(v any, depth int) []types.Candidate {
	switch t := v.(type) {
	case []any:
		return e.validElements(t)
	case map[string]any:
		for _, k := range e.cfg.ArrayKeys {
			if arr, ok := t[k].([]any); ok {
				if recs := e.validElements(arr); len(recs) > 0 {
					return recs
				}
			}
		}
		if depth >= 2 {
			return nil
		}
		for _, k := range slices.Sorted(maps.Keys(t)) {
			if m, ok := t[k].(map[string]any); ok {
				if recs := e.records(m, depth+1); len(recs) > 0 {
					return recs
				}
			}
		}
	}
	return nil
}

// validElements keeps the elements that pass schema validation.
// Invalid elements are dropped individually.
func (e *Engine) validElements(arr []any) []types.Candidate {
	var out []types.Candidate
	for _, el := range arr {
		if rec, ok := e.validElement(el); ok {
			out = append(out, rec)
		}
	}
	return out
}

func (e *Engine) validElement(el any) (types.Candidate, bool) {
	m, ok := el.(map[string]any)
	if !ok {
		return types.Candidate{}, false
	}
	if err := e.schema.Validate(m); err != nil {
		return types.Candidate{}, false
	}
	return decodeCandidate(m, e.cfg.IdentityKeys), true
}
