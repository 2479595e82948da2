// Package bank queries operator-configured remote question banks. Configs
// follow the OCS AnswererWrapper shape: a URL template, an HTTP method and
// a handler expression that maps the response to [question, answer].
package bank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xeipuuv/gojsonschema"
)

const (
	MethodGet  = "get"
	MethodPost = "post"

	ContentJSON = "json"
	ContentText = "text"

	// DefaultTimeout bounds each bank call when the config sets none.
	DefaultTimeout = 10 * time.Second
)

// Config is one remote bank as written by the operator.
type Config struct {
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	Homepage    string            `json:"homepage,omitempty"`
	Method      string            `json:"method,omitempty"`
	ContentType string            `json:"contentType,omitempty"`
	Type        string            `json:"type,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Data        map[string]any    `json:"data,omitempty"`
	Body        string            `json:"body,omitempty"`
	Handler     string            `json:"handler"`
	// TimeoutMS overrides the connector default, in milliseconds.
	TimeoutMS int `json:"timeout,omitempty"`
	// RateLimit caps requests per second to this bank; zero is unlimited.
	RateLimit float64 `json:"rateLimit,omitempty"`
}

func (c Config) method() string {
	if c.Method == "" {
		return MethodGet
	}
	return strings.ToLower(c.Method)
}

func (c Config) contentType() string {
	if c.ContentType == "" {
		return ContentJSON
	}
	return c.ContentType
}

func (c Config) timeout(def time.Duration) time.Duration {
	if c.TimeoutMS > 0 {
		return time.Duration(c.TimeoutMS) * time.Millisecond
	}
	if def > 0 {
		return def
	}
	return DefaultTimeout
}

const configSchema = `{
  "type": "object",
  "required": ["name", "url", "handler"],
  "properties": {
    "name":        {"type": "string", "minLength": 1},
    "url":         {"type": "string", "pattern": "^https?://"},
    "homepage":    {"type": "string"},
    "method":      {"type": "string", "enum": ["get", "post", "GET", "POST"]},
    "contentType": {"type": "string", "enum": ["json", "text"]},
    "type":        {"type": "string", "enum": ["fetch", "GM_xmlhttpRequest"]},
    "headers":     {"type": "object", "additionalProperties": {"type": "string"}},
    "data":        {"type": "object"},
    "body":        {"type": "string"},
    "handler":     {"type": "string", "minLength": 1},
    "timeout":     {"type": "integer", "minimum": 1},
    "rateLimit":   {"type": "number", "minimum": 0}
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(configSchema)

// ConfigError lists every rejected entry of a bank configuration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "bank: invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ParseConfigs decodes a JSON array (or a single object) of bank configs
// and validates each entry. Any invalid entry fails the whole load, and
// the error names every offending entry.
func ParseConfigs(raw []byte) ([]Config, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrap(err, "bank: decode configuration")
	}

	var items []any
	switch v := doc.(type) {
	case []any:
		items = v
	case map[string]any:
		items = []any{v}
	default:
		return nil, eris.New("bank: configuration must be a JSON object or array")
	}

	var (
		configs  []Config
		problems []string
	)
	for i, item := range items {
		label := entryLabel(i, item)

		result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewGoLoader(item))
		if err != nil {
			return nil, eris.Wrapf(err, "bank: validate %s", label)
		}
		if !result.Valid() {
			for _, desc := range result.Errors() {
				problems = append(problems, fmt.Sprintf("%s: %s", label, desc.String()))
			}
			continue
		}

		data, err := json.Marshal(item)
		if err != nil {
			return nil, eris.Wrapf(err, "bank: re-encode %s", label)
		}
		var cfg Config
		if err := json.Unmarshal(data, &cfg); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", label, err))
			continue
		}
		if _, err := CompileHandler(cfg.Handler, 0); err != nil {
			problems = append(problems, fmt.Sprintf("%s: handler: %v", label, err))
			continue
		}
		configs = append(configs, cfg)
	}

	if dup := duplicateNames(configs); dup != "" {
		problems = append(problems, fmt.Sprintf("duplicate bank name %q", dup))
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return configs, nil
}

func entryLabel(i int, item any) string {
	if m, ok := item.(map[string]any); ok {
		if name, ok := m["name"].(string); ok && name != "" {
			return fmt.Sprintf("config[%d] (%s)", i, name)
		}
	}
	return fmt.Sprintf("config[%d]", i)
}

func duplicateNames(configs []Config) string {
	seen := make(map[string]bool, len(configs))
	for _, c := range configs {
		if seen[c.Name] {
			return c.Name
		}
		seen[c.Name] = true
	}
	return ""
}
