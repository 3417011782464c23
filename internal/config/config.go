// Package config defines the serializable configuration model for a
// record-migration run. Pipelines are loaded from JSON or YAML files and
// passed through the program without additional glue code.
//
// Example (trimmed, YAML):
//
//	job: people-migration
//	parts: abc
//	input_dir: ./export
//	output_dir: ./out
//	stages:
//	  - name: a_people
//	    kind: csvsource
//	    options: { path: people.csv, fields: "id name _ email", skip_header: true }
//	  - name: b_fix_email
//	    kind: assign
//	    options: { fields: { email: "rec.email.lowerAscii()" } }
//	  - name: c_out
//	    kind: csvsink
//	    options: { path: people_out.csv, fields: "id name email", header: true }
//
// Stage-specific settings live in the free-form Options bag; each stage
// implementation documents the keys it reads.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Pipeline is the top-level object decoded from a pipeline file.
type Pipeline struct {
	// Job names the run for logs and metrics grouping.
	Job string `json:"job" yaml:"job"`

	// Parts is the run parts selector: a compact string of one-letter codes.
	// A stage is active only when its part code appears here. Empty or "*"
	// enables every stage.
	Parts string `json:"parts" yaml:"parts"`

	// InputDir is the base for relative source paths. Defaults to the
	// directory containing the pipeline file.
	InputDir string `json:"input_dir" yaml:"input_dir"`

	// OutputDir is the base for relative sink paths.
	OutputDir string `json:"output_dir" yaml:"output_dir"`

	// Defaults are merged under every stage's Options (stage values win).
	// Typical keys: delimiter, encoding, none.
	Defaults Options `json:"defaults" yaml:"defaults"`

	// Stages lists the ordered pipeline stages.
	Stages []Stage `json:"stages" yaml:"stages"`

	// Storage configures the optional target store used by "load" stages.
	Storage Storage `json:"storage" yaml:"storage"`

	// Lookups configures collaborator data made available to expressions.
	Lookups Lookups `json:"lookups" yaml:"lookups"`

	// Vars are free-form values seeded into run storage and exposed to
	// expressions as "vars".
	Vars Options `json:"vars" yaml:"vars"`
}

// Stage defines one element of the chain.
type Stage struct {
	// Name identifies the stage in logs and counters. Its first character is
	// the default part code.
	Name string `json:"name" yaml:"name"`

	// Kind selects the implementation (e.g. "csvsource", "csvsink", "count").
	Kind string `json:"kind" yaml:"kind"`

	// Part overrides the part code derived from Name.
	Part string `json:"part" yaml:"part"`

	// Options is interpreted by the selected implementation.
	Options Options `json:"options" yaml:"options"`
}

// Storage selects the target store backend.
type Storage struct {
	// Kind selects the backend: "postgres", "sqlite", "mssql". Empty disables.
	Kind string   `json:"kind" yaml:"kind"`
	DB   DBConfig `json:"db" yaml:"db"`
}

// DBConfig configures the target store connection and table.
type DBConfig struct {
	// DSN is the backend connection string.
	DSN string `json:"dsn" yaml:"dsn"`

	// Table is the destination table name (schema-qualified where supported).
	Table string `json:"table" yaml:"table"`

	// Columns are the destination columns in insert order.
	Columns []string `json:"columns" yaml:"columns"`

	// AutoCreateTable creates the table (all text columns) when missing.
	AutoCreateTable bool `json:"auto_create_table" yaml:"auto_create_table"`

	// BatchSize is the number of records per bulk insert. Defaults to 1000.
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// Lookups configures collaborator data sources.
type Lookups struct {
	Organizations *OrgLookup `json:"organizations" yaml:"organizations"`
}

// OrgLookup points at a CSV file listing organizations.
type OrgLookup struct {
	Path     string `json:"path" yaml:"path"`
	IDField  string `json:"id_field" yaml:"id_field"`
	EIDField string `json:"eid_field" yaml:"eid_field"`
	// Delimiter defaults to ",".
	Delimiter string `json:"delimiter" yaml:"delimiter"`
}

// Load reads a pipeline from path. Files ending in .yaml or .yml are decoded
// as YAML, everything else as JSON. InputDir defaults to the file's directory
// and OutputDir to InputDir.
func Load(path string) (Pipeline, error) {
	var p Pipeline
	b, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &p); err != nil {
			return p, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &p); err != nil {
			return p, fmt.Errorf("decode json config: %w", err)
		}
	}
	if p.InputDir == "" {
		p.InputDir = filepath.Dir(path)
	}
	if p.OutputDir == "" {
		p.OutputDir = p.InputDir
	}
	return p, nil
}

// StageOptions returns the stage's options layered over the pipeline
// defaults.
func (p Pipeline) StageOptions(s Stage) Options {
	out := make(Options, len(p.Defaults)+len(s.Options))
	for k, v := range p.Defaults {
		out[k] = v
	}
	for k, v := range s.Options {
		out[k] = v
	}
	return out
}

// Options is a small helper to fetch typed values from arbitrary decoded
// maps. It performs only minimal type coercion and returns the provided
// default when a key is absent or of an unexpected type.
type Options map[string]any

// String returns the string value for key or def if key is missing or not a string.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}

// Bool returns the bool value for key or def if key is missing or not a bool.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// Int returns the int value for key or def. JSON numbers decode as float64
// and YAML integers as int; both are accepted.
func (o Options) Int(key string, def int) int {
	if v, ok := o[key]; ok {
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case int64:
			return int(n)
		}
	}
	return def
}

// Rune returns the first rune of a string value for key, or def if key is
// missing or empty. Used for single-character settings such as a delimiter.
// The escape "\t" is accepted for tab.
func (o Options) Rune(key string, def rune) rune {
	if v, ok := o[key]; ok {
		if s, ok := v.(string); ok && len(s) > 0 {
			if s == `\t` {
				return '\t'
			}
			return []rune(s)[0]
		}
	}
	return def
}

// StringMap returns a map[string]string for key when the value is an object
// whose values are strings. Non-string values are ignored.
func (o Options) StringMap(key string) map[string]string {
	res := map[string]string{}
	if v, ok := o[key]; ok {
		if m, ok := v.(map[string]any); ok {
			for k, vv := range m {
				if s, ok := vv.(string); ok {
					res[k] = s
				}
			}
		}
	}
	return res
}

// StringSlice returns a []string for key when the value is an array of
// strings. Returns nil when the key is missing or the value is not an array.
func (o Options) StringSlice(key string) []string {
	if v, ok := o[key]; ok {
		switch vv := v.(type) {
		case []any:
			out := make([]string, 0, len(vv))
			for _, x := range vv {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		case []string:
			return vv
		}
	}
	return nil
}

// Fields returns a field-name list for key. The value may be a
// whitespace-separated string ("id name email") or an array of strings.
func (o Options) Fields(key string) []string {
	if s, ok := o[key].(string); ok {
		return strings.Fields(s)
	}
	return o.StringSlice(key)
}

// Has reports whether key is present.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}

// Any returns the raw value for key (which may itself be a nested
// map[string]any, []any, or primitive).
func (o Options) Any(key string) any {
	if v, ok := o[key]; ok {
		return v
	}
	return nil
}

// UnmarshalJSON makes a missing or null options object decode to a non-nil,
// empty Options map.
func (o *Options) UnmarshalJSON(b []byte) error {
	var tmp map[string]any
	if len(b) == 0 || string(b) == "null" {
		*o = Options{}
		return nil
	}
	if err := json.Unmarshal(b, &tmp); err != nil {
		return err
	}
	*o = Options(tmp)
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (o *Options) UnmarshalYAML(n *yaml.Node) error {
	var tmp map[string]any
	if err := n.Decode(&tmp); err != nil {
		return err
	}
	if tmp == nil {
		tmp = map[string]any{}
	}
	*o = Options(tmp)
	return nil
}
