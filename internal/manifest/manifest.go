// Package manifest loads and indexes plugin descriptors. Each plugin
// directory carries a command.yaml manifest declaring its triggers, typed
// argument schema, security limits, and handler entry point.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// Filename is the manifest file looked for in each plugin directory.
const Filename = "command.yaml"

// Arg declares one typed argument in a manifest.
type Arg struct {
	Name     string   `yaml:"name" json:"name"`
	Type     string   `yaml:"type" json:"type"` // string | int | bool | enum
	Required bool     `yaml:"required" json:"required,omitempty"`
	Help     string   `yaml:"help" json:"help,omitempty"`
	Pattern  string   `yaml:"pattern" json:"pattern,omitempty"`
	Enum     []string `yaml:"enum" json:"enum,omitempty"`
}

// Resources bounds a handler's execution.
type Resources struct {
	TimeoutMs    int `yaml:"timeout_ms" json:"timeout_ms,omitempty"`
	MaxStdoutKiB int `yaml:"max_stdout_kib" json:"max_stdout_kib,omitempty"`
}

// Security declares a manifest's execution constraints.
type Security struct {
	Scope           string    `yaml:"scope" json:"scope,omitempty"`
	AllowRemote     bool      `yaml:"allow_remote" json:"allow_remote,omitempty"`
	Resources       Resources `yaml:"resources" json:"resources,omitempty"`
	AllowedBinaries []string  `yaml:"allowed_binaries" json:"allowed_binaries,omitempty"`
}

// Runtime names the handler entry point.
type Runtime struct {
	Entry       string `yaml:"entry" json:"entry"`
	Interpreter string `yaml:"interpreter" json:"interpreter,omitempty"`
}

// Stdout declares the kind of output a handler produces.
type Stdout struct {
	Type string `yaml:"type" json:"type,omitempty"`
}

// Manifest is a plugin descriptor. Triggers and aliases must be unique
// across the registry.
type Manifest struct {
	Name        string   `yaml:"name"`
	Version     string   `yaml:"version"`
	Summary     string   `yaml:"summary"`
	Description string   `yaml:"description"`
	Triggers    []string `yaml:"triggers"`
	Aliases     []string `yaml:"aliases"`
	Args        []Arg    `yaml:"args"`
	Stdin       bool     `yaml:"stdin"`
	Stdout      Stdout   `yaml:"stdout"`
	Security    Security `yaml:"security"`
	Runtime     Runtime  `yaml:"runtime"`

	// Dir is the plugin directory the manifest was loaded from.
	Dir string `yaml:"-"`
}

// Defaults applied after validation.
const (
	defaultTimeoutMs    = 5000
	defaultMaxStdoutKiB = 64
	defaultInterpreter  = "/bin/sh"
)

// schemaText is the JSON schema every manifest must satisfy. Unknown fields
// pass through unvalidated so newer manifests keep loading on older builds.
const schemaText = `{
  "type": "object",
  "required": ["name", "version", "summary", "triggers", "runtime"],
  "properties": {
    "name": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
    "version": {"type": "string", "pattern": "^\\d+\\.\\d+\\.\\d+$"},
    "summary": {"type": "string", "maxLength": 100},
    "description": {"type": "string"},
    "triggers": {
      "type": "array",
      "items": {"type": "string", "pattern": "^/[a-z][a-z0-9_-]*$"},
      "minItems": 1
    },
    "aliases": {
      "type": "array",
      "items": {"type": "string", "pattern": "^/[a-z][a-z0-9_-]*$"}
    },
    "args": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "pattern": "^[a-z][a-z0-9_-]*$"},
          "type": {"enum": ["string", "int", "bool", "enum"]},
          "required": {"type": "boolean"},
          "help": {"type": "string"},
          "pattern": {"type": "string"},
          "enum": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "stdin": {"type": "boolean"},
    "stdout": {
      "type": "object",
      "properties": {
        "type": {"enum": ["text", "json", "binary"]}
      }
    },
    "security": {
      "type": "object",
      "properties": {
        "scope": {"enum": ["user", "system"]},
        "allow_remote": {"type": "boolean"},
        "allowed_binaries": {"type": "array", "items": {"type": "string"}},
        "resources": {
          "type": "object",
          "properties": {
            "timeout_ms": {"type": "integer", "minimum": 100},
            "max_stdout_kib": {"type": "integer", "minimum": 1}
          }
        }
      }
    },
    "runtime": {
      "type": "object",
      "required": ["entry"],
      "properties": {
        "entry": {"type": "string"},
        "interpreter": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("command.schema.json", schemaText)
	})
	return schema, schemaErr
}

// Load reads, validates, and decodes one manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Decode(data, filepath.Dir(path))
}

// Decode validates raw manifest YAML against the schema and decodes it.
func Decode(data []byte, dir string) (*Manifest, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	compiled, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("compile manifest schema: %w", err)
	}
	if err := compiled.Validate(raw); err != nil {
		return nil, fmt.Errorf("manifest schema: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	m.Dir = dir
	m.applyDefaults()
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if m.Security.Resources.TimeoutMs == 0 {
		m.Security.Resources.TimeoutMs = defaultTimeoutMs
	}
	if m.Security.Resources.MaxStdoutKiB == 0 {
		m.Security.Resources.MaxStdoutKiB = defaultMaxStdoutKiB
	}
	if m.Runtime.Interpreter == "" {
		m.Runtime.Interpreter = defaultInterpreter
	}
	if m.Stdout.Type == "" {
		m.Stdout.Type = "text"
	}
}

// Timeout is the manifest's execution wall-clock limit.
func (m *Manifest) Timeout() time.Duration {
	return time.Duration(m.Security.Resources.TimeoutMs) * time.Millisecond
}

// MaxOutputBytes is the manifest's stdout/stderr capture cap.
func (m *Manifest) MaxOutputBytes() int {
	return m.Security.Resources.MaxStdoutKiB * 1024
}

// EntryPath resolves the handler entry point inside the plugin directory.
func (m *Manifest) EntryPath() string {
	return filepath.Join(m.Dir, m.Runtime.Entry)
}

// Keys returns every trigger and alias the manifest claims, normalized.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Triggers)+len(m.Aliases))
	for _, t := range m.Triggers {
		keys = append(keys, strings.ToLower(strings.TrimSpace(t)))
	}
	for _, a := range m.Aliases {
		keys = append(keys, strings.ToLower(strings.TrimSpace(a)))
	}
	return keys
}
