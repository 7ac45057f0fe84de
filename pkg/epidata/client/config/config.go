package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/bascanada/epidata/pkg/query"
	"github.com/bascanada/epidata/pkg/ty"
)

// ErrContextNotFound is a sentinel error allowing callers to detect missing contexts via errors.Is.
var ErrContextNotFound = errors.New("context not found")

// Sentinel errors returned by LoadConfig so callers can detect exact
// failure modes using errors.Is().
var (
	ErrConfigParse = errors.New("invalid config content")
	ErrNoEngines   = errors.New("no engines found in config file")
)

const (
	// EnvConfigPath is the environment variable used to override the config path
	EnvConfigPath = "EPIDATA_CONFIG"

	// DefaultConfigDir is the directory under the user's home where the config
	// file is expected when no explicit path or env var is provided.
	DefaultConfigDir = ".epidata"

	// DefaultConfigFile is the config filename to look for in the default dir.
	DefaultConfigFile = "config.yaml"
)

// Engine types
const (
	EngineProcess = "process"
	EngineSSH     = "ssh"
	EngineRemote  = "remote"
	EngineMemory  = "memory"
)

// ResolvePath returns the config file to load: configPath when given, then
// $EPIDATA_CONFIG, then ~/.epidata/config.yaml when it exists.
func ResolvePath(configPath string) string {
	if strings.TrimSpace(configPath) != "" {
		return configPath
	}
	if envPath := strings.TrimSpace(os.Getenv(EnvConfigPath)); envPath != "" {
		return envPath
	}
	if home, err := os.UserHomeDir(); err == nil {
		defaultPath := filepath.Join(home, DefaultConfigDir, DefaultConfigFile)
		if _, err := os.Stat(defaultPath); err == nil {
			return defaultPath
		}
	}
	return ""
}

func LoadConfig(configPath string) (*Config, error) {
	configPath = ResolvePath(configPath)
	if configPath == "" {
		return nil, fmt.Errorf("config file not found: set --config or $%s", EnvConfigPath)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found at path: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config, err := Parse(data, filepath.Ext(configPath))
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, configPath)
	}
	return config, nil
}

// Parse decodes config content. ext selects the format (".json", ".yaml");
// anything else tries JSON then YAML.
func Parse(data []byte, ext string) (*Config, error) {
	var config Config
	switch strings.ToLower(ext) {
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: parsing JSON: %v", ErrConfigParse, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("%w: parsing YAML: %v", ErrConfigParse, err)
		}
	default:
		if err := json.Unmarshal(data, &config); err != nil {
			config = Config{}
			if err := yaml.Unmarshal(data, &config); err != nil {
				return nil, fmt.Errorf("%w: unsupported or invalid config format", ErrConfigParse)
			}
		}
	}

	if len(config.Engines) == 0 {
		return nil, ErrNoEngines
	}
	if config.Queries == nil {
		config.Queries = Queries{}
	}
	if config.Contexts == nil {
		config.Contexts = Contexts{}
	}

	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// validate checks the required options of every engine and the references
// of every context, returning all problems at once.
func validate(cc *Config) error {
	problems := []string{}

	for _, name := range sortedKeys(cc.Engines) {
		e := cc.Engines[name]
		switch strings.ToLower(e.Type) {
		case EngineProcess:
			if e.Options.GetString("classpath") == "" {
				if _, ok := e.Options.GetListOfStringsOk("command"); !ok {
					problems = append(problems, fmt.Sprintf("engine '%s' (process) missing required option 'classpath' or 'command'", name))
				}
			}
		case EngineSSH:
			if e.Options.GetString("addr") == "" {
				problems = append(problems, fmt.Sprintf("engine '%s' (ssh) missing required option 'addr'", name))
			}
			if e.Options.GetString("user") == "" {
				problems = append(problems, fmt.Sprintf("engine '%s' (ssh) missing required option 'user'", name))
			}
		case EngineRemote:
			if e.Options.GetString("endpoint") == "" {
				problems = append(problems, fmt.Sprintf("engine '%s' (remote) missing required option 'endpoint'", name))
			}
		case EngineMemory:
			// data is optional, an empty engine is valid
		default:
			problems = append(problems, fmt.Sprintf("engine '%s' has unknown type '%s'", name, e.Type))
		}
	}

	for _, id := range sortedKeys(cc.Contexts) {
		c := cc.Contexts[id]
		if c.Engine == "" {
			problems = append(problems, fmt.Sprintf("context '%s' has no engine", id))
		} else if _, ok := cc.Engines[c.Engine]; !ok {
			problems = append(problems, fmt.Sprintf("context '%s' references unknown engine '%s'", id, c.Engine))
		}
		for _, inherit := range c.QueryInherit {
			if _, ok := cc.Queries[inherit]; !ok {
				problems = append(problems, fmt.Sprintf("context '%s' inherits unknown query '%s'", id, inherit))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// VariableDefinition describes a dynamic parameter of a query.
// This provides metadata to UIs and LLMs about what inputs are expected.
type VariableDefinition struct {
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Required    bool        `json:"required,omitempty" yaml:"required,omitempty"`
}

type Engine struct {
	Type    string `json:"type" yaml:"type"`
	Options ty.MI  `json:"options" yaml:"options"`
	// KeyFields are the columns of listKeys results for this engine.
	KeyFields []string `json:"keyFields,omitempty" yaml:"keyFields,omitempty"`
}

// Query is a saved query: field constraints, a range and the variables it
// may reference.
type Query struct {
	Fields    query.FieldQuery              `json:"fields,omitempty" yaml:"fields,omitempty"`
	Range     query.RangeSpec               `json:"range,omitempty" yaml:"range,omitempty"`
	Variables map[string]VariableDefinition `json:"variables,omitempty" yaml:"variables,omitempty"`
}

// Merge overrides q with the values set in other.
func (q *Query) Merge(other *Query) {
	q.Fields = q.Fields.Merge(other.Fields)
	q.Range.Merge(&other.Range)
	if q.Variables == nil {
		q.Variables = make(map[string]VariableDefinition)
	}
	for k, v := range other.Variables {
		q.Variables[k] = v
	}
}

type QueryContext struct {
	Engine       string   `json:"engine" yaml:"engine"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Kind         string   `json:"kind,omitempty" yaml:"kind,omitempty"`
	QueryInherit []string `json:"queryInherit,omitempty" yaml:"queryInherit,omitempty"`
	Query        Query    `json:"query" yaml:"query"`
}

type Engines map[string]Engine

type Queries map[string]Query

type Contexts map[string]QueryContext

type Config struct {
	Engines  `json:"engines" yaml:"engines"`
	Queries  `json:"queries" yaml:"queries"`
	Contexts `json:"contexts" yaml:"contexts"`
}

// ContextIDs returns the context ids in sorted order.
func (cc Config) ContextIDs() []string {
	return sortedKeys(cc.Contexts)
}

// GetQueryContext resolves a context: inherited queries are applied in
// order, then the context query, then override. Variables are resolved with
// runtimeVars over the declared defaults, then the environment.
func (cc Config) GetQueryContext(contextID string, inherits []string, override Query, runtimeVars map[string]string) (QueryContext, error) {
	if contextID == "" {
		return QueryContext{}, errors.New("contextId is empty, required when using config")
	}

	qc, ok := cc.Contexts[contextID]
	if !ok {
		return QueryContext{}, fmt.Errorf("%w: %s", ErrContextNotFound, contextID)
	}

	resolved := Query{}
	allInherits := append(append([]string{}, qc.QueryInherit...), inherits...)
	for _, inherit := range allInherits {
		base, found := cc.Queries[inherit]
		if !found {
			return QueryContext{}, fmt.Errorf("failed to find a query for %s", inherit)
		}
		resolved.Merge(&base)
	}
	resolved.Merge(&qc.Query)
	resolved.Merge(&override)

	vars, err := completeVariables(resolved.Variables, runtimeVars)
	if err != nil {
		return QueryContext{}, fmt.Errorf("context %s: %w", contextID, err)
	}

	resolved.Fields = resolved.Fields.ResolveVariablesWith(vars)
	for _, o := range []*ty.Opt[string]{&resolved.Range.Begin, &resolved.Range.End, &resolved.Range.Last} {
		if o.Set {
			o.S(ty.ResolveVars(o.Value, vars))
		}
	}

	qc.Query = resolved
	qc.QueryInherit = allInherits
	return qc, nil
}

func completeVariables(defs map[string]VariableDefinition, runtimeVars map[string]string) (map[string]string, error) {
	vars := make(map[string]string)
	for name, def := range defs {
		if def.Default != nil {
			vars[name] = fmt.Sprintf("%v", def.Default)
		}
	}
	for k, v := range runtimeVars {
		vars[k] = v
	}

	missing := []string{}
	for _, name := range sortedKeys(defs) {
		if !defs[name].Required {
			continue
		}
		if _, ok := vars[name]; ok {
			continue
		}
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		missing = append(missing, name)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required variables: %s", strings.Join(missing, ", "))
	}
	return vars, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
