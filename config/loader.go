package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sugawarayuuta/sonnet"
	"gopkg.in/yaml.v3"

	"github.com/alexitosrv/atlas/errors"
)

const (
	maxConfigSize  = 10 << 20 // 10MB max config file size
	maxConfigDepth = 32       // Maximum nesting depth of a config document
	maxEnvVarLen   = 10000    // Maximum environment variable value length
	maxPathLen     = 4096     // Maximum file path length
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ATLAS_LWC"

// envOverride maps an environment variable suffix to a document path.
type envOverride struct {
	suffix string
	path   []string
	kind   string // string, bool or int
}

var envOverrides = []envOverride{
	{"SOURCE_TYPE", []string{"source", "type"}, "string"},
	{"SOURCE_URL", []string{"source", "config", "url"}, "string"},
	{"SINK_TYPE", []string{"sink", "type"}, "string"},
	{"STAGE_NAME", []string{"stage", "name"}, "string"},
	{"METRICS_ENABLED", []string{"metrics", "enabled"}, "bool"},
	{"METRICS_PORT", []string{"metrics", "port"}, "int"},
	{"LOG_LEVEL", []string{"log", "level"}, "string"},
	{"LOG_FORMAT", []string{"log", "format"}, "string"},
}

// Loader reads configuration documents
type Loader struct {
	envPrefix string
	getenv    func(string) string
}

// NewLoader creates a loader reading ATLAS_LWC_* overrides from the process
// environment.
func NewLoader() *Loader {
	return &Loader{
		envPrefix: EnvPrefix,
		getenv:    os.Getenv,
	}
}

// LoadFile loads configuration from a YAML or JSON file
func (l *Loader) LoadFile(path string) (*Config, error) {
	data, err := safeReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "LoadFile", "read config file")
	}
	return l.Load(data)
}

// Load parses a YAML or JSON document, merges it over the defaults, applies
// environment overrides and validates the result. Empty input yields the
// defaults.
func (l *Loader) Load(data []byte) (*Config, error) {
	override, err := parseDocument(data)
	if err != nil {
		return nil, err
	}

	doc, err := defaultDocument()
	if err != nil {
		return nil, err
	}
	doc = deepMergeMaps(doc, override)

	if err := l.applyEnvOverrides(doc); err != nil {
		return nil, err
	}
	if err := ValidateDocument(doc); err != nil {
		return nil, err
	}

	cfg, err := decodeDocument(doc)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Encode renders cfg as YAML using the same field names a file uses.
func Encode(cfg *Config) ([]byte, error) {
	data, err := sonnet.Marshal(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Encode", "marshal config")
	}
	var doc map[string]any
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "Config", "Encode", "convert config")
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Encode", "marshal YAML")
	}
	return out, nil
}

func parseDocument(data []byte) (map[string]any, error) {
	if len(data) > maxConfigSize {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
			fmt.Sprintf("config too large: %d bytes > %d", len(data), maxConfigSize))
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"Loader", "Load", "parse config")
	}
	if raw == nil {
		return map[string]any{}, nil
	}

	normalized, err := normalize(raw, 0)
	if err != nil {
		return nil, err
	}
	doc, ok := normalized.(map[string]any)
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
			"config document must be a mapping")
	}
	return doc, nil
}

// normalize turns YAML mappings into map[string]any and enforces the
// nesting limit.
func normalize(v any, depth int) (any, error) {
	if depth > maxConfigDepth {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Loader", "Load",
			fmt.Sprintf("config nesting too deep: > %d", maxConfigDepth))
	}

	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			n, err := normalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			n, err := normalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(k)] = n
		}
		return out, nil
	case []any:
		for i, item := range t {
			n, err := normalize(item, depth+1)
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	default:
		return v, nil
	}
}

func defaultDocument() (map[string]any, error) {
	data, err := sonnet.Marshal(Default())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "marshal defaults")
	}
	var doc map[string]any
	if err := sonnet.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "convert defaults")
	}
	return doc, nil
}

func decodeDocument(doc map[string]any) (*Config, error) {
	data, err := sonnet.Marshal(doc)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "marshal merged config")
	}
	var cfg Config
	if err := sonnet.Unmarshal(data, &cfg); err != nil {
		return nil, errors.WrapInvalid(err, "Loader", "Load", "decode config")
	}
	return &cfg, nil
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(doc map[string]any) error {
	for _, o := range envOverrides {
		key := l.envPrefix + "_" + o.suffix
		val := l.getenv(key)
		if val == "" {
			continue
		}
		if err := validateEnvVar(key, val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}

		var value any = val
		switch o.kind {
		case "bool":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key+" must be a boolean")
			}
			value = b
		case "int":
			n, err := strconv.Atoi(val)
			if err != nil {
				return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key+" must be an integer")
			}
			value = n
		}
		setPath(doc, value, o.path...)
	}
	return nil
}

func setPath(doc map[string]any, value any, path ...string) {
	for _, key := range path[:len(path)-1] {
		next, ok := doc[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			doc[key] = next
		}
		doc = next
	}
	doc[path[len(path)-1]] = value
}

// validateEnvVar does basic environment variable validation
func validateEnvVar(key, value string) error {
	if len(value) > maxEnvVarLen {
		return fmt.Errorf("environment variable %s too long: %d > %d", key, len(value), maxEnvVarLen)
	}
	if strings.Contains(value, "\x00") {
		return fmt.Errorf("null byte in environment variable %s", key)
	}
	return nil
}

// safeReadFile reads a config file after checking its name, type and size
func safeReadFile(path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty config path", errors.ErrMissingConfig)
	}
	if len(path) > maxPathLen {
		return nil, fmt.Errorf("path too long: %d > %d", len(path), maxPathLen)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("only YAML or JSON config files allowed: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot stat config file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("not a regular file: %s", path)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes > %d", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}
	return data, nil
}
