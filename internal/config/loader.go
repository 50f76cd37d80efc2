package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

// includeKeys name the files a config file layers itself over. Paths are
// relative to the including file; later files override earlier ones and the
// including file overrides them all.
var includeKeys = []string{"$include", "include"}

// Load reads the YAML or JSON5 file at path, resolves $include directives,
// expands ${ENV} references, overlays the result on Default and validates it.
// An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		cfg := Default()
		return &cfg, cfg.Validate()
	}

	tree, err := (&treeReader{}).read(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	cfg, err := decodeTree(tree)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// treeReader loads a file and its includes into one generic map. chain holds
// the files currently being read, outermost first.
type treeReader struct {
	chain []string
}

func (r *treeReader) read(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, open := range r.chain {
		if open == abs {
			return nil, fmt.Errorf("include cycle: %s -> %s", strings.Join(r.chain, " -> "), abs)
		}
	}
	r.chain = append(r.chain, abs)
	defer func() { r.chain = r.chain[:len(r.chain)-1] }()

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	tree, err := parseTree(expandEnv(string(data)), filepath.Ext(abs))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", abs, err)
	}

	includes, err := popIncludes(tree)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	base := map[string]any{}
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(abs), inc)
		}
		layer, err := r.read(inc)
		if err != nil {
			return nil, err
		}
		overlay(base, layer)
	}
	overlay(base, tree)
	return base, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-[^}]*)?\}`)

// expandEnv replaces ${VAR} with the environment value and ${VAR:-fallback}
// with fallback when VAR is unset or empty. Any other $ is left alone.
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := envRef.FindStringSubmatch(ref)
		if v := os.Getenv(m[1]); v != "" || m[2] == "" {
			return v
		}
		return strings.TrimPrefix(m[2], ":-")
	})
}

// parseTree decodes a single document. .json and .json5 files are read as
// JSON5, everything else as YAML.
func parseTree(data, ext string) (map[string]any, error) {
	tree := map[string]any{}
	switch strings.ToLower(ext) {
	case ".json", ".json5":
		if err := json5.Unmarshal([]byte(data), &tree); err != nil {
			return nil, err
		}
	default:
		dec := yaml.NewDecoder(strings.NewReader(data))
		if err := dec.Decode(&tree); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
			return nil, errors.New("multiple YAML documents are not supported")
		}
	}
	if tree == nil {
		tree = map[string]any{}
	}
	return tree, nil
}

func popIncludes(tree map[string]any) ([]string, error) {
	var (
		key string
		val any
	)
	for _, k := range includeKeys {
		if v, ok := tree[k]; ok {
			if key != "" {
				return nil, fmt.Errorf("both %s and %s are set", key, k)
			}
			key, val = k, v
		}
	}
	if key == "" {
		return nil, nil
	}
	delete(tree, key)

	var paths []string
	switch v := val.(type) {
	case nil:
	case string:
		paths = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s entries must be strings, got %T", key, item)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("%s must be a path or a list of paths, got %T", key, val)
	}

	out := paths[:0]
	for _, p := range paths {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out, nil
}

// overlay merges src into dst. Nested maps merge key by key; any other value
// in src replaces the one in dst.
func overlay(dst, src map[string]any) {
	for key, val := range src {
		if sub, ok := val.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				overlay(existing, sub)
				continue
			}
		}
		dst[key] = val
	}
}

// decodeTree decodes tree over Default so absent keys keep their defaults.
// Unknown keys are errors.
func decodeTree(tree map[string]any) (*Config, error) {
	cfg := Default()
	if len(tree) == 0 {
		return &cfg, nil
	}
	payload, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
