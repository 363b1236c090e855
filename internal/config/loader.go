package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// loader tracks the include chain while building the raw config tree. The
// chain doubles as cycle detection and as context in error messages.
type loader struct {
	chain []string
}

// LoadRaw reads a configuration file into a merged raw map. $include
// directives pull in other files (relative paths resolve against the
// including file); later files win key conflicts, with nested maps merged
// recursively. ${VAR} references expand from the environment before parsing.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	var l loader
	return l.load(path)
}

func (l *loader) load(path string) (map[string]any, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	for _, prev := range l.chain {
		if prev == abs {
			return nil, fmt.Errorf("config include cycle: %s", strings.Join(append(l.chain, abs), " -> "))
		}
	}
	l.chain = append(l.chain, abs)
	defer func() { l.chain = l.chain[:len(l.chain)-1] }()

	doc, err := l.readDocument(abs)
	if err != nil {
		return nil, err
	}

	includes, err := takeIncludes(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}

	result := map[string]any{}
	for _, inc := range includes {
		target := inc
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(abs), target)
		}
		sub, err := l.load(target)
		if err != nil {
			return nil, err
		}
		result = mergeMaps(result, sub)
	}
	return mergeMaps(result, doc), nil
}

// readDocument parses one file as JSON5 or single-document YAML, after
// environment expansion.
func (l *loader) readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	body := []byte(expandEnv(string(data)))

	doc := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		if err := json5.Unmarshal(body, &doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		dec := yaml.NewDecoder(bytes.NewReader(body))
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := dec.Decode(&struct{}{}); err != io.EOF {
			return nil, fmt.Errorf("%s: expected a single YAML document", path)
		}
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

var envRefPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// expandEnv substitutes ${VAR} references with environment values. Only the
// braced form expands, so bare $ tokens such as the $include key survive
// parsing untouched.
func expandEnv(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// takeIncludes removes the $include entry from doc and returns its paths.
func takeIncludes(doc map[string]any) ([]string, error) {
	value, ok := doc[includeKey]
	if !ok {
		return nil, nil
	}
	delete(doc, includeKey)

	var paths []string
	switch typed := value.(type) {
	case string:
		paths = []string{typed}
	case []any:
		for _, entry := range typed {
			s, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings, got %T", entry)
			}
			paths = append(paths, s)
		}
	default:
		return nil, fmt.Errorf("$include must be a string or list of strings, got %T", value)
	}

	kept := paths[:0]
	for _, p := range paths {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// mergeMaps overlays src onto dst. Map values merge recursively; any other
// value in src replaces the one in dst.
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		srcMap, srcIsMap := value.(map[string]any)
		dstMap, dstIsMap := dst[key].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[key] = mergeMaps(dstMap, srcMap)
			continue
		}
		dst[key] = value
	}
	return dst
}

// decodeRawConfig converts the merged raw tree into the typed Config.
// Unknown keys are an error so misspelled settings fail loudly.
func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(payload))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
