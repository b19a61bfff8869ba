package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// extendsKey names the file a config document builds on. The path is
// relative to the document that names it.
const extendsKey = "extends"

// readLayered reads path and every file it extends, oldest ancestor first,
// and merges them so that nearer files win. ${VAR} references in string
// values are expanded after the merge.
func readLayered(path string) (map[string]any, error) {
	var chain []map[string]any
	seen := map[string]bool{}
	for next := path; next != ""; {
		abs, err := filepath.Abs(next)
		if err != nil {
			return nil, err
		}
		if seen[abs] {
			return nil, fmt.Errorf("config extends cycle at %s", abs)
		}
		seen[abs] = true

		doc, err := readDocument(abs)
		if err != nil {
			return nil, err
		}
		chain = append(chain, doc)

		next, err = parent(doc, filepath.Dir(abs))
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", abs, err)
		}
	}

	merged := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		overlay(merged, chain[i])
	}
	expandEnv(merged)
	return merged, nil
}

func readDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return doc, nil
}

// parent removes the extends entry from doc and returns its resolved path.
func parent(doc map[string]any, dir string) (string, error) {
	v, ok := doc[extendsKey]
	if !ok {
		return "", nil
	}
	delete(doc, extendsKey)
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", extendsKey)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	if !filepath.IsAbs(s) {
		s = filepath.Join(dir, s)
	}
	return s, nil
}

// overlay copies src into dst. Nested objects merge key by key; any other
// value replaces what dst held.
func overlay(dst, src map[string]any) {
	for k, v := range src {
		sub, isObj := v.(map[string]any)
		if !isObj {
			dst[k] = v
			continue
		}
		cur, ok := dst[k].(map[string]any)
		if !ok {
			cur = map[string]any{}
			dst[k] = cur
		}
		overlay(cur, sub)
	}
}

// envRef matches ${NAME} and ${NAME:-fallback}.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// expandEnv rewrites string values in place. A reference to an unset
// variable without a fallback is left as written.
func expandEnv(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = expandEnv(item)
		}
	case []any:
		for i, item := range t {
			t[i] = expandEnv(item)
		}
	case string:
		return envRef.ReplaceAllStringFunc(t, func(ref string) string {
			m := envRef.FindStringSubmatch(ref)
			if val, ok := os.LookupEnv(m[1]); ok {
				return val
			}
			if strings.Contains(ref, ":-") {
				return m[2]
			}
			return ref
		})
	}
	return v
}
