package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// EnvFileCandidates lists the env files LoadEnvFileCandidates reads, in order.
// DUCKMEM_ENV_FILE may name several files separated by the OS list separator.
func EnvFileCandidates() []string {
	var candidates []string
	if explicit := strings.TrimSpace(os.Getenv("DUCKMEM_ENV_FILE")); explicit != "" {
		candidates = append(candidates, filepath.SplitList(explicit)...)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".config", "duckmem", "env"),
			filepath.Join(home, ".duckmem", "env"),
			filepath.Join(home, ".duckmem", ".env"),
		)
	}
	return candidates
}

// LoadEnvFileCandidates loads environment variables from known files and
// returns the files that were read. Existing process env vars are never overridden.
func LoadEnvFileCandidates() []string {
	seen := map[string]struct{}{}
	var loaded []string
	for _, p := range EnvFileCandidates() {
		if strings.TrimSpace(p) == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = p
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		if loadEnvFile(abs) == nil {
			loaded = append(loaded, abs)
		}
	}
	return loaded
}

func loadEnvFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := parseEnvLine(sc.Text())
		if !ok {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, val)
	}
	return sc.Err()
}

// parseEnvLine accepts KEY=value with optional "export " prefix and quotes.
func parseEnvLine(line string) (key, val string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
	key, val, found := strings.Cut(line, "=")
	key = strings.TrimSpace(key)
	if !found || key == "" {
		return "", "", false
	}
	return key, trimOptionalQuotes(strings.TrimSpace(val)), true
}

func trimOptionalQuotes(v string) string {
	if len(v) < 2 {
		return v
	}
	if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
		return v[1 : len(v)-1]
	}
	return v
}
