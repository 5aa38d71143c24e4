package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LoadEnvFile reads a dotenv file and sets each "KEY=value" line into the
// process environment. Variables already present in the environment win
// over file values, so container env overrides always take precedence.
// Missing file is not an error. Lines starting with # and an optional
// "export " prefix are handled.
func LoadEnvFile(path string) error {
	path = filepath.Clean(path)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		if _, present := os.LookupEnv(key); present {
			continue
		}
		os.Setenv(key, unquoteEnv(strings.TrimSpace(line[idx+1:])))
	}
	return sc.Err()
}

func unquoteEnv(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
