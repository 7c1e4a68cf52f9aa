package engine

import (
	"bufio"
	"maps"
	"os"
	"strings"
)

// loadEnv parses an environment file of `key: value` lines. Blank lines and
// #-comments are ignored. The values seed every scenario's scope.
func loadEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vars := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		vars[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return vars, nil
}

func buildVars(opts RunOptions) (map[string]string, error) {
	vars, err := loadEnv(opts.EnvPath)
	if err != nil {
		return nil, err
	}
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, opts.Vars)
	return vars, nil
}

func cloneVars(in map[string]string) map[string]string {
	out := map[string]string{}
	maps.Copy(out, in)
	return out
}
