// Package ty holds small helper types shared across the packages.
package ty

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

var lineRegex = regexp.MustCompile(`^([a-zA-Z0-9_\-\.]+)\s*[:=]\s*(.*)$`)

// LoadMS adds the entries of a key/value file to ms. The file is either a
// JSON object of strings or lines of key=value (or key: value); blank lines
// and lines starting with # are skipped.
func (ms *MS) LoadMS(path string) error {
	value, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return err
	}
	if *ms == nil {
		*ms = MS{}
	}

	strValue := strings.TrimSpace(string(value))
	if strValue == "" {
		return nil
	}

	if strValue[0] == '{' {
		var parsed MS
		if err := json.Unmarshal(value, &parsed); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		MergeM(*ms, parsed)
		return nil
	}

	for i, line := range strings.Split(strValue, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		matches := lineRegex.FindStringSubmatch(line)
		if matches == nil {
			return fmt.Errorf("%s:%d: expected key=value", path, i+1)
		}
		(*ms)[matches[1]] = strings.TrimSpace(matches[2])
	}

	return nil
}
