// Package introspect performs best-effort static analysis of task scripts
// to discover the inputs they read and the outputs they produce. It is
// used by the required-parameter analyzer to decide which workflow inputs
// must come from the user and which will be wired from upstream steps.
package introspect

import (
	"os"
	"regexp"
	"strings"
)

var (
	// globals().get('key') reads a required input; the two-argument form
	// carries a default and is therefore optional.
	inputPattern = regexp.MustCompile(`globals\(\)\.get\(\s*['"]([\w]+)['"](\s*,)?`)

	resultPattern = regexp.MustCompile(`(?s)\bresult\s*=\s*\{([^}]*)\}`)
	returnPattern = regexp.MustCompile(`(?s)\breturn\s*\{([^}]*)\}`)
	keyPattern    = regexp.MustCompile(`['"]([\w]+)['"]\s*:`)
)

// Keys that denote error envelopes rather than data usable for chaining.
var excludedOutputKeys = map[string]struct{}{
	"error":     {},
	"err":       {},
	"exception": {},
	"message":   {},
	"msg":       {},
}

// Inputs returns the names a script requests without a default value, in
// first-seen order with duplicates removed. A missing or unreadable file
// yields nil; introspection never fails.
func Inputs(scriptPath string) []string {
	content, ok := readScript(scriptPath)
	if !ok {
		return nil
	}

	var keys []string
	seen := make(map[string]struct{})
	for _, m := range inputPattern.FindAllStringSubmatch(content, -1) {
		if m[2] != "" {
			continue // has a default, optional
		}
		key := m[1]
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

// Outputs returns the dictionary keys a script produces, collected from a
// top-level `result = {...}` assignment and from every `return {...}`
// statement. Error-envelope keys are filtered out. First-seen order,
// deduplicated; nil on any read failure.
func Outputs(scriptPath string) []string {
	content, ok := readScript(scriptPath)
	if !ok {
		return nil
	}

	var keys []string
	seen := make(map[string]struct{})

	collect := func(body string) {
		for _, k := range keyPattern.FindAllStringSubmatch(body, -1) {
			key := k[1]
			if _, excluded := excludedOutputKeys[strings.ToLower(key)]; excluded {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	if m := resultPattern.FindStringSubmatch(content); m != nil {
		collect(m[1])
	}
	for _, m := range returnPattern.FindAllStringSubmatch(content, -1) {
		collect(m[1])
	}
	return keys
}

func readScript(scriptPath string) (string, bool) {
	if scriptPath == "" {
		return "", false
	}
	info, err := os.Stat(scriptPath)
	if err != nil || info.IsDir() {
		return "", false
	}
	content, err := os.ReadFile(scriptPath)
	if err != nil {
		return "", false
	}
	return string(content), true
}
