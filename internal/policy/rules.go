package policy

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strings"
)

// Argument keys treated as filesystem paths regardless of value shape.
var pathArgKeys = map[string]bool{
	"path":        true,
	"file":        true,
	"filepath":    true,
	"file_path":   true,
	"filename":    true,
	"dir":         true,
	"directory":   true,
	"source":      true,
	"destination": true,
	"dest":        true,
	"target":      true,
}

// Destructive raw-query shapes rejected for non-read scopes.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE|SCHEMA)\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+[^\s;]+\s*(;|$)`),
	regexp.MustCompile(`rm\s+-rf?\s+/`),
}

// defaultDeniedPathPatterns protect well-known sensitive files even when a
// server policy lists none of its own.
var defaultDeniedPathPatterns = []string{".env", ".git", "package.json"}

// extractArgs decodes the argument object. A missing or malformed body is
// treated as no arguments; the tool server validates its own inputs.
func extractArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil
	}
	return args
}

// pathCandidates collects argument values that resemble filesystem paths:
// values under path-ish keys, plus any string that is absolute or climbs
// directories.
func pathCandidates(args map[string]any) []string {
	var paths []string
	for key, val := range args {
		str, ok := val.(string)
		if !ok {
			continue
		}
		if pathArgKeys[strings.ToLower(key)] || looksLikePath(str) {
			paths = append(paths, str)
		}
	}
	return paths
}

func looksLikePath(s string) bool {
	return strings.HasPrefix(s, "/") || strings.HasPrefix(s, "./") ||
		strings.HasPrefix(s, "../") || strings.Contains(s, "/../")
}

// outsideSandbox reports whether path, normalized and resolved against root,
// escapes root.
func outsideSandbox(path, root string) bool {
	if root == "" {
		return false
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	cleaned := filepath.Clean(path)
	root = filepath.Clean(root)

	return cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator))
}

// matchesDeniedPattern reports whether any segment of path matches a denied
// pattern, by exact name or glob.
func matchesDeniedPattern(path string, patterns []string) (string, bool) {
	segments := strings.Split(filepath.ToSlash(filepath.Clean(path)), "/")
	for _, pattern := range patterns {
		for _, seg := range segments {
			if seg == pattern {
				return pattern, true
			}
			if ok, err := filepath.Match(pattern, seg); err == nil && ok {
				return pattern, true
			}
		}
	}
	return "", false
}

// containsDangerousQuery scans string argument values for destructive
// operation patterns.
func containsDangerousQuery(args map[string]any) bool {
	for _, val := range args {
		str, ok := val.(string)
		if !ok {
			continue
		}
		for _, re := range dangerousPatterns {
			if re.MatchString(str) {
				return true
			}
		}
	}
	return false
}
