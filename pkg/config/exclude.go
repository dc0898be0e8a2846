package config

import (
	"path"
	"strings"
)

// Normalize trims config patterns and removes empty values.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.ExcludeSVMs = normalizePatterns(c.ExcludeSVMs)
	c.ExcludeVolumes = normalizePatterns(c.ExcludeVolumes)
	c.Array.Clusters = normalizeList(c.Array.Clusters)
}

// IsSVMExcluded reports whether svm matches exclude patterns.
func (c *Config) IsSVMExcluded(svm string) bool {
	if c == nil || len(c.ExcludeSVMs) == 0 {
		return false
	}

	value := normalizePattern(svm)
	if value == "" {
		return false
	}

	for _, pattern := range c.ExcludeSVMs {
		if patternMatches(pattern, value) {
			return true
		}
	}

	return false
}

// IsVolumeExcluded reports whether a volume matches exclude volumes/svms patterns.
// Volume patterns match either "svm:volume" or the bare volume name.
func (c *Config) IsVolumeExcluded(svm, volume string) bool {
	if c == nil {
		return false
	}

	if c.IsSVMExcluded(svm) {
		return true
	}

	name := normalizePattern(volume)
	if name == "" || len(c.ExcludeVolumes) == 0 {
		return false
	}
	qualified := normalizePattern(svm) + ":" + name

	for _, pattern := range c.ExcludeVolumes {
		if patternMatches(pattern, qualified) || patternMatches(pattern, name) {
			return true
		}
	}

	return false
}

func normalizePatterns(values []string) []string {
	if len(values) == 0 {
		return []string{}
	}

	normalized := make([]string, 0, len(values))
	for _, pattern := range values {
		p := normalizePattern(pattern)
		if p == "" {
			continue
		}
		normalized = append(normalized, p)
	}
	return normalized
}

func normalizePattern(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func patternMatches(pattern, value string) bool {
	normalizedPattern := normalizePattern(pattern)
	normalizedValue := normalizePattern(value)
	if normalizedPattern == "" || normalizedValue == "" {
		return false
	}

	// Invalid glob patterns are treated as exact matches.
	matched, err := path.Match(normalizedPattern, normalizedValue)
	if err == nil {
		return matched
	}
	return normalizedPattern == normalizedValue
}
