package api

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// InvalidIDChars matches characters not permitted in run keys and artifact
// names. Valid characters are: letters, digits, underscore, dot, hyphen,
// plus, space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}

// SuiteRunKey builds the registry key of one flow within a suite run
func SuiteRunKey(tag, flowName string, at time.Time) string {
	if tag == "" {
		tag = "all"
	}
	return fmt.Sprintf("suite-%s-%s-%d",
		SanitizeID(tag), SanitizeID(flowName), at.UnixMilli(),
	)
}

// SnapshotNameOrDefault returns the step's snapshot name, derived from its ID when
// none was supplied
func (s *Step) SnapshotNameOrDefault() string {
	if s.SnapshotName != "" {
		return SanitizeID(s.SnapshotName)
	}
	if s.ID != "" {
		return "snapshot-" + SanitizeID(s.ID)
	}
	return "snapshot"
}
