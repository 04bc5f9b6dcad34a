package store

import "strings"

// GlobToSQLite translates a symbol glob into an SQLite GLOB pattern.
// Only * (any run) and ? (any single character) are wildcards; a literal [
// would open a character class in GLOB, so it is wrapped as [[].
func GlobToSQLite(pattern string) string {
	if !strings.Contains(pattern, "[") {
		return pattern
	}
	return strings.ReplaceAll(pattern, "[", "[[]")
}
