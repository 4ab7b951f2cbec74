package storage

import (
	"strings"
)

var boroughAliases = map[string]string{
	"STATEN IS":     "STATEN ISLAND",
	"STATEN-ISLAND": "STATEN ISLAND",
	"MANHATTAN NY":  "MANHATTAN",
	"BKLYN":         "BROOKLYN",
}

// NormalizeBorough canonicalizes a borough name: upper case, single spaces,
// known abbreviations expanded. Placeholders such as "(null)" become "".
func NormalizeBorough(s string) string {
	s = collapseSpaces(strings.ToUpper(s))
	if isPlaceholder(s) {
		return ""
	}
	if full, ok := boroughAliases[s]; ok {
		return full
	}
	return s
}

// NormalizeCrimeType canonicalizes an offense description.
func NormalizeCrimeType(s string) string {
	s = collapseSpaces(strings.ToUpper(s))
	if isPlaceholder(s) {
		return ""
	}
	return s
}

// NormalizeVictimRace canonicalizes a victim race. "UNKNOWN" is a recorded
// category in the exports and is kept.
func NormalizeVictimRace(s string) string {
	s = collapseSpaces(strings.ToUpper(s))
	if s == "UNKNOWN" {
		return s
	}
	if isPlaceholder(s) {
		return ""
	}
	return s
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func isPlaceholder(s string) bool {
	switch s {
	case "", "(NULL)", "NULL", "N/A", "UNKNOWN":
		return true
	}
	return false
}
