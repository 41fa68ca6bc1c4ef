package smi

import (
	"strconv"
	"strings"
)

// Sentinel tokens nvidia-smi prints in place of a value it cannot report.
const (
	tokenAbsent       = "-"
	tokenNotAvailable = "[N/A]"
	tokenNotSupported = "[Not Supported]"
	tokenUnknownError = "[Unknown Error]"
)

// isAbsent reports whether a trimmed field is one of the "no value" sentinels.
func isAbsent(s string) bool {
	switch s {
	case "", tokenAbsent, tokenNotAvailable, tokenNotSupported, tokenUnknownError:
		return true
	}
	return false
}

// isHeader reports whether a whitespace-delimited line is a comment or header.
func isHeader(line string) bool {
	return line == "" || line[0] == '#'
}

func optionalUint32(s string) *uint32 {
	s = strings.TrimSpace(s)
	if isAbsent(s) {
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return nil
	}
	u := uint32(v)
	return &u
}

func optionalFloat64(s string) *float64 {
	s = strings.TrimSpace(s)
	if isAbsent(s) {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// uint64OrZero parses a counter-like field, mapping sentinels and garbage to 0.
func uint64OrZero(s string) uint64 {
	s = strings.TrimSpace(s)
	if isAbsent(s) {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func requiredUint32(s string) (uint32, bool) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// splitCSV splits a CSV record on commas and trims whitespace around each cell.
// nvidia-smi never quotes cells, so no quote handling is needed.
func splitCSV(line string) []string {
	parts := strings.Split(line, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// stripUnit removes a trailing unit token such as " MiB" or " W" from a cell.
func stripUnit(s, unit string) string {
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), unit))
}
