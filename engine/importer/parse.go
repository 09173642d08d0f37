package importer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var thousandsGroups = regexp.MustCompile(`^\d{1,3}([.,]\d{3})+$`)

// parseNumber reads spreadsheet numbers written either way round:
// "18000", "18.000", "18,000", "18.000,50", "18,000.50", "US$ 18 000".
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',', r == '-':
			return r
		default:
			return -1
		}
	}, s)
	if s == "" {
		return 0, false
	}
	lastDot := strings.LastIndexByte(s, '.')
	lastComma := strings.LastIndexByte(s, ',')
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case thousandsGroups.MatchString(s):
		s = strings.NewReplacer(".", "", ",", "").Replace(s)
	default:
		s = strings.Replace(s, ",", ".", 1)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// parseInt accepts whole numbers, including "2020.0" as written by some
// spreadsheet exports.
func parseInt(s string) (int, bool) {
	f, ok := parseNumber(s)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
