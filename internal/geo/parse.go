package geo

import (
	"html"
	"strconv"
	"strings"
)

// ParseDistanceMeters converts human-readable distance text such as
// "350 m", "1.2 km" or "2,4 km" to meters. Unparseable input yields 0.
func ParseDistanceMeters(text string) float64 {
	value, unit := splitValueUnit(text)
	switch {
	case strings.HasPrefix(unit, "km"):
		return value * 1000.0
	case strings.HasPrefix(unit, "m"):
		return value
	}
	return 0
}

// ParseDurationSeconds converts duration text such as "5 min", "12 mins"
// or "1 hour 5 min" to seconds. Unparseable input yields 0.
func ParseDurationSeconds(text string) float64 {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	var total float64
	for i := 0; i+1 < len(fields); i += 2 {
		v, err := strconv.ParseFloat(strings.ReplaceAll(fields[i], ",", "."), 64)
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[i+1], "hour"), strings.HasPrefix(fields[i+1], "h"):
			total += v * 3600
		case strings.HasPrefix(fields[i+1], "min"):
			total += v * 60
		case strings.HasPrefix(fields[i+1], "sec"), strings.HasPrefix(fields[i+1], "s"):
			total += v
		}
	}
	return total
}

// StripMarkup removes HTML tags from instruction text and decodes
// entities, since directions providers embed formatting in instructions.
func StripMarkup(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.TrimSpace(html.UnescapeString(sb.String()))
}

func splitValueUnit(text string) (float64, string) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return 0, ""
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(fields[0], ",", "."), 64)
	if err != nil {
		return 0, ""
	}
	if len(fields) == 1 {
		return v, "m"
	}
	return v, fields[1]
}
