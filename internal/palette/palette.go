// Package palette holds the ordered colors assigned to comments by number.
package palette

import "strings"

// Palette is an ordered, cyclic list of color tokens.
type Palette []string

// Default is used when no override is configured.
var Default = Palette{
	"#FDE68A",
	"#A7F3D0",
	"#BFDBFE",
	"#FBCFE8",
	"#DDD6FE",
	"#FED7AA",
	"#C7D2FE",
	"#FECACA",
}

// Color returns the color for a 1-based comment number.
func (p Palette) Color(number int) string {
	if len(p) == 0 {
		return ""
	}
	idx := (number - 1) % len(p)
	if idx < 0 {
		idx += len(p)
	}
	return p[idx]
}

// Parse reads a comma-separated palette. Blank input yields Default.
func Parse(value string) Palette {
	var result Palette
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return Default
	}
	return result
}
