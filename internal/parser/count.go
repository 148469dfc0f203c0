package parser

import (
	"math"
	"strconv"
	"strings"
)

// ParseCount reads an interaction counter such as "12", "1,024", "1.2k" or
// "3萬". Anything else yields (0, false).
func ParseCount(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", "")

	mult := 1.0
	switch {
	case strings.HasSuffix(s, "k"), strings.HasSuffix(s, "K"):
		mult, s = 1e3, s[:len(s)-1]
	case strings.HasSuffix(s, "萬"):
		mult, s = 1e4, strings.TrimSuffix(s, "萬")
	case strings.HasSuffix(s, "m"), strings.HasSuffix(s, "M"):
		mult, s = 1e6, s[:len(s)-1]
	}

	if mult == 1 {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return 0, false
		}
		return n, true
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	n := math.Round(f * mult)
	if n >= math.MaxInt {
		return 0, false
	}
	return int(n), true
}
