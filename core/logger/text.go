package logger

import (
	"strings"
	"time"
	"unicode"
)

// Status maps an error to the status attr value.
func Status(err error) string {
	if err != nil {
		return "fail"
	}
	return "ok"
}

// RoundMS rounds d to whole milliseconds; negative values become zero.
func RoundMS(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d.Round(time.Millisecond)
}

// Clip removes control and format runes from s, keeping tabs and newlines,
// and cuts the result to at most n runes.
func Clip(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(min(len(s), n*4))
	kept := 0
	for _, r := range s {
		if r != '\n' && r != '\t' && (unicode.IsControl(r) || unicode.Is(unicode.Cf, r)) {
			continue
		}
		if kept == n {
			break
		}
		b.WriteRune(r)
		kept++
	}
	return b.String()
}

// Preview joins the first n values and reports whether some were left out.
func Preview(values []string, n int) (string, bool) {
	if len(values) <= n {
		return strings.Join(values, ", "), false
	}
	if n <= 0 {
		return "", true
	}
	return strings.Join(values[:n], ", "), true
}
