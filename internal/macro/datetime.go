package macro

import (
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// timeUTC renders the current time in the UTC+N zone.
func (ev *evaluation) timeUTC(offset string) (string, bool) {
	hours, err := strconv.Atoi(offset)
	if err != nil || hours < -14 || hours > 14 {
		return "", false
	}
	return ev.now.UTC().Add(time.Duration(hours) * time.Hour).Format("3:04 PM"), true
}

func (ev *evaluation) dateTimeFormat(rest string) (string, bool) {
	format := strings.TrimSpace(rest)
	if format == "" {
		return "", false
	}
	return formatDate(format, ev.now), true
}

// timeDiff renders the humanized distance between two timestamps, e.g.
// "3 hours". Either side failing to parse leaves the macro untouched.
func (ev *evaluation) timeDiff(rest string) (string, bool) {
	a, b, ok := strings.Cut(rest, "::")
	if !ok {
		return "", false
	}
	t1, ok := parseTime(a, ev.now.Location())
	if !ok {
		return "", false
	}
	t2, ok := parseTime(b, ev.now.Location())
	if !ok {
		return "", false
	}
	return strings.TrimSpace(humanize.RelTime(t1, t2, "", "")), true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"January 2, 2006 3:04 PM",
	"January 2, 2006",
}

func parseTime(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// dateTokens is ordered longest first so "MMMM" is not read as "MM" twice.
var dateTokens = []string{"YYYY", "MMMM", "dddd", "MMM", "ddd", "YY", "MM", "DD", "HH", "hh", "mm", "ss", "A", "a"}

// formatDate substitutes moment-style tokens in format with components of t.
// Text inside square brackets is copied literally.
func formatDate(format string, t time.Time) string {
	var sb strings.Builder
	for i := 0; i < len(format); {
		if format[i] == '[' {
			if end := strings.IndexByte(format[i+1:], ']'); end >= 0 {
				sb.WriteString(format[i+1 : i+1+end])
				i += end + 2
				continue
			}
		}

		matched := false
		for _, tok := range dateTokens {
			if strings.HasPrefix(format[i:], tok) {
				sb.WriteString(dateToken(tok, t))
				i += len(tok)
				matched = true
				break
			}
		}
		if !matched {
			sb.WriteByte(format[i])
			i++
		}
	}
	return sb.String()
}

func dateToken(tok string, t time.Time) string {
	switch tok {
	case "YYYY":
		return t.Format("2006")
	case "YY":
		return t.Format("06")
	case "MMMM":
		return t.Format("January")
	case "MMM":
		return t.Format("Jan")
	case "MM":
		return t.Format("01")
	case "DD":
		return t.Format("02")
	case "dddd":
		return t.Format("Monday")
	case "ddd":
		return t.Format("Mon")
	case "HH":
		return t.Format("15")
	case "hh":
		return t.Format("03")
	case "mm":
		return t.Format("04")
	case "ss":
		return t.Format("05")
	case "A":
		return t.Format("PM")
	case "a":
		return strings.ToLower(t.Format("PM"))
	}
	return tok
}
