// Package eta turns free-text delivery SLAs into concrete delivery dates.
package eta

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultDays is used when the SLA text cannot be parsed.
	DefaultDays = 5

	// MaxDays caps a parsed day count.
	MaxDays = 3650
)

// Policy picks a single day count from an SLA range.
type Policy string

const (
	PolicyMin Policy = "min"
	PolicyMax Policy = "max"
	PolicyAvg Policy = "avg"
)

// ParsePolicy maps s to a Policy, defaulting to PolicyMax.
func ParsePolicy(s string) Policy {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyMin, PolicyAvg:
		return p
	default:
		return PolicyMax
	}
}

// SLA is a parsed delivery promise. Min and Max are nil when the text could
// not be parsed. Business still reflects the wording in that case, so "a few
// business days" falls back to DefaultDays business days rather than
// calendar days.
type SLA struct {
	Min      *int
	Max      *int
	Business bool
}

// Parsed reports whether the SLA text yielded a day range.
func (s SLA) Parsed() bool {
	return s.Min != nil && s.Max != nil
}

// Days resolves the SLA to a single day count under policy p. Unparsed SLAs
// give DefaultDays.
func (s SLA) Days(p Policy) int {
	if !s.Parsed() {
		return DefaultDays
	}
	switch p {
	case PolicyMin:
		return *s.Min
	case PolicyAvg:
		return int(math.RoundToEven(float64(*s.Min+*s.Max) / 2))
	default:
		return *s.Max
	}
}

var (
	dashes    = strings.NewReplacer("\u2013", "-", "\u2014", "-")
	rangeDays = regexp.MustCompile(`(\d+)\s*-\s*(\d+)\s*(?:(?:business|working)\s+)?day`)
	oneDays   = regexp.MustCompile(`(\d+)\s*(?:(?:business|working)\s+)?day`)
)

// ParseSLA reads texts such as "3-5 business days", "same day" or
// "7 days".
func ParseSLA(text string) SLA {
	t := dashes.Replace(strings.ToLower(strings.TrimSpace(text)))

	switch {
	case strings.Contains(t, "same day"):
		return span(0, 0, false)
	case strings.Contains(t, "next day"), strings.Contains(t, "tomorrow"):
		return span(1, 1, false)
	}

	business := strings.Contains(t, "business") || strings.Contains(t, "working")

	if m := rangeDays.FindStringSubmatch(t); m != nil {
		a, b := atoiDays(m[1]), atoiDays(m[2])
		return span(min(a, b), max(a, b), business)
	}
	if m := oneDays.FindStringSubmatch(t); m != nil {
		d := atoiDays(m[1])
		return span(d, d, business)
	}
	return SLA{Business: business}
}

// atoiDays parses a run of digits, clamping to MaxDays.
func atoiDays(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n > MaxDays {
		return MaxDays
	}
	return n
}

func span(lo, hi int, business bool) SLA {
	return SLA{Min: &lo, Max: &hi, Business: business}
}

// AddBusinessDays advances start by n weekdays, skipping Saturday and
// Sunday. n <= 0 returns start.
func AddBusinessDays(start time.Time, n int) time.Time {
	if n <= 0 {
		return start
	}
	// Step the first 1..5 days; from a weekday every further 5 business
	// days is exactly one calendar week.
	rem := (n-1)%5 + 1
	weeks := (n - rem) / 5

	d := start
	for added := 0; added < rem; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			added++
		}
	}
	return d.AddDate(0, 0, 7*weeks)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp accepts RFC3339 and the common ISO-8601 variants. ok is
// false for empty or unrecognized input.
func ParseTimestamp(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
