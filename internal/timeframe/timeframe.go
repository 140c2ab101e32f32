// Package timeframe parses natural-language timeframe expressions into
// concrete UTC datetime ranges.
//
// DESIGN: The grammar is fixed and case-insensitive. Anything that does not
// match yields ErrNotTimeframe so callers can fall back to count-based
// retrieval. There is deliberately no fuzzy NLU here.
package timeframe

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotTimeframe is returned when the text matches no grammar rule.
	ErrNotTimeframe = errors.New("not a timeframe expression")

	// ErrInvalidRange is returned when a parsed range has start after end.
	ErrInvalidRange = errors.New("timeframe start is after end")
)

// Timeframe is a concrete [Start, End] instant range. When Open is true the
// range has no fixed end and means "up to now"; End is left zero.
type Timeframe struct {
	Start time.Time
	End   time.Time
	Open  bool
}

// EffectiveEnd returns End, or now for open-ended ranges.
func (tf Timeframe) EffectiveEnd(now time.Time) time.Time {
	if tf.Open {
		return now
	}
	return tf.End
}

var (
	relativePattern  = regexp.MustCompile(`^last\s+(\d+)\s+(hour|hours|day|days|week|weeks)$`)
	dateRangePattern = regexp.MustCompile(`^from\s+(\d{4}-\d{2}-\d{2})\s+to\s+(\d{4}-\d{2}-\d{2})$`)
	singleDayPattern = regexp.MustCompile(`^on\s+(\d{4}-\d{2}-\d{2})$`)
	shorthandPattern = regexp.MustCompile(`^(\d+)(h|d|w|mo)$`)
	datePattern      = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
)

// Parse translates a timeframe expression into a Timeframe. All returned
// instants are UTC. The clock defaults to time.Now; see ParseAt for tests.
func Parse(text string) (Timeframe, error) {
	return ParseAt(text, time.Now().UTC())
}

// ParseAt is Parse with an explicit reference instant for "now".
func ParseAt(text string, now time.Time) (Timeframe, error) {
	now = now.UTC()
	text = strings.ToLower(strings.TrimSpace(text))

	switch text {
	case "today":
		return dayRange(now), nil
	case "yesterday":
		return dayRange(now.AddDate(0, 0, -1)), nil
	}

	if m := relativePattern.FindStringSubmatch(text); m != nil {
		return parseRelative(m[1], strings.TrimSuffix(m[2], "s"), now)
	}
	if m := shorthandPattern.FindStringSubmatch(text); m != nil {
		return parseRelative(m[1], m[2], now)
	}
	if m := dateRangePattern.FindStringSubmatch(text); m != nil {
		return parseDateRange(m[1], m[2])
	}
	if m := singleDayPattern.FindStringSubmatch(text); m != nil {
		day, err := parseDate(m[1])
		if err != nil {
			return Timeframe{}, err
		}
		return dayRange(day), nil
	}

	return Timeframe{}, ErrNotTimeframe
}

// parseRelative handles both "last N unit" and the compact shorthand. The
// unit is already singular ("hour") or a shorthand token ("h", "mo").
func parseRelative(amountStr, unit string, now time.Time) (Timeframe, error) {
	amount, err := strconv.Atoi(amountStr)
	if err != nil {
		return Timeframe{}, fmt.Errorf("%w: bad amount %q", ErrNotTimeframe, amountStr)
	}

	var delta time.Duration
	switch unit {
	case "hour", "h":
		delta = time.Duration(amount) * time.Hour
	case "day", "d":
		delta = time.Duration(amount) * 24 * time.Hour
	case "week", "w":
		delta = time.Duration(amount) * 7 * 24 * time.Hour
	case "mo":
		// A month is a fixed 30-day delta here, not a calendar month.
		delta = time.Duration(amount) * 30 * 24 * time.Hour
	default:
		return Timeframe{}, ErrNotTimeframe
	}

	return Timeframe{Start: now.Add(-delta), End: now}, nil
}

func parseDateRange(startStr, endStr string) (Timeframe, error) {
	startDay, err := parseDate(startStr)
	if err != nil {
		return Timeframe{}, err
	}
	endDay, err := parseDate(endStr)
	if err != nil {
		return Timeframe{}, err
	}

	start := startOfDay(startDay)
	end := endOfDay(endDay)
	if start.After(end) {
		return Timeframe{}, fmt.Errorf("%w: %s > %s", ErrInvalidRange, startStr, endStr)
	}
	return Timeframe{Start: start, End: end}, nil
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrNotTimeframe, s)
	}
	return t.UTC(), nil
}

// dayRange covers the full calendar day containing t.
func dayRange(t time.Time) Timeframe {
	return Timeframe{Start: startOfDay(t), End: endOfDay(t)}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func endOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, time.UTC)
}

// LooksLikeTimeframe is a cheap pre-check used by the transport to decide
// whether arguments are worth parsing at all.
func LooksLikeTimeframe(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if datePattern.MatchString(text) {
		return true
	}
	if shorthandPattern.MatchString(text) {
		return true
	}
	for _, kw := range []string{"today", "yesterday", "last", "from", "to", "on"} {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Examples lists accepted expressions for help text.
func Examples() []string {
	return []string{
		"today",
		"yesterday",
		"last 2 hours",
		"last 3 days",
		"last 1 week",
		"24h",
		"3w",
		"2mo",
		"from 2024-01-15 to 2024-01-20",
		"on 2024-01-15",
	}
}
