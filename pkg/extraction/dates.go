package extraction

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// deadlineFormats are the absolute layouts extractor output may use.
var deadlineFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// relativeDays maps relative day words (English and Russian) to day offsets.
// Models occasionally echo the phrase instead of resolving it; normalization
// happens here so deadlines are always absolute by the time a draft exists.
// Longer phrases come first: "послезавтра" must win over its "завтра" suffix.
var relativeDays = []struct {
	word string
	days int
}{
	{"day after tomorrow", 2},
	{"послезавтра", 2},
	{"tomorrow", 1},
	{"завтра", 1},
	{"сегодня", 0},
	{"today", 0},
}

var timeOfDayRe = regexp.MustCompile(`(?:at|в)\s+(\d{1,2})(?::(\d{2}))?`)

// ParseDeadline turns extractor deadline output into an absolute timestamp.
// Returns (nil, nil) for an empty value: no deadline mentioned.
func ParseDeadline(raw string, now time.Time) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") || strings.EqualFold(raw, "none") {
		return nil, nil
	}

	for _, layout := range deadlineFormats {
		if t, err := time.ParseInLocation(layout, raw, now.Location()); err == nil {
			return &t, nil
		}
	}

	if t, ok := parseRelative(raw, now); ok {
		return &t, nil
	}
	return nil, fmt.Errorf("unrecognized deadline %q", raw)
}

func parseRelative(raw string, now time.Time) (time.Time, bool) {
	lower := strings.ToLower(raw)

	offset := -1
	for _, rel := range relativeDays {
		if strings.Contains(lower, rel.word) {
			offset = rel.days
			break
		}
	}
	if offset == -1 {
		return time.Time{}, false
	}

	day := now.AddDate(0, 0, offset)
	hour, minute := 9, 0 // mornings when no time of day is given
	if m := timeOfDayRe.FindStringSubmatch(lower); m != nil {
		if h, err := strconv.Atoi(m[1]); err == nil && h >= 0 && h < 24 {
			hour = h
		}
		if m[2] != "" {
			if mm, err := strconv.Atoi(m[2]); err == nil && mm >= 0 && mm < 60 {
				minute = mm
			}
		}
	}

	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location()), true
}
