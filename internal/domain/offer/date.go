package offer

import (
	"regexp"
	"strings"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/domain/failure"
)

// Date layouts used for display and for remote systems.
const (
	DisplayLayout = "January 2, 2006"
	RemoteLayout  = "2006-01-02"
)

var (
	ordinalRe = regexp.MustCompile(`(\d)(st|nd|rd|th)\b`)
	spaceRe   = regexp.MustCompile(`\s+`)
)

var withYear = []string{
	DisplayLayout,
	"January 2 2006",
	"Jan 2, 2006",
	"Jan 2 2006",
	"2 January 2006",
	"2 Jan 2006",
	RemoteLayout,
	"01/02/2006",
	"1/2/2006",
	time.RFC3339,
}

var withoutYear = []string{
	"January 2",
	"Jan 2",
	"2 January",
	"2 Jan",
	"1/2",
}

// ParseDate reads a calendar date in any supported layout. hasYear reports
// whether the input named a year; when it did not, the year is zero.
func ParseDate(raw string) (t time.Time, hasYear bool, err error) {
	s := strings.TrimSpace(raw)
	s = ordinalRe.ReplaceAllString(s, "$1")
	s = spaceRe.ReplaceAllString(s, " ")
	for _, layout := range withYear {
		if t, err := time.Parse(layout, s); err == nil {
			return civil(t), true, nil
		}
	}
	for _, layout := range withoutYear {
		if t, err := time.Parse(layout, s); err == nil {
			return civil(t), false, nil
		}
	}
	return time.Time{}, false, failure.Newf("offer.parse_date", failure.ErrParse, "unrecognised date %q", raw)
}

// NormalizeStartDate applies the start-year policy. The current year is
// used unless allowFuture is set and the input names this year or later.
func NormalizeStartDate(raw string, now time.Time, allowFuture bool) (time.Time, error) {
	t, hasYear, err := ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	year := now.Year()
	if hasYear && allowFuture && t.Year() >= year {
		year = t.Year()
	}
	d := time.Date(year, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	if d.Day() != t.Day() {
		// Feb 29 moved into a non-leap year.
		return time.Time{}, failure.Newf("offer.normalize_start_date", failure.ErrParse, "%q does not exist in %d", raw, year)
	}
	return d, nil
}

// DisplayDate renders t as "May 1, 2026".
func DisplayDate(t time.Time) string { return t.Format(DisplayLayout) }

// RemoteDate re-renders any supported date string as YYYY-MM-DD. Inputs
// without a year are rejected since the remote side needs a full date.
func RemoteDate(raw string) (string, error) {
	t, hasYear, err := ParseDate(raw)
	if err != nil {
		return "", err
	}
	if !hasYear {
		return "", failure.Newf("offer.remote_date", failure.ErrParse, "date %q has no year", raw)
	}
	return t.Format(RemoteLayout), nil
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
