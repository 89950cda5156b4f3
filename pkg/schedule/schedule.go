package schedule

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jinzhu/now"
	"github.com/robfig/cron/v3"
)

// ErrUnparseableTime is returned when no supported layout matches.
var ErrUnparseableTime = errors.New("schedule: unrecognized time")

// Schedule computes the next run after a given time.
type Schedule interface {
	Next(from time.Time) time.Time
}

// minUnixMillisDigits is the shortest digit string read as unix
// milliseconds. Shorter values, unix seconds in particular, would land in
// the early 1970s and fire at once.
const minUnixMillisDigits = 12

var absoluteLayouts = []string{
	time.RFC3339Nano,
	http.TimeFormat,
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.ANSIC,
}

// Parse reads an absolute fire time. Accepted forms, tried in order:
//
//	+90s, +2h30m          relative to ref
//	1735689600000         unix milliseconds, at least 12 digits
//	2025-01-01T00:00:00Z  RFC 3339
//	Wed, 01 Jan 2025 00:00:00 GMT
//	2025-01-01 09:30      anything jinzhu/now accepts, in ref's location
func Parse(s string, ref time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparseableTime)
	}

	if rel, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rel)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrUnparseableTime, err)
		}
		return ref.Add(d), nil
	}

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		if len(strings.TrimLeft(s, "+-")) < minUnixMillisDigits {
			return time.Time{}, fmt.Errorf("%w: %q is not unix milliseconds", ErrUnparseableTime, s)
		}
		return time.UnixMilli(ms), nil
	}

	for _, layout := range absoluteLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	cfg := &now.Config{WeekStartDay: time.Monday, TimeLocation: ref.Location()}
	t, err := cfg.With(ref).Parse(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, s)
	}
	return t, nil
}

// cronSchedule wraps a cron expression.
type cronSchedule struct {
	schedule cron.Schedule
}

// Cron parses a five-field cron expression or a descriptor such as
// "@every 1m" or "@hourly".
func Cron(expr string) (Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return &cronSchedule{schedule: s}, nil
}

func (s *cronSchedule) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}
