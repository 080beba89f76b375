// Package sendwindow decides whether a campaign may send right now and, when
// it may not, when the next window opens. All calculations happen in the
// campaign's own timezone, with a deterministic per-day jitter on the window
// start so campaigns do not begin at the identical wall-clock second every
// day.
package sendwindow

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"
)

// Policy is the per-campaign window and pacing configuration, immutable once
// the campaign starts sending.
type Policy struct {
	Start        string // "HH:MM"
	End          string // "HH:MM"
	Timezone     string
	WeekdaysOnly bool

	// Jitter bounds in minutes added to the window start. Zero values fall
	// back to [0, 30).
	JitterMin int
	JitterMax int

	// Inter-send pacing, applied by the dispatch handler.
	MinDelay       time.Duration
	MaxDelay       time.Duration
	Humanize       bool
	SimulateBreaks bool
}

const defaultJitterMax = 30

// Within reports whether now falls inside the policy's window.
func Within(p Policy, now time.Time) (bool, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return false, fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	local := now.In(loc)

	if p.WeekdaysOnly && isWeekend(local.Weekday()) {
		return false, nil
	}

	start, err := parseMinutes(p.Start)
	if err != nil {
		return false, err
	}
	end, err := parseMinutes(p.End)
	if err != nil {
		return false, err
	}

	minutes := local.Hour()*60 + local.Minute()
	start += dayJitter(local, p)

	return minutes >= start && minutes < end, nil
}

// NextStart returns the next jittered window opening strictly after now,
// skipping weekend days when the policy is weekdays-only.
func NextStart(p Policy, now time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	start, err := parseMinutes(p.Start)
	if err != nil {
		return time.Time{}, err
	}

	local := now.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	// Jitter differs per day, so recompute for each candidate.
	for i := 0; i < 10; i++ {
		if !(p.WeekdaysOnly && isWeekend(day.Weekday())) {
			opens := day.Add(time.Duration(start+dayJitter(day, p)) * time.Minute)
			if opens.After(now) {
				return opens, nil
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	// Unreachable for any week with at least one working day.
	return time.Time{}, fmt.Errorf("no window start found after %s", now)
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

// dayJitter derives a stable offset for one calendar day in one timezone, so
// every check made during that day agrees on the effective start.
func dayJitter(local time.Time, p Policy) int {
	min, max := p.JitterMin, p.JitterMax
	if max <= min {
		min, max = 0, defaultJitterMax
	}

	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s", local.Format("2006-01-02"), p.Timezone)
	r := rand.New(rand.NewSource(int64(h.Sum64())))
	return min + r.Intn(max-min)
}

func parseMinutes(hhmm string) (int, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(hhmm, "%d:%d", &hh, &mm); err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", hhmm, err)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return 0, fmt.Errorf("invalid time %q", hhmm)
	}
	return hh*60 + mm, nil
}
