package sendwindow

import (
	"testing"
	"time"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func laPolicy(weekdaysOnly bool) Policy {
	return Policy{
		Start:        "09:00",
		End:          "17:00",
		Timezone:     "America/Los_Angeles",
		WeekdaysOnly: weekdaysOnly,
	}
}

func TestWithin(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")

	tests := []struct {
		name   string
		policy Policy
		now    time.Time
		want   bool
	}{
		{
			name:   "weekday midday inside window",
			policy: laPolicy(true),
			// 2025-06-04 is a Wednesday.
			now:  time.Date(2025, 6, 4, 12, 0, 0, 0, la),
			want: true,
		},
		{
			name:   "weekday before window",
			policy: laPolicy(true),
			now:    time.Date(2025, 6, 4, 6, 30, 0, 0, la),
			want:   false,
		},
		{
			name:   "weekday after window end",
			policy: laPolicy(true),
			now:    time.Date(2025, 6, 4, 17, 0, 0, 0, la),
			want:   false,
		},
		{
			name:   "saturday blocked regardless of time",
			policy: laPolicy(true),
			now:    time.Date(2025, 6, 7, 10, 0, 0, 0, la),
			want:   false,
		},
		{
			name:   "sunday blocked regardless of time",
			policy: laPolicy(true),
			now:    time.Date(2025, 6, 8, 12, 0, 0, 0, la),
			want:   false,
		},
		{
			name:   "saturday allowed when weekends permitted",
			policy: laPolicy(false),
			now:    time.Date(2025, 6, 7, 12, 0, 0, 0, la),
			want:   true,
		},
		{
			name: "utc timestamp converted into campaign timezone",
			// 2025-06-04 16:00 UTC == 09:00 PDT at the earliest jittered
			// start; use midday UTC evening to be safely inside.
			policy: laPolicy(true),
			now:    time.Date(2025, 6, 4, 20, 0, 0, 0, time.UTC),
			want:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Within(tt.policy, tt.now)
			if err != nil {
				t.Fatalf("Within: %v", err)
			}
			if got != tt.want {
				t.Errorf("Within = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWithinEveryWeekendHourBlocked(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	policy := laPolicy(true)

	for _, day := range []int{7, 8} { // Saturday, Sunday
		for hour := 0; hour < 24; hour++ {
			now := time.Date(2025, 6, day, hour, 0, 0, 0, la)
			got, err := Within(policy, now)
			if err != nil {
				t.Fatalf("Within: %v", err)
			}
			if got {
				t.Errorf("Within(%s) = true, want false on weekend", now)
			}
		}
	}
}

func TestWithinInvalidInputs(t *testing.T) {
	now := time.Now()

	if _, err := Within(Policy{Start: "09:00", End: "17:00", Timezone: "Not/AZone"}, now); err == nil {
		t.Error("expected error for bad timezone")
	}
	if _, err := Within(Policy{Start: "bogus", End: "17:00", Timezone: "UTC"}, now); err == nil {
		t.Error("expected error for bad start time")
	}
	if _, err := Within(Policy{Start: "09:00", End: "25:00", Timezone: "UTC"}, now); err == nil {
		t.Error("expected error for out of range end time")
	}
}

func TestNextStartSkipsWeekend(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	policy := laPolicy(true)

	// Saturday 10:00 PT: the next opening is Monday morning, jittered past
	// 09:00 but inside the first hour.
	now := time.Date(2025, 6, 7, 10, 0, 0, 0, la)
	next, err := NextStart(policy, now)
	if err != nil {
		t.Fatalf("NextStart: %v", err)
	}

	local := next.In(la)
	if local.Weekday() != time.Monday {
		t.Fatalf("next start on %s, want Monday", local.Weekday())
	}
	if local.Day() != 9 {
		t.Errorf("next start on day %d, want 9", local.Day())
	}
	earliest := time.Date(2025, 6, 9, 9, 0, 0, 0, la)
	latest := time.Date(2025, 6, 9, 10, 0, 0, 0, la)
	if local.Before(earliest) || !local.Before(latest) {
		t.Errorf("next start %s outside [09:00, 10:00)", local)
	}
}

func TestNextStartStrictlyFuture(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")

	tests := []struct {
		name   string
		policy Policy
		now    time.Time
	}{
		{"before todays window", laPolicy(true), time.Date(2025, 6, 4, 5, 0, 0, 0, la)},
		{"inside todays window", laPolicy(true), time.Date(2025, 6, 4, 12, 0, 0, 0, la)},
		{"after todays window", laPolicy(true), time.Date(2025, 6, 4, 18, 0, 0, 0, la)},
		{"friday evening weekdays only", laPolicy(true), time.Date(2025, 6, 6, 20, 0, 0, 0, la)},
		{"weekend allowed", laPolicy(false), time.Date(2025, 6, 7, 23, 0, 0, 0, la)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextStart(tt.policy, tt.now)
			if err != nil {
				t.Fatalf("NextStart: %v", err)
			}
			if !next.After(tt.now) {
				t.Errorf("NextStart = %s, not after now %s", next, tt.now)
			}
			if tt.policy.WeekdaysOnly {
				wd := next.In(la).Weekday()
				if wd == time.Saturday || wd == time.Sunday {
					t.Errorf("NextStart landed on %s", wd)
				}
			}
		})
	}
}

func TestDayJitterDeterministicPerDay(t *testing.T) {
	la := mustLoc(t, "America/Los_Angeles")
	policy := laPolicy(true)

	day := time.Date(2025, 6, 4, 0, 0, 0, 0, la)
	first := dayJitter(day, policy)
	for i := 0; i < 50; i++ {
		if got := dayJitter(day.Add(time.Duration(i)*time.Minute), policy); got != first {
			t.Fatalf("jitter changed within the same day: %d != %d", got, first)
		}
	}

	if first < 0 || first >= defaultJitterMax {
		t.Errorf("jitter %d outside [0, %d)", first, defaultJitterMax)
	}

	// Different days should not all share one offset.
	seen := map[int]bool{}
	for i := 0; i < 14; i++ {
		seen[dayJitter(day.AddDate(0, 0, i), policy)] = true
	}
	if len(seen) < 2 {
		t.Error("jitter identical across two weeks of days")
	}
}

func TestDayJitterCustomRange(t *testing.T) {
	policy := Policy{Start: "09:00", End: "17:00", Timezone: "UTC", JitterMin: 5, JitterMax: 10}
	day := time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 30; i++ {
		j := dayJitter(day.AddDate(0, 0, i), policy)
		if j < 5 || j >= 10 {
			t.Fatalf("jitter %d outside [5, 10)", j)
		}
	}
}
