package ratelimit

import (
	"context"
	"testing"
	"time"

	"dealflow/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func init() {
	logger.InitLogger("test")
}

func TestBuildStatus(t *testing.T) {
	limits := Limits{Hourly: 50, Daily: 400}

	tests := []struct {
		name       string
		hourly     int64
		daily      int64
		wantSend   bool
		wantReason string
		wantHRem   int64
		wantDRem   int64
	}{
		{"fresh counters", 0, 0, true, "", 50, 400},
		{"under both limits", 30, 200, true, "", 20, 200},
		{"hourly exhausted", 50, 200, false, ReasonHourly, 0, 200},
		{"hourly over", 55, 200, false, ReasonHourly, 0, 200},
		{"daily exhausted", 10, 400, false, ReasonDaily, 40, 0},
		{"hourly reported before daily", 50, 400, false, ReasonHourly, 0, 0},
		{"one below each", 49, 399, true, "", 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := buildStatus(tt.hourly, tt.daily, limits)
			if s.CanSend != tt.wantSend {
				t.Errorf("CanSend = %v, want %v", s.CanSend, tt.wantSend)
			}
			if s.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", s.Reason, tt.wantReason)
			}
			if s.HourlyRemaining != tt.wantHRem {
				t.Errorf("HourlyRemaining = %d, want %d", s.HourlyRemaining, tt.wantHRem)
			}
			if s.DailyRemaining != tt.wantDRem {
				t.Errorf("DailyRemaining = %d, want %d", s.DailyRemaining, tt.wantDRem)
			}
			if s.HourlyCount != tt.hourly || s.DailyCount != tt.daily {
				t.Errorf("counts = (%d, %d), want (%d, %d)",
					s.HourlyCount, s.DailyCount, tt.hourly, tt.daily)
			}
		})
	}
}

func TestKeysUseUTCHourAndDay(t *testing.T) {
	fixed := time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)
	l := NewWithClock(nil, func() time.Time { return fixed })

	hour, day := l.keys("primary")
	if hour != "ratelimit:send:primary:h:2025060414" {
		t.Errorf("hour key = %q", hour)
	}
	if day != "ratelimit:send:primary:d:20250604" {
		t.Errorf("day key = %q", day)
	}

	// A non-UTC clock must not shift the bucket.
	est := time.FixedZone("EST", -5*3600)
	l.now = func() time.Time { return fixed.In(est) }
	hour2, day2 := l.keys("primary")
	if hour2 != hour || day2 != day {
		t.Errorf("keys changed with clock timezone: %q %q", hour2, day2)
	}
}

func TestCheckRedisFailureFailsOpen(t *testing.T) {
	// Unreachable Redis forces the read-failure path.
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	l := New(rdb)

	s := l.Check(context.Background(), "primary", Limits{Hourly: 50, Daily: 400})
	if !s.CanSend {
		t.Error("first check after Redis failure should be allowed")
	}
	if s.HourlyRemaining != 50 || s.DailyRemaining != 400 {
		t.Errorf("remaining = (%d, %d), want full limits on unknown counts",
			s.HourlyRemaining, s.DailyRemaining)
	}
}

func TestCheckRedisFailureLocalFallbackBounds(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	l := New(rdb)
	limits := Limits{Hourly: 50, Daily: 400}

	// Burst of 1: the first check passes, an immediate second is throttled by
	// the local limiter.
	if s := l.Check(context.Background(), "primary", limits); !s.CanSend {
		t.Fatal("first check should pass")
	}
	if s := l.Check(context.Background(), "primary", limits); s.CanSend {
		t.Error("immediate second check should be throttled locally")
	}
}

func TestReservedKeysUseUTCHourAndDay(t *testing.T) {
	fixed := time.Date(2025, 6, 4, 14, 30, 0, 0, time.UTC)
	l := NewWithClock(nil, func() time.Time { return fixed })

	hour, day := l.reservedKeys("primary")
	if hour != "ratelimit:send:primary:rh:2025060414" {
		t.Errorf("hour key = %q", hour)
	}
	if day != "ratelimit:send:primary:rd:20250604" {
		t.Errorf("day key = %q", day)
	}
}

func TestReserveRedisFailureFailsOpenWithError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	l := New(rdb)

	s, err := l.Reserve(context.Background(), "primary", Limits{Hourly: 50, Daily: 400})
	if err == nil {
		t.Error("Reserve must report that no reservation is held")
	}
	if !s.CanSend {
		t.Error("first reserve after Redis failure should be allowed")
	}
	if s.HourlyRemaining != 50 || s.DailyRemaining != 400 {
		t.Errorf("remaining = (%d, %d), want full limits on unknown counts",
			s.HourlyRemaining, s.DailyRemaining)
	}
}

func TestRecordRedisFailureReturnsError(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:0",
		DialTimeout: 10 * time.Millisecond,
		ReadTimeout: 10 * time.Millisecond,
		MaxRetries:  0,
	})
	l := New(rdb)

	if _, _, err := l.Record(context.Background(), "primary"); err == nil {
		t.Error("Record must surface Redis failure")
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want int64
	}{
		{"numeric string", "42", 42},
		{"nil for missing key", nil, 0},
		{"garbage string", "abc", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseCount(tt.in); got != tt.want {
				t.Errorf("parseCount(%v) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
