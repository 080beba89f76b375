// Package ratelimit tracks hourly and daily send counts per rate group in
// Redis, so the budget survives process restarts. Reads fail open with a
// bounded local fallback; the increment is a single server-side operation
// whose failure is always surfaced to the caller.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"dealflow/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ReasonHourly = "hourly limit reached"
	ReasonDaily  = "daily limit reached"

	hourKeyTTL = 2 * time.Hour
	dayKeyTTL  = 48 * time.Hour
)

// Limits are the configured ceilings for one rate group.
type Limits struct {
	Hourly int64
	Daily  int64
}

// Status answers "can I send now" plus the remaining budget.
type Status struct {
	CanSend         bool
	HourlyCount     int64
	DailyCount      int64
	HourlyRemaining int64
	DailyRemaining  int64
	Reason          string
}

// reserveScript atomically claims one send slot against both ceilings,
// counting confirmed sends plus reservations already in flight. KEYS are
// hour, day, reserved-hour, reserved-day; ARGV are hourly limit, daily
// limit, hour TTL, day TTL. Returns { allowed, blocked, hourly, daily }
// where blocked is 0 none, 1 hourly, 2 daily and the counts include the
// reservation just taken.
var reserveScript = redis.NewScript(`
local limh = tonumber(ARGV[1])
local limd = tonumber(ARGV[2])
local h = tonumber(redis.call("get", KEYS[1]) or "0") + tonumber(redis.call("get", KEYS[3]) or "0")
local d = tonumber(redis.call("get", KEYS[2]) or "0") + tonumber(redis.call("get", KEYS[4]) or "0")
if h >= limh then return { 0, 1, h, d } end
if d >= limd then return { 0, 2, h, d } end
local rh = redis.call("incr", KEYS[3])
if rh == 1 then redis.call("expire", KEYS[3], ARGV[3]) end
local rd = redis.call("incr", KEYS[4])
if rd == 1 then redis.call("expire", KEYS[4], ARGV[4]) end
return { 1, 0, h + 1, d + 1 }
`)

// recordScript bumps both confirmed counters, sets TTLs and consumes one
// in-flight reservation in one round trip so a partial increment cannot
// leave the hour and day counts disagreeing. KEYS are hour, day,
// reserved-hour, reserved-day. Returns { hourly, daily }.
var recordScript = redis.NewScript(`
local h = redis.call("incr", KEYS[1])
if h == 1 then redis.call("expire", KEYS[1], ARGV[1]) end
local d = redis.call("incr", KEYS[2])
if d == 1 then redis.call("expire", KEYS[2], ARGV[2]) end
if tonumber(redis.call("get", KEYS[3]) or "0") > 0 then redis.call("decr", KEYS[3]) end
if tonumber(redis.call("get", KEYS[4]) or "0") > 0 then redis.call("decr", KEYS[4]) end
return { h, d }
`)

// unreserveScript gives one reservation back, flooring at zero.
var unreserveScript = redis.NewScript(`
if tonumber(redis.call("get", KEYS[1]) or "0") > 0 then redis.call("decr", KEYS[1]) end
if tonumber(redis.call("get", KEYS[2]) or "0") > 0 then redis.call("decr", KEYS[2]) end
return 0
`)

// Limiter answers budget checks and records sends for rate groups.
type Limiter struct {
	rdb *redis.Client
	now func() time.Time

	// fallback bounds sends locally when Redis is unreachable on the read
	// path: fail open, but not unbounded.
	mu       sync.Mutex
	fallback map[string]*rate.Limiter
}

func New(rdb *redis.Client) *Limiter {
	return &Limiter{
		rdb:      rdb,
		now:      time.Now,
		fallback: make(map[string]*rate.Limiter),
	}
}

// NewWithClock constructs a Limiter with an injected clock for tests.
func NewWithClock(rdb *redis.Client, now func() time.Time) *Limiter {
	l := New(rdb)
	l.now = now
	return l
}

func (l *Limiter) keys(group string) (string, string) {
	t := l.now().UTC()
	hour := fmt.Sprintf("ratelimit:send:%s:h:%s", group, t.Format("2006010215"))
	day := fmt.Sprintf("ratelimit:send:%s:d:%s", group, t.Format("20060102"))
	return hour, day
}

// reservedKeys bucket in-flight reservations alongside the confirmed
// counters. A leaked reservation self-heals when its bucket expires.
func (l *Limiter) reservedKeys(group string) (string, string) {
	t := l.now().UTC()
	hour := fmt.Sprintf("ratelimit:send:%s:rh:%s", group, t.Format("2006010215"))
	day := fmt.Sprintf("ratelimit:send:%s:rd:%s", group, t.Format("20060102"))
	return hour, day
}

// Check reads the current counts against the ceilings. A Redis read failure
// is treated as "assume allowed" with a logged warning, throttled by a local
// limiter, since stalling every send on a counter-store outage is the worse
// failure mode.
func (l *Limiter) Check(ctx context.Context, group string, limits Limits) Status {
	hourKey, dayKey := l.keys(group)

	vals, err := l.rdb.MGet(ctx, hourKey, dayKey).Result()
	if err != nil {
		logger.Warn("rate counter read failed, assuming allowed",
			zap.String("group", group),
			zap.Error(err))
		return Status{
			CanSend:         l.localAllow(group, limits),
			HourlyRemaining: limits.Hourly,
			DailyRemaining:  limits.Daily,
		}
	}

	return buildStatus(parseCount(vals[0]), parseCount(vals[1]), limits)
}

// Reserve atomically claims one send slot when confirmed sends plus
// reservations in flight are below both ceilings. The confirmed counters do
// not move here; that stays with Record after delivery. A Redis failure
// fails open like Check, with the error returned so the caller knows no
// reservation is held.
func (l *Limiter) Reserve(ctx context.Context, group string, limits Limits) (Status, error) {
	hourKey, dayKey := l.keys(group)
	rHourKey, rDayKey := l.reservedKeys(group)

	res, err := reserveScript.Run(ctx, l.rdb,
		[]string{hourKey, dayKey, rHourKey, rDayKey},
		limits.Hourly, limits.Daily,
		int(hourKeyTTL.Seconds()), int(dayKeyTTL.Seconds()),
	).Result()
	if err != nil {
		logger.Warn("rate reservation failed, assuming allowed",
			zap.String("group", group),
			zap.Error(err))
		return Status{
			CanSend:         l.localAllow(group, limits),
			HourlyRemaining: limits.Hourly,
			DailyRemaining:  limits.Daily,
		}, fmt.Errorf("rate reservation failed: %w", err)
	}

	slice, ok := res.([]any)
	if !ok || len(slice) != 4 {
		return Status{}, fmt.Errorf("rate reservation: unexpected reply %v", res)
	}

	hourly, daily := toInt64(slice[2]), toInt64(slice[3])
	s := Status{
		CanSend:         toInt64(slice[0]) == 1,
		HourlyCount:     hourly,
		DailyCount:      daily,
		HourlyRemaining: clampRemaining(limits.Hourly - hourly),
		DailyRemaining:  clampRemaining(limits.Daily - daily),
	}
	switch toInt64(slice[1]) {
	case 1:
		s.Reason = ReasonHourly
	case 2:
		s.Reason = ReasonDaily
	}
	return s, nil
}

// Unreserve gives a reservation back when the send never happened. Best
// effort: a failed decrement only pins the slot until its bucket expires.
func (l *Limiter) Unreserve(ctx context.Context, group string) {
	rHourKey, rDayKey := l.reservedKeys(group)
	err := unreserveScript.Run(ctx, l.rdb, []string{rHourKey, rDayKey}).Err()
	if err != nil {
		logger.Warn("rate reservation not returned",
			zap.String("group", group),
			zap.Error(err))
	}
}

// Record increments the counters exactly once for a confirmed delivery and
// consumes the reservation taken for it. The confirmed counter moves only
// after a successful send, never before: under-counting on delivery failure
// is the safe direction. The error is returned, never swallowed, because a
// silently lost increment erodes the provider budget.
func (l *Limiter) Record(ctx context.Context, group string) (hourly, daily int64, err error) {
	hourKey, dayKey := l.keys(group)
	rHourKey, rDayKey := l.reservedKeys(group)

	res, err := recordScript.Run(ctx, l.rdb,
		[]string{hourKey, dayKey, rHourKey, rDayKey},
		int(hourKeyTTL.Seconds()), int(dayKeyTTL.Seconds()),
	).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate counter increment failed: %w", err)
	}

	slice, ok := res.([]any)
	if !ok || len(slice) != 2 {
		return 0, 0, fmt.Errorf("rate counter increment: unexpected reply %v", res)
	}
	return toInt64(slice[0]), toInt64(slice[1]), nil
}

func (l *Limiter) localAllow(group string, limits Limits) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.fallback[group]
	if !ok {
		perSec := rate.Limit(float64(limits.Hourly) / 3600)
		if perSec <= 0 {
			perSec = rate.Inf // no ceiling configured
		}
		lim = rate.NewLimiter(perSec, 1)
		l.fallback[group] = lim
	}
	return lim.Allow()
}

func clampRemaining(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}

func buildStatus(hourly, daily int64, limits Limits) Status {
	s := Status{
		CanSend:         true,
		HourlyCount:     hourly,
		DailyCount:      daily,
		HourlyRemaining: clampRemaining(limits.Hourly - hourly),
		DailyRemaining:  clampRemaining(limits.Daily - daily),
	}
	if hourly >= limits.Hourly {
		s.CanSend = false
		s.Reason = ReasonHourly
	} else if daily >= limits.Daily {
		s.CanSend = false
		s.Reason = ReasonDaily
	}
	return s
}

func parseCount(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func toInt64(v any) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case float64:
		return int64(val)
	default:
		return 0
	}
}
