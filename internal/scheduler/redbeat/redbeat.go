// Package redbeat stores recurring schedule entries in Redis: one hash
// per entry plus a sorted set ordering entries by next fire time. A
// separate set holds revoked dispatch ids so that one-off tasks can be
// cancelled before they fire.
package redbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
)

var (
	ErrEntryNotFound = errors.New("redbeat: entry not found")
	ErrBadSchedule   = errors.New("redbeat: invalid schedule")
)

const (
	keyPrefix   = "redbeat:"
	scheduleKey = "redbeat::schedule"
	revokedKey  = "redbeat::revoked"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Schedule describes when an entry fires: a five-field cron spec, a
// fixed interval, or a single fire time. Exactly one of the three is
// set.
type Schedule struct {
	CronSpec     string    `json:"cron_spec,omitempty"`
	EveryMinutes int       `json:"every_minutes,omitempty"`
	FireAt       time.Time `json:"fire_at,omitempty"`
}

// OneShot reports whether the schedule fires exactly once.
func (s *Schedule) OneShot() bool {
	return s.CronSpec == "" && s.EveryMinutes == 0 && !s.FireAt.IsZero()
}

// Next returns the first fire time after the given instant. ok is false
// when the schedule will never fire again.
func (s *Schedule) Next(after time.Time) (time.Time, bool) {
	switch {
	case s.CronSpec != "":
		spec, err := cronParser.Parse(s.CronSpec)
		if err != nil {
			return time.Time{}, false
		}
		return spec.Next(after), true
	case s.EveryMinutes > 0:
		return after.Add(time.Duration(s.EveryMinutes) * time.Minute), true
	case !s.FireAt.IsZero():
		if s.FireAt.After(after) {
			return s.FireAt, true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Validate checks that the schedule is well formed and fireable.
func (s *Schedule) Validate() error {
	set := 0
	if s.CronSpec != "" {
		if _, err := cronParser.Parse(s.CronSpec); err != nil {
			return fmt.Errorf("%w: %v", ErrBadSchedule, err)
		}
		set++
	}
	if s.EveryMinutes != 0 {
		if s.EveryMinutes < 0 {
			return fmt.Errorf("%w: negative interval", ErrBadSchedule)
		}
		set++
	}
	if !s.FireAt.IsZero() {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%w: exactly one of cron spec, interval, or fire time must be set", ErrBadSchedule)
	}
	return nil
}

// Entry is one recurring schedule stored in Redis.
type Entry struct {
	Name             string         `json:"name"`
	Task             string         `json:"task"`
	TaskName         string         `json:"task_name"`
	TaskID           string         `json:"task_id"`
	UserScheduleName string         `json:"user_schedule_name"`
	ScheduleType     string         `json:"schedule_type"`
	Args             []any          `json:"args"`
	Kwargs           map[string]any `json:"kwargs"`
	Schedule         Schedule       `json:"schedule"`
	Enabled          bool           `json:"enabled"`

	LastRunAt     time.Time `json:"last_run_at,omitempty"`
	TotalRunCount int       `json:"total_run_count"`
}

// Store persists entries in Redis.
type Store struct {
	client redis.UniversalClient
}

// NewStore creates a Redis-backed entry store.
func NewStore(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

func entryKey(name string) string {
	return keyPrefix + name
}

// Save writes the entry and places it in the fire-time index at its
// next fire time.
func (s *Store) Save(ctx context.Context, e *Entry) error {
	if err := e.Schedule.Validate(); err != nil {
		return err
	}
	next, ok := e.Schedule.Next(time.Now().UTC())
	if !ok {
		return fmt.Errorf("%w: schedule never fires", ErrBadSchedule)
	}

	definition, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, entryKey(e.Name), "definition", definition)
	pipe.ZAdd(ctx, scheduleKey, redis.Z{Score: float64(next.Unix()), Member: e.Name})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	return nil
}

// Get reads one entry by name.
func (s *Store) Get(ctx context.Context, name string) (*Entry, error) {
	raw, err := s.client.HGet(ctx, entryKey(name), "definition").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("failed to decode entry: %w", err)
	}
	return &e, nil
}

// Delete removes the entry and its index member.
func (s *Store) Delete(ctx context.Context, name string) error {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, entryKey(name))
	pipe.ZRem(ctx, scheduleKey, name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	if del.Val() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

// Due returns entries whose next fire time is at or before now, oldest
// first.
func (s *Store) Due(ctx context.Context, now time.Time, limit int) ([]*Entry, error) {
	if limit < 1 {
		limit = 100
	}
	names, err := s.client.ZRangeByScore(ctx, scheduleKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan due entries: %w", err)
	}

	entries := make([]*Entry, 0, len(names))
	for _, name := range names {
		e, err := s.Get(ctx, name)
		if err != nil {
			if errors.Is(err, ErrEntryNotFound) {
				// Index member without a hash: clean it up.
				s.client.ZRem(ctx, scheduleKey, name)
				continue
			}
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// claimScript compares the entry's slot score against the fire time and
// advances it in the same atomic step. An empty next score removes the
// entry instead of rescheduling it.
var claimScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
if tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
if ARGV[3] == '' then
	redis.call('DEL', KEYS[2])
	redis.call('ZREM', KEYS[1], ARGV[1])
else
	redis.call('HSET', KEYS[2], 'definition', ARGV[4])
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
end
return 1
`)

// Claim advances an entry's index slot to its next fire time, recording
// the run. One-shot entries are removed. ok is false when another
// scheduler already claimed the slot. The check and the advance run as
// one Lua script, so concurrent schedulers resolve a slot to exactly
// one claimant.
func (s *Store) Claim(ctx context.Context, e *Entry, firedAt time.Time) (bool, error) {
	e.LastRunAt = firedAt
	e.TotalRunCount++

	var nextScore, definition string
	if next, ok := e.Schedule.Next(firedAt); ok {
		raw, err := json.Marshal(e)
		if err != nil {
			return false, fmt.Errorf("failed to encode entry: %w", err)
		}
		nextScore = strconv.FormatInt(next.Unix(), 10)
		definition = string(raw)
	}

	claimed, err := claimScript.Run(ctx, s.client,
		[]string{scheduleKey, entryKey(e.Name)},
		e.Name, firedAt.Unix(), nextScore, definition,
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim entry slot: %w", err)
	}
	return claimed == 1, nil
}

// Revoke marks a dispatch id so that pending fires of it are dropped.
func (s *Store) Revoke(ctx context.Context, taskID string) error {
	if err := s.client.SAdd(ctx, revokedKey, taskID).Err(); err != nil {
		return fmt.Errorf("failed to revoke task: %w", err)
	}
	return nil
}

// IsRevoked reports whether a dispatch id has been revoked.
func (s *Store) IsRevoked(ctx context.Context, taskID string) (bool, error) {
	revoked, err := s.client.SIsMember(ctx, revokedKey, taskID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return revoked, nil
}
