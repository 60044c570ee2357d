package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/procflow/orchestrator/internal/scheduler/redbeat"
)

var ErrBadScheduleData = errors.New("scheduler: invalid schedule data")

// onceLayout is the wall-clock format accepted for one-shot schedules.
const onceLayout = "2006-01-02 15:04"

// cron day-of-week numbers, Sunday first. Unrecognized day names are
// dropped.
var dayNumbers = map[string]int{
	"SUN": 0, "MON": 1, "TUE": 2, "WED": 3, "THU": 4, "FRI": 5, "SAT": 6,
}

// minutes per frequency unit for PERIODIC schedules. A month counts as
// 30 days.
var frequencyMinutes = map[string]int{
	"MINUTE": 1,
	"HOUR":   60,
	"DAY":    24 * 60,
	"WEEK":   7 * 24 * 60,
	"MONTH":  30 * 24 * 60,
}

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// translate converts a schedule type and its data document into a
// fireable entry schedule. The payload carries VALUES for ONCE, weekly,
// and monthly schedules and FREQUENCY_TYPE/FREQUENCY for PERIODIC ones.
// IMMEDIATE has no entry schedule and is not handled here.
func translate(scheduleType string, data map[string]any) (redbeat.Schedule, error) {
	switch scheduleType {
	case TypeOnce:
		return translateOnce(data)
	case TypeWeekly:
		return translateWeekly(data)
	case TypeMonthly:
		return translateMonthly(data)
	case TypePeriodic:
		return translatePeriodic(data)
	default:
		return redbeat.Schedule{}, fmt.Errorf("%w: unknown schedule type %q", ErrBadScheduleData, scheduleType)
	}
}

func translateOnce(data map[string]any) (redbeat.Schedule, error) {
	var raw string
	switch v := data["VALUES"].(type) {
	case string:
		raw = v
	case map[string]any:
		raw, _ = v["date"].(string)
	}
	if raw == "" {
		return redbeat.Schedule{}, fmt.Errorf("%w: ONCE requires a date in VALUES", ErrBadScheduleData)
	}
	at, err := time.ParseInLocation(onceLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return redbeat.Schedule{}, fmt.Errorf("%w: date must be formatted as %s", ErrBadScheduleData, onceLayout)
	}
	return redbeat.Schedule{FireAt: at}, nil
}

// Weekly and monthly schedules fire at 00:00 on the listed slots.
func translateWeekly(data map[string]any) (redbeat.Schedule, error) {
	var days []int
	seen := make(map[int]bool)
	for _, raw := range anySlice(data["VALUES"]) {
		name, _ := raw.(string)
		name = strings.ToUpper(strings.TrimSpace(name))
		if len(name) > 3 {
			name = name[:3]
		}
		num, ok := dayNumbers[name]
		if !ok {
			continue
		}
		if !seen[num] {
			seen[num] = true
			days = append(days, num)
		}
	}
	if len(days) == 0 {
		return redbeat.Schedule{}, fmt.Errorf("%w: no recognizable days of week in VALUES", ErrBadScheduleData)
	}
	sort.Ints(days)

	return redbeat.Schedule{
		CronSpec: fmt.Sprintf("0 0 * * %s", joinInts(days)),
	}, nil
}

func translateMonthly(data map[string]any) (redbeat.Schedule, error) {
	var dates []int
	seen := make(map[int]bool)
	for _, raw := range anySlice(data["VALUES"]) {
		day, ok := asInt(raw)
		if !ok || day < 1 || day > 31 {
			continue
		}
		if !seen[day] {
			seen[day] = true
			dates = append(dates, day)
		}
	}
	if len(dates) == 0 {
		return redbeat.Schedule{}, fmt.Errorf("%w: no valid dates of month in VALUES", ErrBadScheduleData)
	}
	sort.Ints(dates)

	return redbeat.Schedule{
		CronSpec: fmt.Sprintf("0 0 %s * *", joinInts(dates)),
	}, nil
}

func translatePeriodic(data map[string]any) (redbeat.Schedule, error) {
	every := 1
	if raw, present := data["FREQUENCY"]; present {
		n, ok := asInt(raw)
		if !ok || n < 1 {
			return redbeat.Schedule{}, fmt.Errorf("%w: FREQUENCY must be a positive count", ErrBadScheduleData)
		}
		every = n
	}

	raw, _ := data["FREQUENCY_TYPE"].(string)
	if raw == "" {
		raw = "MINUTES"
	}
	unit, err := normalizeFrequency(raw)
	if err != nil {
		return redbeat.Schedule{}, err
	}
	return redbeat.Schedule{EveryMinutes: every * unit}, nil
}

// normalizeFrequency maps user-entered frequency labels like
// "Minutes", "months (30 days)", or " HOURS " onto minutes per unit.
func normalizeFrequency(raw string) (int, error) {
	cleaned := parenthetical.ReplaceAllString(raw, "")
	cleaned = strings.ToUpper(strings.TrimSpace(cleaned))
	cleaned = strings.TrimRight(cleaned, "S")

	unit, ok := frequencyMinutes[cleaned]
	if !ok {
		return 0, fmt.Errorf("%w: unknown frequency type %q", ErrBadScheduleData, raw)
	}
	return unit, nil
}

func anySlice(v any) []any {
	switch typed := v.(type) {
	case []any:
		return typed
	case []string:
		out := make([]any, len(typed))
		for i, s := range typed {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

func asInt(v any) (int, bool) {
	switch typed := v.(type) {
	case int:
		return typed, true
	case int64:
		return int(typed), true
	case float64:
		return int(typed), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(typed))
		return n, err == nil
	default:
		return 0, false
	}
}

func joinInts(nums []int) string {
	parts := make([]string, len(nums))
	for i, n := range nums {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
