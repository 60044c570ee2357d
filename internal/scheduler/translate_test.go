package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestTranslate_Weekly(t *testing.T) {
	sched, err := translate(TypeWeekly, map[string]any{
		"VALUES": []any{"Monday", "wed", "FRI", "Funday"},
	})
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	if sched.CronSpec != "0 0 * * 1,3,5" {
		t.Errorf("CronSpec = %q", sched.CronSpec)
	}
}

func TestTranslate_WeeklyAllDaysUnrecognized(t *testing.T) {
	_, err := translate(TypeWeekly, map[string]any{
		"VALUES": []any{"Someday", "Never"},
	})
	if !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("error = %v, want ErrBadScheduleData", err)
	}
}

func TestTranslate_Monthly(t *testing.T) {
	sched, err := translate(TypeMonthly, map[string]any{
		"VALUES": []any{"15", "1", "99"},
	})
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	if sched.CronSpec != "0 0 1,15 * *" {
		t.Errorf("CronSpec = %q", sched.CronSpec)
	}
}

func TestTranslate_Once(t *testing.T) {
	sched, err := translate(TypeOnce, map[string]any{"VALUES": "2026-09-01 08:15"})
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	want := time.Date(2026, 9, 1, 8, 15, 0, 0, time.UTC)
	if !sched.FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v", sched.FireAt, want)
	}

	// The date may also arrive wrapped in a document.
	sched, err = translate(TypeOnce, map[string]any{
		"VALUES": map[string]any{"date": "2026-03-01 14:30"},
	})
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	want = time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC)
	if !sched.FireAt.Equal(want) {
		t.Errorf("FireAt = %v, want %v", sched.FireAt, want)
	}

	if _, err := translate(TypeOnce, map[string]any{"VALUES": "09/01/2026"}); !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("bad date error = %v", err)
	}
	if _, err := translate(TypeOnce, map[string]any{}); !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("missing date error = %v", err)
	}
}

func TestTranslate_Periodic(t *testing.T) {
	tests := []struct {
		frequencyType string
		frequency     any
		want          int
	}{
		{"minutes", float64(15), 15},
		{"Hours", float64(2), 120},
		{" DAYS ", float64(1), 1440},
		{"weeks", float64(1), 10080},
		{"months (30 days)", float64(1), 43200},
	}
	for _, tt := range tests {
		sched, err := translate(TypePeriodic, map[string]any{
			"FREQUENCY_TYPE": tt.frequencyType, "FREQUENCY": tt.frequency,
		})
		if err != nil {
			t.Errorf("translate(%q) error = %v", tt.frequencyType, err)
			continue
		}
		if sched.EveryMinutes != tt.want {
			t.Errorf("translate(%q) = %d minutes, want %d", tt.frequencyType, sched.EveryMinutes, tt.want)
		}
	}
}

func TestTranslate_PeriodicDefaults(t *testing.T) {
	// Both fields are optional: one unit of minutes.
	sched, err := translate(TypePeriodic, map[string]any{})
	if err != nil {
		t.Fatalf("translate() error = %v", err)
	}
	if sched.EveryMinutes != 1 {
		t.Errorf("EveryMinutes = %d, want 1", sched.EveryMinutes)
	}

	if _, err := translate(TypePeriodic, map[string]any{"FREQUENCY": float64(0)}); !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("zero frequency error = %v, want ErrBadScheduleData", err)
	}
}

func TestTranslate_PeriodicUnknownFrequency(t *testing.T) {
	_, err := translate(TypePeriodic, map[string]any{"FREQUENCY": float64(1), "FREQUENCY_TYPE": "fortnights"})
	if !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("error = %v, want ErrBadScheduleData", err)
	}
}

func TestTranslate_UnknownType(t *testing.T) {
	if _, err := translate("YEARLY", nil); !errors.Is(err, ErrBadScheduleData) {
		t.Errorf("error = %v, want ErrBadScheduleData", err)
	}
}
