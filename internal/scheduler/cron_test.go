package scheduler

import (
	"testing"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

func TestCalculateNextDueEveryFiveMinutes(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "*/5 * * * *", Timezone: "UTC"}
	from := time.Date(2025, 3, 10, 12, 2, 30, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := time.Date(2025, 3, 10, 12, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDueRespectsTimezone(t *testing.T) {
	// Полночь по Московскому времени — 21:00 UTC предыдущего дня.
	sched := &domain.Schedule{CronExpr: "0 0 * * *", Timezone: "Europe/Moscow"}
	from := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
	if next.Location() != time.UTC {
		t.Errorf("next location = %v, want UTC", next.Location())
	}
}

func TestCalculateNextDueInvalidTimezoneFallsBackToUTC(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "0 12 * * *", Timezone: "Mars/Olympus"}
	from := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

	next, err := CalculateNextDue(sched, from)
	if err != nil {
		t.Fatalf("CalculateNextDue() error = %v", err)
	}

	want := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestCalculateNextDueInvalidExpr(t *testing.T) {
	sched := &domain.Schedule{CronExpr: "not a cron"}
	if _, err := CalculateNextDue(sched, time.Now()); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"*/5 * * * *", false},
		{"0 0 * * 1", false},
		{"30 4 1 * *", false},
		{"", true},
		{"* * * *", true},
		{"99 * * * *", true},
	}

	for _, tt := range tests {
		err := ValidateCronExpr(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateCronExpr(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
	}
}

func TestScheduleIsDue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name  string
		sched domain.Schedule
		want  bool
	}{
		{"due", domain.Schedule{Enabled: true, NextDueAt: &past}, true},
		{"exactly now", domain.Schedule{Enabled: true, NextDueAt: &now}, true},
		{"not yet", domain.Schedule{Enabled: true, NextDueAt: &future}, false},
		{"disabled", domain.Schedule{Enabled: false, NextDueAt: &past}, false},
		{"never computed", domain.Schedule{Enabled: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sched.IsDue(now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}
