package services

import (
	"testing"

	"splitledger/internal/core"
)

func TestNextExecutionDate(t *testing.T) {
	tests := []struct {
		name       string
		start      core.Date
		freq       core.Frequency
		executions int
		want       string
	}{
		{"daily anchor", core.NewDate(2024, 1, 1), core.Daily, 0, "2024-01-01"},
		{"daily across month", core.NewDate(2024, 1, 31), core.Daily, 1, "2024-02-01"},
		{"daily across leap day", core.NewDate(2024, 2, 28), core.Daily, 2, "2024-03-01"},
		{"weekly three executions", core.NewDate(2024, 1, 1), core.Weekly, 3, "2024-01-22"},
		{"monthly clamps to leap day", core.NewDate(2024, 1, 31), core.Monthly, 1, "2024-02-29"},
		{"monthly restores anchor day", core.NewDate(2024, 1, 31), core.Monthly, 2, "2024-03-31"},
		{"monthly clamps to 30", core.NewDate(2024, 1, 31), core.Monthly, 3, "2024-04-30"},
		{"monthly thirteen executions", core.NewDate(2024, 1, 31), core.Monthly, 13, "2025-02-28"},
		{"monthly mid month", core.NewDate(2024, 11, 15), core.Monthly, 2, "2025-01-15"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextExecutionDate(tt.start, tt.freq, tt.executions)
			if err != nil {
				t.Fatalf("NextExecutionDate: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("NextExecutionDate(%s, %s, %d) = %s, want %s", tt.start, tt.freq, tt.executions, got, tt.want)
			}
		})
	}
}

func TestNextExecutionDate_DoesNotDrift(t *testing.T) {
	start := core.NewDate(2024, 1, 31)
	prev := start
	for n := 1; n <= 36; n++ {
		got, err := NextExecutionDate(start, core.Monthly, n)
		if err != nil {
			t.Fatalf("NextExecutionDate: %v", err)
		}
		if !got.After(prev) {
			t.Fatalf("occurrence %d (%s) not after %s", n, got, prev)
		}
		lastDay := got.AddDate(0, 1, -got.Day()).Day()
		if got.Day() != 31 && got.Day() != lastDay {
			t.Fatalf("occurrence %d drifted to %s", n, got)
		}
		again, _ := NextExecutionDate(start, core.Monthly, n)
		if !again.Equal(got) {
			t.Fatalf("occurrence %d not idempotent: %s vs %s", n, got, again)
		}
		prev = got
	}
}

func TestNextOccurrenceAfter(t *testing.T) {
	tests := []struct {
		name  string
		start core.Date
		freq  core.Frequency
		after core.Date
		want  string
	}{
		{"before start", core.NewDate(2024, 3, 1), core.Weekly, core.NewDate(2024, 1, 1), "2024-03-01"},
		{"on start", core.NewDate(2024, 1, 1), core.Weekly, core.NewDate(2024, 1, 1), "2024-01-08"},
		{"between occurrences", core.NewDate(2024, 1, 1), core.Weekly, core.NewDate(2024, 1, 10), "2024-01-15"},
		{"daily", core.NewDate(2024, 1, 1), core.Daily, core.NewDate(2024, 1, 9), "2024-01-10"},
		{"monthly on clamped day", core.NewDate(2024, 1, 31), core.Monthly, core.NewDate(2024, 2, 29), "2024-03-31"},
		{"monthly before clamped day", core.NewDate(2024, 1, 31), core.Monthly, core.NewDate(2024, 2, 28), "2024-02-29"},
		{"monthly far ahead", core.NewDate(2020, 5, 31), core.Monthly, core.NewDate(2025, 2, 27), "2025-02-28"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextOccurrenceAfter(tt.start, tt.freq, tt.after)
			if err != nil {
				t.Fatalf("NextOccurrenceAfter: %v", err)
			}
			if got.String() != tt.want {
				t.Errorf("NextOccurrenceAfter(%s, %s, %s) = %s, want %s", tt.start, tt.freq, tt.after, got, tt.want)
			}
		})
	}
}

func TestFirstOccurrenceFromAndIsOccurrence(t *testing.T) {
	start := core.NewDate(2024, 1, 1)
	got, err := FirstOccurrenceFrom(start, core.Weekly, core.NewDate(2024, 1, 15))
	if err != nil || got.String() != "2024-01-15" {
		t.Fatalf("FirstOccurrenceFrom = %s (err=%v), want 2024-01-15", got, err)
	}
	ok, _ := IsOccurrence(start, core.Weekly, core.NewDate(2024, 1, 22))
	if !ok {
		t.Fatal("2024-01-22 should be a weekly occurrence")
	}
	ok, _ = IsOccurrence(start, core.Weekly, core.NewDate(2024, 1, 23))
	if ok {
		t.Fatal("2024-01-23 should not be a weekly occurrence")
	}
}

func TestGetRecurrenceStrategy_Unknown(t *testing.T) {
	if _, err := GetRecurrenceStrategy("yearly"); err == nil {
		t.Fatal("expected error for unsupported frequency")
	}
	if _, err := NextExecutionDate(core.NewDate(2024, 1, 1), core.Daily, -1); err == nil {
		t.Fatal("expected error for negative count")
	}
}
