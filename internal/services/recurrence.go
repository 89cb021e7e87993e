// Package services provides the ledger and scheduling engines.
package services

import (
	"fmt"

	"splitledger/internal/core"
)

// RecurrenceStrategy computes the occurrences of a schedule. There is one
// per frequency. Occurrences are always computed from the anchor date plus
// a count, never by stepping a running date, so chained computations
// cannot drift.
type RecurrenceStrategy interface {
	// Occurrence returns the n-th occurrence; n=0 is the anchor itself.
	Occurrence(anchor core.Date, n int) core.Date
	// Elapsed returns a lower bound on the number of whole periods between
	// anchor and d.
	Elapsed(anchor, d core.Date) int
}

type DailyRecurrence struct{}

func (DailyRecurrence) Occurrence(anchor core.Date, n int) core.Date {
	return anchor.AddDays(n)
}

func (DailyRecurrence) Elapsed(anchor, d core.Date) int {
	return daysBetween(anchor, d)
}

type WeeklyRecurrence struct{}

func (WeeklyRecurrence) Occurrence(anchor core.Date, n int) core.Date {
	return anchor.AddDays(7 * n)
}

func (WeeklyRecurrence) Elapsed(anchor, d core.Date) int {
	return daysBetween(anchor, d) / 7
}

// MonthlyRecurrence keeps the anchor's day of month, clamped to the last day
// of shorter months (Jan 31 -> Feb 29 -> Mar 31).
type MonthlyRecurrence struct{}

func (MonthlyRecurrence) Occurrence(anchor core.Date, n int) core.Date {
	first := core.NewDate(anchor.Year(), int(anchor.Month())+n, 1)
	lastDay := first.AddDate(0, 1, -1).Day()
	day := anchor.Day()
	if day > lastDay {
		day = lastDay
	}
	return core.NewDate(first.Year(), int(first.Month()), day)
}

func (MonthlyRecurrence) Elapsed(anchor, d core.Date) int {
	months := (d.Year()-anchor.Year())*12 + int(d.Month()) - int(anchor.Month())
	return months - 1
}

func daysBetween(a, b core.Date) int {
	return int(b.Time.Sub(a.Time).Hours() / 24)
}

var recurrenceStrategies = map[core.Frequency]RecurrenceStrategy{
	core.Daily:   DailyRecurrence{},
	core.Weekly:  WeeklyRecurrence{},
	core.Monthly: MonthlyRecurrence{},
}

// GetRecurrenceStrategy returns the strategy for the given frequency.
func GetRecurrenceStrategy(freq core.Frequency) (RecurrenceStrategy, error) {
	s, ok := recurrenceStrategies[freq]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", freq)
	}
	return s, nil
}

// NextExecutionDate returns the execution date that follows the given number
// of executions counted from start.
func NextExecutionDate(start core.Date, freq core.Frequency, executions int) (core.Date, error) {
	s, err := GetRecurrenceStrategy(freq)
	if err != nil {
		return core.Date{}, err
	}
	if executions < 0 {
		return core.Date{}, fmt.Errorf("negative execution count %d", executions)
	}
	return s.Occurrence(start, executions), nil
}

// OccurrencesThrough returns how many occurrences of the schedule fall on or
// before d.
func OccurrencesThrough(start core.Date, freq core.Frequency, d core.Date) (int, error) {
	s, err := GetRecurrenceStrategy(freq)
	if err != nil {
		return 0, err
	}
	if d.Before(start) {
		return 0, nil
	}
	n := s.Elapsed(start, d)
	if n < 0 {
		n = 0
	}
	for !s.Occurrence(start, n).After(d) {
		n++
	}
	return n, nil
}

// NextOccurrenceAfter returns the first occurrence strictly after d.
func NextOccurrenceAfter(start core.Date, freq core.Frequency, d core.Date) (core.Date, error) {
	n, err := OccurrencesThrough(start, freq, d)
	if err != nil {
		return core.Date{}, err
	}
	return NextExecutionDate(start, freq, n)
}

// FirstOccurrenceFrom returns the first occurrence on or after from.
func FirstOccurrenceFrom(start core.Date, freq core.Frequency, from core.Date) (core.Date, error) {
	return NextOccurrenceAfter(start, freq, from.AddDays(-1))
}

// IsOccurrence reports whether d is one of the schedule's dates.
func IsOccurrence(start core.Date, freq core.Frequency, d core.Date) (bool, error) {
	next, err := FirstOccurrenceFrom(start, freq, d)
	if err != nil {
		return false, err
	}
	return next.Equal(d), nil
}
