package recurrence

import (
	"slices"
	"time"
)

// maxSteps bounds the walk through a series.
const maxSteps = 10000

// Next returns the first occurrence of the series anchored at from that falls
// strictly after after. Occurrences passed over, including from itself, are
// charged against Count; the returned rule carries what is left and is meant
// to be stored alongside the new due date. ok is false once the series has
// ended.
func (r Rule) Next(from, after time.Time) (next time.Time, rest Rule, ok bool) {
	it := newIterator(r, from)
	consumed := 0
	for range maxSteps {
		t := it.advance()
		if t.IsZero() {
			return time.Time{}, r, false
		}
		if r.Until != nil && t.After(*r.Until) {
			return time.Time{}, r, false
		}
		if !t.After(after) {
			consumed++
			continue
		}
		if r.Count > 0 && consumed >= r.Count {
			return time.Time{}, r, false
		}
		rest = r
		if r.Count > 0 {
			rest.Count -= consumed
		}
		return t, rest, true
	}
	return time.Time{}, r, false
}

type iterator struct {
	rule       Rule
	base       time.Time
	current    time.Time
	weekDayIdx int
	started    bool
}

func newIterator(rule Rule, start time.Time) *iterator {
	if rule.Interval < 1 {
		rule.Interval = 1
	}
	if len(rule.ByDay) > 0 {
		days := slices.Clone(rule.ByDay)
		slices.SortFunc(days, func(a, b time.Weekday) int {
			return mondayOffset(a) - mondayOffset(b)
		})
		rule.ByDay = slices.Compact(days)
	}
	return &iterator{rule: rule, base: start, current: start}
}

func (it *iterator) advance() time.Time {
	switch it.rule.Freq {
	case Daily:
		return it.step(0, 0, it.rule.Interval)
	case Weekly:
		if len(it.rule.ByDay) > 0 {
			return it.advanceWeeklyByDay()
		}
		return it.step(0, 0, 7*it.rule.Interval)
	case Monthly:
		return it.advanceMonthly()
	case Yearly:
		return it.advanceYearly()
	}
	return time.Time{}
}

// step yields the anchor first and then moves by a fixed calendar offset.
func (it *iterator) step(years, months, days int) time.Time {
	if !it.started {
		it.started = true
		return it.current
	}
	it.current = it.current.AddDate(years, months, days)
	return it.current
}

func (it *iterator) advanceWeeklyByDay() time.Time {
	if !it.started {
		it.started = true
		it.current = weekStart(it.base)
		it.weekDayIdx = 0
		return it.findNextByDay()
	}

	it.weekDayIdx++
	if it.weekDayIdx >= len(it.rule.ByDay) {
		it.nextWeek()
	}
	return it.findNextByDay()
}

func (it *iterator) nextWeek() {
	it.current = weekStart(it.current.AddDate(0, 0, 7*it.rule.Interval))
	it.weekDayIdx = 0
}

func (it *iterator) findNextByDay() time.Time {
	for range maxSteps {
		for it.weekDayIdx < len(it.rule.ByDay) {
			offset := mondayOffset(it.rule.ByDay[it.weekDayIdx])
			candidate := time.Date(
				it.current.Year(), it.current.Month(), it.current.Day()+offset,
				it.base.Hour(), it.base.Minute(), it.base.Second(), 0,
				it.base.Location(),
			)
			if !candidate.Before(it.base) {
				return candidate
			}
			it.weekDayIdx++
		}
		it.nextWeek()
	}
	return time.Time{}
}

// mondayOffset is d's position in a week that starts on Monday.
func mondayOffset(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// weekStart returns midnight on the Monday of t's week.
func weekStart(t time.Time) time.Time {
	monday := t.AddDate(0, 0, -mondayOffset(t.Weekday()))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

func (it *iterator) advanceMonthly() time.Time {
	day := it.rule.ByMonthDay
	if day == 0 {
		day = it.base.Day()
	}

	if !it.started {
		it.started = true
		if it.rule.ByMonthDay == 0 || it.base.Day() == day {
			return it.current
		}
		// Anchor on the first matching day on or after base.
		it.current = time.Date(it.base.Year(), it.base.Month(), 1,
			it.base.Hour(), it.base.Minute(), it.base.Second(), 0, it.base.Location())
		if day > it.base.Day() && day <= daysInMonth(it.base.Year(), it.base.Month()) {
			it.current = it.current.AddDate(0, 0, day-1)
			return it.current
		}
	}

	// Walk month starts so AddDate never normalizes past a short month.
	first := time.Date(it.current.Year(), it.current.Month(), 1,
		it.base.Hour(), it.base.Minute(), it.base.Second(), 0, it.base.Location())
	for range maxSteps {
		first = first.AddDate(0, it.rule.Interval, 0)
		if day <= daysInMonth(first.Year(), first.Month()) {
			it.current = first.AddDate(0, 0, day-1)
			return it.current
		}
	}
	return time.Time{}
}

func (it *iterator) advanceYearly() time.Time {
	if !it.started {
		it.started = true
		return it.current
	}

	// Feb 29 only recurs in leap years.
	leapDay := it.base.Month() == time.February && it.base.Day() == 29
	year := it.current.Year()
	for range maxSteps {
		year += it.rule.Interval
		if leapDay && daysInMonth(year, time.February) != 29 {
			continue
		}
		it.current = time.Date(year, it.base.Month(), it.base.Day(),
			it.base.Hour(), it.base.Minute(), it.base.Second(), 0, it.base.Location())
		return it.current
	}
	return time.Time{}
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
