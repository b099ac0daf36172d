// Package recurrence parses the RRULE subset used by repeating reminders and
// steps a reminder's due date forward through its series.
package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
	Yearly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
	Yearly:  "YEARLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
	"YEARLY":  Yearly,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

const untilLayout = "20060102T150405Z"

// Rule is a parsed repeat rule. Count, when set, is the number of occurrences
// left in the series counting the one the rule is anchored at.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1
	ByDay      []time.Weekday // WEEKLY only; empty means the anchor's weekday
	ByMonthDay int            // MONTHLY only; 0 means the anchor's day
	Count      int            // 0 = unlimited
	Until      *time.Time
}

var ErrEmptyRule = errors.New("empty repeat rule")

// Parse parses a rule such as "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2". Keys and
// values are case-insensitive.
func Parse(rule string) (Rule, error) {
	rule = strings.ToUpper(strings.TrimSpace(rule))
	if rule == "" {
		return Rule{}, ErrEmptyRule
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(rule, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return Rule{}, fmt.Errorf("invalid rule part %q", part)
		}

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("unknown frequency %q", val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid interval %q", val)
			}
			r.Interval = n

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("unknown day %q", d)
				}
				r.ByDay = append(r.ByDay, wd)
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("invalid BYMONTHDAY %q", val)
			}
			r.ByMonthDay = n

		case "COUNT":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("invalid count %q", val)
			}
			r.Count = n

		case "UNTIL":
			t, err := time.Parse(untilLayout, val)
			if err != nil {
				t, err = time.Parse("20060102", val)
				if err != nil {
					return Rule{}, fmt.Errorf("invalid UNTIL %q", val)
				}
			}
			r.Until = &t

		default:
			return Rule{}, fmt.Errorf("unsupported rule key %q", key)
		}
	}

	if !hasFreq {
		return Rule{}, errors.New("FREQ is required")
	}
	if len(r.ByDay) > 0 && r.Freq != Weekly {
		return Rule{}, errors.New("BYDAY requires FREQ=WEEKLY")
	}
	if r.ByMonthDay > 0 && r.Freq != Monthly {
		return Rule{}, errors.New("BYMONTHDAY requires FREQ=MONTHLY")
	}
	return r, nil
}

// String serializes the rule in canonical key order.
func (r Rule) String() string {
	parts := []string{"FREQ=" + freqNames[r.Freq]}

	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.ByDay) > 0 {
		days := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			days[i] = dayAbbrev[d]
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	if r.ByMonthDay > 0 {
		parts = append(parts, "BYMONTHDAY="+strconv.Itoa(r.ByMonthDay))
	}
	if r.Count > 0 {
		parts = append(parts, "COUNT="+strconv.Itoa(r.Count))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format(untilLayout))
	}
	return strings.Join(parts, ";")
}

// Describe returns a short human-readable form used in notification text.
func (r Rule) Describe() string {
	unit := map[Freq]string{Daily: "day", Weekly: "week", Monthly: "month", Yearly: "year"}[r.Freq]

	var s string
	if r.Interval > 1 {
		s = fmt.Sprintf("every %d %ss", r.Interval, unit)
	} else {
		s = "every " + unit
	}

	if r.Freq == Weekly && len(r.ByDay) > 0 {
		names := make([]string, len(r.ByDay))
		for i, d := range r.ByDay {
			names[i] = d.String()[:3]
		}
		s += " on " + strings.Join(names, ", ")
	}
	return s
}
