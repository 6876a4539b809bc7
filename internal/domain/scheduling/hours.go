package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeOfDay is a wall-clock time expressed as minutes after midnight.
type TimeOfDay int

// ParseTimeOfDay parses "HH:MM" in 24h notation.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 24 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return TimeOfDay(h*60 + m), nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func timeOfDay(t time.Time) TimeOfDay {
	return TimeOfDay(t.Hour()*60 + t.Minute())
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ParseWorkdays parses a comma separated list of weekday abbreviations ("mon,tue").
func ParseWorkdays(s string) ([]time.Weekday, error) {
	var days []time.Weekday
	for _, raw := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if len(name) > 3 {
			name = name[:3]
		}
		d, ok := weekdayNames[name]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", raw)
		}
		days = append(days, d)
	}
	if len(days) == 0 {
		return nil, fmt.Errorf("at least one workday is required")
	}
	return days, nil
}

// BusinessHours is a named operating-hours policy. An instant is bookable
// when its weekday is a workday and its wall-clock time in Location falls
// in [Open, Close).
type BusinessHours struct {
	Name     string
	Workdays []time.Weekday
	Open     TimeOfDay
	Close    TimeOfDay
	Location *time.Location
}

// DefaultBusinessHours is Monday to Friday, 09:00 to 18:00 UTC.
func DefaultBusinessHours() BusinessHours {
	return BusinessHours{
		Name:     "default",
		Workdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Open:     9 * 60,
		Close:    18 * 60,
		Location: time.UTC,
	}
}

// NewBusinessHours builds a policy from its textual configuration.
func NewBusinessHours(name, workdays, openAt, closeAt, timezone string) (BusinessHours, error) {
	days, err := ParseWorkdays(workdays)
	if err != nil {
		return BusinessHours{}, err
	}
	o, err := ParseTimeOfDay(openAt)
	if err != nil {
		return BusinessHours{}, err
	}
	c, err := ParseTimeOfDay(closeAt)
	if err != nil {
		return BusinessHours{}, err
	}
	if c <= o {
		return BusinessHours{}, fmt.Errorf("close time %s must be after open time %s", c, o)
	}
	loc := time.UTC
	if timezone != "" {
		loc, err = time.LoadLocation(timezone)
		if err != nil {
			return BusinessHours{}, fmt.Errorf("load timezone %q: %w", timezone, err)
		}
	}
	return BusinessHours{Name: name, Workdays: days, Open: o, Close: c, Location: loc}, nil
}

func (b BusinessHours) location() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

func (b BusinessHours) isWorkday(d time.Weekday) bool {
	for _, w := range b.Workdays {
		if w == d {
			return true
		}
	}
	return false
}

// Validate returns a *ValidationError if instant falls outside the policy.
func (b BusinessHours) Validate(instant time.Time) error {
	local := instant.In(b.location())
	if !b.isWorkday(local.Weekday()) {
		return &ValidationError{
			Field:  "start",
			Reason: fmt.Sprintf("%s is not a business day under policy %q", local.Weekday(), b.Name),
		}
	}
	tod := timeOfDay(local)
	if tod < b.Open || tod >= b.Close {
		return &ValidationError{
			Field:  "start",
			Reason: fmt.Sprintf("%s is outside business hours %s-%s", tod, b.Open, b.Close),
		}
	}
	return nil
}
