package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// ErrInvalidRule matches every parse failure via errors.Is.
var ErrInvalidRule = errors.New("invalid recurrence rule")

// InvalidRuleError carries the rule string that failed to parse.
type InvalidRuleError struct {
	Rule string
	Err  error
}

func (e *InvalidRuleError) Error() string {
	return fmt.Sprintf("invalid recurrence rule: %s", e.Rule)
}

func (e *InvalidRuleError) Unwrap() error { return e.Err }

func (e *InvalidRuleError) Is(target error) bool { return target == ErrInvalidRule }

func invalid(rule string, err error) error {
	return &InvalidRuleError{Rule: rule, Err: err}
}

type Frequency string

const (
	Daily   Frequency = "DAILY"
	Weekly  Frequency = "WEEKLY"
	Monthly Frequency = "MONTHLY"
	Yearly  Frequency = "YEARLY"
)

var toLibFreq = map[Frequency]rrule.Frequency{
	Daily:   rrule.DAILY,
	Weekly:  rrule.WEEKLY,
	Monthly: rrule.MONTHLY,
	Yearly:  rrule.YEARLY,
}

var fromLibFreq = map[rrule.Frequency]Frequency{
	rrule.DAILY:   Daily,
	rrule.WEEKLY:  Weekly,
	rrule.MONTHLY: Monthly,
	rrule.YEARLY:  Yearly,
}

// dayCodes is indexed by rrule.Weekday.Day() (0 = Monday).
var dayCodes = [...]string{"MO", "TU", "WE", "TH", "FR", "SA", "SU"}

var dayNames = map[string]string{
	"MO": "Mon", "TU": "Tue", "WE": "Wed", "TH": "Thu", "FR": "Fri", "SA": "Sat", "SU": "Sun",
}

// Config is the structured form of an RFC 5545 RRULE restricted to the
// daily, weekly, monthly and yearly frequencies.
type Config struct {
	Frequency  Frequency  `json:"frequency"`
	Interval   int        `json:"interval"`
	ByDay      []string   `json:"byDay,omitempty"`
	ByMonthDay []int      `json:"byMonthDay,omitempty"`
	Until      *time.Time `json:"until,omitempty"`
	Count      *int       `json:"count,omitempty"`
}

// Parse parses an RRULE string like "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
// A leading "RRULE:" is accepted.
func Parse(rule string) (Config, error) {
	raw := strings.TrimSpace(rule)
	if len(raw) >= 6 && strings.EqualFold(raw[:6], "RRULE:") {
		raw = raw[6:]
	}
	if raw == "" {
		return Config{}, invalid(rule, errors.New("empty rule"))
	}

	// The library treats zero as "unset" for these, so reject explicit
	// non-positive values before handing over.
	for _, part := range strings.Split(raw, ";") {
		key, val, ok := strings.Cut(part, "=")
		if !ok {
			return Config{}, invalid(rule, fmt.Errorf("invalid rule part: %q", part))
		}
		if key == "INTERVAL" || key == "COUNT" {
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Config{}, invalid(rule, fmt.Errorf("invalid %s: %q", strings.ToLower(key), val))
			}
		}
	}

	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return Config{}, invalid(rule, err)
	}

	freq, ok := fromLibFreq[opt.Freq]
	if !ok {
		return Config{}, invalid(rule, fmt.Errorf("unsupported frequency"))
	}

	c := Config{Frequency: freq, Interval: 1}
	if opt.Interval > 0 {
		c.Interval = opt.Interval
	}

	for i := range opt.Byweekday {
		wd := &opt.Byweekday[i]
		code := dayCodes[wd.Day()]
		if n := wd.N(); n != 0 {
			code = fmt.Sprintf("%+d%s", n, code)
		}
		c.ByDay = append(c.ByDay, code)
	}

	for _, md := range opt.Bymonthday {
		if md == 0 || md > 31 || md < -31 {
			return Config{}, invalid(rule, fmt.Errorf("invalid BYMONTHDAY: %d", md))
		}
		c.ByMonthDay = append(c.ByMonthDay, md)
	}

	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		c.Until = &until
	}
	if opt.Count > 0 {
		count := opt.Count
		c.Count = &count
	}

	return c, nil
}

// String serializes the config back to an RRULE string.
func (c Config) String() string {
	parts := []string{"FREQ=" + string(c.Frequency)}

	if c.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", c.Interval))
	}

	if len(c.ByDay) > 0 {
		parts = append(parts, "BYDAY="+strings.Join(c.ByDay, ","))
	}

	if len(c.ByMonthDay) > 0 {
		days := make([]string, len(c.ByMonthDay))
		for i, md := range c.ByMonthDay {
			days[i] = strconv.Itoa(md)
		}
		parts = append(parts, "BYMONTHDAY="+strings.Join(days, ","))
	}

	if c.Count != nil {
		parts = append(parts, fmt.Sprintf("COUNT=%d", *c.Count))
	}

	if c.Until != nil {
		parts = append(parts, "UNTIL="+c.Until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (c Config) Describe() string {
	switch c.Frequency {
	case Daily:
		if c.Interval > 1 {
			return fmt.Sprintf("Repeats every %d days", c.Interval)
		}
		return "Repeats daily"
	case Weekly:
		prefix := "Repeats weekly"
		if c.Interval == 2 {
			prefix = "Repeats every 2 weeks"
		} else if c.Interval > 2 {
			prefix = fmt.Sprintf("Repeats every %d weeks", c.Interval)
		}
		if len(c.ByDay) > 0 {
			var names []string
			for _, d := range c.ByDay {
				if name, ok := dayNames[d]; ok {
					names = append(names, name)
				} else {
					names = append(names, d)
				}
			}
			return prefix + " on " + strings.Join(names, ", ")
		}
		return prefix
	case Monthly:
		if c.Interval > 1 {
			return fmt.Sprintf("Repeats every %d months", c.Interval)
		}
		return "Repeats monthly"
	case Yearly:
		if c.Interval > 1 {
			return fmt.Sprintf("Repeats every %d years", c.Interval)
		}
		return "Repeats yearly"
	}
	return ""
}
