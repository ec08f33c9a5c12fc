package recurrence

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxOccurrences caps a single expansion.
const MaxOccurrences = 1000

// Occurrence represents a single generated occurrence of a recurring event.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Expand generates all occurrences of a recurring event that overlap
// [rangeStart, rangeEnd). eventStart and eventEnd define the first
// occurrence's time span (used for duration).
func Expand(c Config, eventStart, eventEnd time.Time, rangeStart, rangeEnd time.Time) ([]Occurrence, error) {
	r, err := c.rrule(eventStart)
	if err != nil {
		return nil, err
	}

	duration := eventEnd.Sub(eventStart)
	starts := r.Between(rangeStart.Add(-duration), rangeEnd, true)

	var results []Occurrence
	for _, occStart := range starts {
		occEnd := occStart.Add(duration)
		if !occStart.Before(rangeEnd) || !occEnd.After(rangeStart) {
			continue
		}
		results = append(results, Occurrence{Start: occStart, End: occEnd})
		if len(results) == MaxOccurrences {
			break
		}
	}
	return results, nil
}

func (c Config) rrule(dtstart time.Time) (*rrule.RRule, error) {
	freq, ok := toLibFreq[c.Frequency]
	if !ok {
		return nil, invalid(c.String(), fmt.Errorf("unsupported frequency %q", c.Frequency))
	}

	opt := rrule.ROption{
		Freq:       freq,
		Dtstart:    dtstart,
		Interval:   c.Interval,
		Bymonthday: c.ByMonthDay,
	}
	if c.Count != nil {
		opt.Count = *c.Count
	}
	if c.Until != nil {
		opt.Until = *c.Until
	}
	if len(c.ByDay) > 0 {
		// Round-trip through the library's own BYDAY parser so ordinal
		// prefixes like +1MO survive.
		parsed, err := rrule.StrToROption("FREQ=" + string(c.Frequency) + ";BYDAY=" + strings.Join(c.ByDay, ","))
		if err != nil {
			return nil, invalid(c.String(), err)
		}
		opt.Byweekday = parsed.Byweekday
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, invalid(c.String(), err)
	}
	return r, nil
}
