package notification

import (
	"fmt"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
)

// ComputeFireTime returns when rule r fires for appointment a. The
// arithmetic happens in the appointment's time zone, so day offsets keep
// the wall-clock time across DST changes. An unknown trigger type is a
// permanent error.
func ComputeFireTime(r *Rule, a *booking.Appointment) (time.Time, error) {
	at := a.Local()
	t := r.Trigger

	switch t.Type {
	case TriggerTimeBefore:
		return at.AddDate(0, 0, -(t.Weeks*7 + t.Days)).
			Add(-(time.Duration(t.Hours)*time.Hour + time.Duration(t.Minutes)*time.Minute)), nil
	case TriggerTimeAfter:
		return at.AddDate(0, 0, t.Weeks*7+t.Days).
			Add(time.Duration(t.Hours)*time.Hour + time.Duration(t.Minutes)*time.Minute), nil
	case TriggerAtTimeBefore:
		return atClock(at.AddDate(0, 0, -(t.Weeks*7 + t.Days)), t.Time), nil
	case TriggerAtTimeAfter:
		return atClock(at.AddDate(0, 0, t.Weeks*7+t.Days), t.Time), nil
	default:
		return time.Time{}, timeli.Permanent(fmt.Errorf("%w: %q on rule %s", timeli.ErrUnknownTriggerType, t.Type, r.ID))
	}
}

func atClock(day time.Time, tod *TimeOfDay) time.Time {
	var h, m int
	if tod != nil {
		h, m = tod.Hour, tod.Minute
	}
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, day.Location())
}

// MeetsAppointmentCountCondition reports whether count satisfies the
// rule's condition. A rule without a condition accepts any count.
func MeetsAppointmentCountCondition(r *Rule, count int) bool {
	c := r.Condition
	if c.Type != ConditionAppointmentCount {
		return true
	}
	switch c.Comparator {
	case ComparatorLT:
		return count < c.Count
	case ComparatorEQ:
		return count == c.Count
	case ComparatorGT:
		return count > c.Count
	case ComparatorLTE:
		return count <= c.Count
	case ComparatorGTE:
		return count >= c.Count
	default:
		return false
	}
}
