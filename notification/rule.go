package notification

import (
	"errors"
	"fmt"
	"time"
)

// TriggerType selects one of the four temporal rule shapes.
type TriggerType string

const (
	// TriggerTimeBefore fires an offset before the appointment.
	TriggerTimeBefore TriggerType = "timeBefore"
	// TriggerTimeAfter fires an offset after the appointment.
	TriggerTimeAfter TriggerType = "timeAfter"
	// TriggerAtTimeBefore fires at a clock time some weeks/days before.
	TriggerAtTimeBefore TriggerType = "atTimeBefore"
	// TriggerAtTimeAfter fires at a clock time some weeks/days after.
	TriggerAtTimeAfter TriggerType = "atTimeAfter"
)

// TimeOfDay is a wall-clock time in the appointment's zone.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// Trigger is the temporal shape of a rule. Hours and Minutes are only
// used by the offset shapes; Time only by the at-time shapes.
type Trigger struct {
	Type    TriggerType `json:"type"`
	Weeks   int         `json:"weeks,omitempty"`
	Days    int         `json:"days,omitempty"`
	Hours   int         `json:"hours,omitempty"`
	Minutes int         `json:"minutes,omitempty"`
	Time    *TimeOfDay  `json:"time,omitempty"`
}

// AtTime reports whether the trigger is one of the at-time shapes.
func (t Trigger) AtTime() bool {
	return t.Type == TriggerAtTimeBefore || t.Type == TriggerAtTimeAfter
}

// Channel is the delivery channel of a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelText  Channel = "text"
)

// ConditionType selects an optional send-time condition.
type ConditionType string

const (
	ConditionNone             ConditionType = "none"
	ConditionAppointmentCount ConditionType = "appointmentCount"
)

// Comparator compares a customer's confirmed-appointment count against a
// rule's threshold.
type Comparator string

const (
	ComparatorLT  Comparator = "lt"
	ComparatorEQ  Comparator = "eq"
	ComparatorGT  Comparator = "gt"
	ComparatorLTE Comparator = "lte"
	ComparatorGTE Comparator = "gte"
)

func (c Comparator) valid() bool {
	switch c {
	case ComparatorLT, ComparatorEQ, ComparatorGT, ComparatorLTE, ComparatorGTE:
		return true
	}
	return false
}

// Condition is evaluated against the customer's confirmed-appointment
// count when the notification is about to be sent.
type Condition struct {
	Type       ConditionType `json:"type"`
	Comparator Comparator    `json:"comparator,omitempty"`
	Count      int           `json:"count,omitempty"`
}

// Rule is a scheduled notification rule of one tenant.
type Rule struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Trigger    Trigger   `json:"trigger"`
	Channel    Channel   `json:"channel"`
	TemplateID string    `json:"template_id"`
	Subject    string    `json:"subject,omitempty"`
	Condition  Condition `json:"condition"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrInvalidRule is returned by Rule.Validate.
var ErrInvalidRule = errors.New("notification: invalid rule")

// Validate checks the rule as authored. ComputeFireTime assumes a valid
// rule.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}

	t := r.Trigger
	switch t.Type {
	case TriggerTimeBefore, TriggerTimeAfter:
		if t.Weeks < 0 || t.Days < 0 || t.Hours < 0 || t.Minutes < 0 {
			return fmt.Errorf("%w: offsets must not be negative", ErrInvalidRule)
		}
	case TriggerAtTimeBefore, TriggerAtTimeAfter:
		if t.Weeks < 0 || t.Days < 0 {
			return fmt.Errorf("%w: offsets must not be negative", ErrInvalidRule)
		}
		if t.Weeks == 0 && t.Days == 0 {
			return fmt.Errorf("%w: %s needs weeks or days", ErrInvalidRule, t.Type)
		}
		if t.Time == nil {
			return fmt.Errorf("%w: %s needs a time of day", ErrInvalidRule, t.Type)
		}
		if t.Time.Hour < 0 || t.Time.Hour > 23 || t.Time.Minute < 0 || t.Time.Minute > 59 {
			return fmt.Errorf("%w: time of day %02d:%02d out of range", ErrInvalidRule, t.Time.Hour, t.Time.Minute)
		}
	default:
		return fmt.Errorf("%w: trigger type %q", ErrInvalidRule, t.Type)
	}

	switch r.Channel {
	case ChannelEmail:
		if r.Subject == "" {
			return fmt.Errorf("%w: email needs a subject", ErrInvalidRule)
		}
	case ChannelText:
	default:
		return fmt.Errorf("%w: channel %q", ErrInvalidRule, r.Channel)
	}
	if r.TemplateID == "" {
		return fmt.Errorf("%w: template is required", ErrInvalidRule)
	}

	switch r.Condition.Type {
	case "", ConditionNone:
	case ConditionAppointmentCount:
		if !r.Condition.Comparator.valid() {
			return fmt.Errorf("%w: comparator %q", ErrInvalidRule, r.Condition.Comparator)
		}
		if r.Condition.Count < 0 {
			return fmt.Errorf("%w: condition count must not be negative", ErrInvalidRule)
		}
	default:
		return fmt.Errorf("%w: condition type %q", ErrInvalidRule, r.Condition.Type)
	}
	return nil
}
