package tracking

import (
	"encoding/json"
	"fmt"
	"time"
)

// Step is a booking-funnel step. Steps are ordered; see Rank.
type Step string

const (
	StepOptionsRequested   Step = "OPTIONS_REQUESTED"
	StepOptionSelected     Step = "OPTION_SELECTED"
	StepDurationSelected   Step = "DURATION_SELECTED"
	StepAddonsSelected     Step = "ADDONS_SELECTED"
	StepDateTimeSelected   Step = "DATE_TIME_SELECTED"
	StepFormFilled         Step = "FORM_FILLED"
	StepPaymentStarted     Step = "PAYMENT_STARTED"
	StepConfirmationViewed Step = "CONFIRMATION_VIEWED"
	StepBookingConverted   Step = "BOOKING_CONVERTED"
)

var stepRank = map[Step]int{
	StepOptionsRequested:   1,
	StepOptionSelected:     2,
	StepDurationSelected:   3,
	StepAddonsSelected:     4,
	StepDateTimeSelected:   5,
	StepFormFilled:         6,
	StepPaymentStarted:     7,
	StepConfirmationViewed: 8,
	StepBookingConverted:   9,
}

// Rank returns the step's position in the funnel, or 0 for unknown steps.
func (s Step) Rank() int { return stepRank[s] }

// Valid reports whether s is a known funnel step.
func (s Step) Valid() bool { return s.Rank() > 0 }

// Status is the state of a booking session.
type Status string

const (
	StatusActive    Status = "active"
	StatusAbandoned Status = "abandoned"
	StatusConverted Status = "converted"
)

// Metadata is what the funnel learned about the booking so far.
type Metadata struct {
	OptionID        string  `json:"optionId,omitempty"`
	OptionName      string  `json:"optionName,omitempty"`
	Duration        int     `json:"duration,omitempty"`
	PaymentRequired *bool   `json:"paymentRequired,omitempty"`
	PaymentAmount   float64 `json:"paymentAmount,omitempty"`
	CustomerName    string  `json:"customerName,omitempty"`
	CustomerEmail   string  `json:"customerEmail,omitempty"`
	CustomerPhone   string  `json:"customerPhone,omitempty"`
	AppointmentID   string  `json:"appointmentId,omitempty"`
	ConvertedTo     string  `json:"convertedTo,omitempty"`
}

// merge overlays the non-empty fields of o onto m.
func (m *Metadata) merge(o Metadata) {
	if o.OptionID != "" {
		m.OptionID = o.OptionID
	}
	if o.OptionName != "" {
		m.OptionName = o.OptionName
	}
	if o.Duration != 0 {
		m.Duration = o.Duration
	}
	if o.PaymentRequired != nil {
		v := *o.PaymentRequired
		m.PaymentRequired = &v
	}
	if o.PaymentAmount != 0 {
		m.PaymentAmount = o.PaymentAmount
	}
	if o.CustomerName != "" {
		m.CustomerName = o.CustomerName
	}
	if o.CustomerEmail != "" {
		m.CustomerEmail = o.CustomerEmail
	}
	if o.CustomerPhone != "" {
		m.CustomerPhone = o.CustomerPhone
	}
	if o.AppointmentID != "" {
		m.AppointmentID = o.AppointmentID
	}
	if o.ConvertedTo != "" {
		m.ConvertedTo = o.ConvertedTo
	}
}

// Session is the ephemeral state of one visitor going through the funnel.
type Session struct {
	ID         string             `json:"sessionId"`
	VisitorID  string             `json:"visitorId"`
	TenantID   string             `json:"tenantId"`
	StartedAt  time.Time          `json:"startedAt"`
	LastSeenAt time.Time          `json:"lastSeenAt"`
	LastStep   Step               `json:"lastStep"`
	Steps      map[Step]time.Time `json:"steps"`
	Status     Status             `json:"status"`
	Metadata   Metadata           `json:"metadata"`
}

// record applies one funnel event. First-seen timestamps are never
// overwritten.
func (s *Session) record(step Step, at time.Time, md Metadata) {
	if s.Steps == nil {
		s.Steps = make(map[Step]time.Time)
	}
	if _, seen := s.Steps[step]; !seen {
		s.Steps[step] = at
	}
	s.LastSeenAt = at
	s.LastStep = step
	s.Metadata.merge(md)
}

// Stale reports whether the session has been idle for at least window.
func (s *Session) Stale(now time.Time, window time.Duration) bool {
	return !s.LastSeenAt.After(now.Add(-window))
}

// EntryOnly reports whether the only recorded step is the funnel entry.
func (s *Session) EntryOnly() bool {
	if len(s.Steps) != 1 {
		return false
	}
	_, ok := s.Steps[StepOptionsRequested]
	return ok
}

// FurthestStep returns the highest-ranked step the session reached.
func (s *Session) FurthestStep() Step {
	var best Step
	for st := range s.Steps {
		if st.Rank() > best.Rank() {
			best = st
		}
	}
	return best
}

func encodeSession(s *Session) ([]byte, error) {
	return json.Marshal(s)
}

func decodeSession(data []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("tracking: decode session: %w", err)
	}
	return &s, nil
}

// Event is the durable snapshot of a session that left the active state.
// It is created by the tracker, never by user action.
type Event struct {
	ID          string             `json:"id"`
	TenantID    string             `json:"tenantId"`
	SessionID   string             `json:"sessionId"`
	VisitorID   string             `json:"visitorId,omitempty"`
	Status      Status             `json:"status"`
	StartedAt   time.Time          `json:"startedAt"`
	LastSeenAt  time.Time          `json:"lastSeenAt"`
	LastStep    Step               `json:"lastStep"`
	Steps       map[Step]time.Time `json:"steps"`
	Metadata    Metadata           `json:"metadata"`
	ConvertedAt *time.Time         `json:"convertedAt,omitempty"`
	AbandonedAt *time.Time         `json:"abandonedAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
}
