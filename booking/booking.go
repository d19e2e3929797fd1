// Package booking holds the appointment model read by the notification
// engine and the appointment hook scope that connected apps implement.
package booking

import (
	"context"
	"time"

	"github.com/xraph/timeli/plugin"
)

// Status is the lifecycle status of an appointment.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusDeclined  Status = "declined"
)

// Customer identifies who booked an appointment.
type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Appointment is a booked appointment. It is owned by the booking surface
// and only read here.
type Appointment struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenant_id"`
	Customer      Customer  `json:"customer"`
	OptionName    string    `json:"option_name,omitempty"`
	DateTime      time.Time `json:"date_time"`
	TimeZone      string    `json:"time_zone,omitempty"`
	Status        Status    `json:"status"`
	TotalDuration int       `json:"total_duration"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Confirmed reports whether the appointment is confirmed.
func (a *Appointment) Confirmed() bool { return a.Status == StatusConfirmed }

// Location returns the appointment's time zone, falling back to UTC when
// the zone is empty or unknown.
func (a *Appointment) Location() *time.Location {
	if a.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Local returns the appointment time in its own time zone.
func (a *Appointment) Local() time.Time {
	return a.DateTime.In(a.Location())
}

// ListOpts pages appointment queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// Store reads appointments. Every query is scoped by tenant.
type Store interface {
	// GetAppointment returns the appointment or timeli.ErrAppointmentNotFound.
	GetAppointment(ctx context.Context, tenantID, id string) (*Appointment, error)

	// ListConfirmedAppointments returns confirmed appointments at or after
	// from, ordered by time then id.
	ListConfirmedAppointments(ctx context.Context, tenantID string, from time.Time, opts ListOpts) ([]*Appointment, error)

	// CountConfirmedAppointments returns how many confirmed appointments
	// the customer has.
	CountConfirmedAppointments(ctx context.Context, tenantID, customerID string) (int, error)

	// SaveAppointment inserts or replaces an appointment.
	SaveAppointment(ctx context.Context, a *Appointment) error
}

// AppointmentHook is the appointment-hook scope. Apps that declare
// plugin.ScopeAppointmentHook receive these calls through hook jobs.
type AppointmentHook interface {
	OnAppointmentCreated(ctx context.Context, app *plugin.App, a *Appointment) error
	OnAppointmentRescheduled(ctx context.Context, app *plugin.App, a *Appointment) error
	OnAppointmentStatusChanged(ctx context.Context, app *plugin.App, a *Appointment) error
}
