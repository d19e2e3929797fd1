package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/plugin"
)

// AppName is the registered name of the scheduled-notifications app.
const AppName = "scheduled-notifications"

// App job types handled by Service.
const (
	JobTypeSend      = "send-notification"
	JobTypeReconcile = "reconcile-rule"
	JobTypeSync      = "sync-notification"
)

// SendRequest is the payload of a send-notification job.
type SendRequest struct {
	RuleID        string    `json:"rule_id" msgpack:"rule_id"`
	AppointmentID string    `json:"appointment_id" msgpack:"appointment_id"`
	FireAt        time.Time `json:"fire_at" msgpack:"fire_at"`
}

// ReconcileRequest is the payload of a reconcile-rule job.
type ReconcileRequest struct {
	RuleID  string `json:"rule_id" msgpack:"rule_id"`
	Deleted bool   `json:"deleted,omitempty" msgpack:"deleted,omitempty"`
}

// SyncRequest is the payload of a sync-notification job. It reconciles one
// (rule, appointment) pair after its running reminder job returned.
type SyncRequest struct {
	RuleID        string `json:"rule_id" msgpack:"rule_id"`
	AppointmentID string `json:"appointment_id" msgpack:"appointment_id"`
}

// Message is a rendered notification handed to a Sender.
type Message struct {
	TenantID      string
	RuleID        string
	AppointmentID string
	Channel       Channel
	To            string
	TemplateID    string
	Subject       string
	Vars          map[string]string
}

// Sender delivers rendered notifications.
type Sender interface {
	SendEmail(ctx context.Context, m Message) error
	SendText(ctx context.Context, m Message) error
}

var (
	_ plugin.JobProcessor     = (*Service)(nil)
	_ booking.AppointmentHook = (*Service)(nil)
)

// Service is the runtime service of one installed scheduled-notifications
// app. It sends due notifications and reconciles jobs when appointments
// change.
type Service struct {
	app    *plugin.App
	r      *Reconciler
	sender Sender
	jobs   *job.Registry
	logger *slog.Logger
}

// Register adds the scheduled-notifications app to apps.
func Register(apps *plugin.Registry, r *Reconciler, sender Sender) {
	apps.Register(AppName, func(_ context.Context, app *plugin.App) (any, error) {
		return NewService(app, r, sender), nil
	}, plugin.ScopeAppointmentHook)
}

// NewService creates the service of the installed app.
func NewService(app *plugin.App, r *Reconciler, sender Sender) *Service {
	s := &Service{
		app:    app,
		r:      r,
		sender: sender,
		jobs:   job.NewRegistry(),
		logger: r.logger.With(slog.String("app_id", app.ID), slog.String("tenant_id", app.TenantID)),
	}
	job.RegisterDefinition(s.jobs, job.NewDefinition(JobTypeSend, s.send))
	job.RegisterDefinition(s.jobs, job.NewDefinition(JobTypeReconcile, s.reconcileRule))
	job.RegisterDefinition(s.jobs, job.NewDefinition(JobTypeSync, s.syncPair))
	return s
}

// ProcessJob runs an app job addressed to this installation.
func (s *Service) ProcessJob(ctx context.Context, _ *plugin.App, p job.AppPayload) error {
	return s.jobs.Dispatch(ctx, p)
}

// OnAppointmentCreated reconciles the appointment's notification jobs.
func (s *Service) OnAppointmentCreated(ctx context.Context, app *plugin.App, a *booking.Appointment) error {
	return s.appointmentChanged(ctx, app, a)
}

// OnAppointmentRescheduled reconciles the appointment's notification jobs.
func (s *Service) OnAppointmentRescheduled(ctx context.Context, app *plugin.App, a *booking.Appointment) error {
	return s.appointmentChanged(ctx, app, a)
}

// OnAppointmentStatusChanged reconciles the appointment's notification
// jobs. Jobs of an appointment that is no longer confirmed are cancelled.
func (s *Service) OnAppointmentStatusChanged(ctx context.Context, app *plugin.App, a *booking.Appointment) error {
	return s.appointmentChanged(ctx, app, a)
}

// appointmentChanged reconciles against the stored appointment. The hook
// argument is a snapshot taken when the hook job was enqueued and may be
// stale by now.
func (s *Service) appointmentChanged(ctx context.Context, app *plugin.App, a *booking.Appointment) error {
	current, err := s.r.appointments.GetAppointment(ctx, app.TenantID, a.ID)
	switch {
	case errors.Is(err, timeli.ErrAppointmentNotFound):
		gone := *a
		gone.Status = ""
		current = &gone
	case err != nil:
		return fmt.Errorf("notification: load appointment %s: %w", a.ID, err)
	}
	return s.r.appointmentChanged(ctx, app.TenantID, app.ID, current)
}

func (s *Service) reconcileRule(ctx context.Context, req ReconcileRequest) error {
	if req.Deleted {
		return s.r.OnRuleDeleted(ctx, s.app.TenantID, req.RuleID)
	}
	rule, err := s.r.rules.GetRule(ctx, s.app.TenantID, req.RuleID)
	if errors.Is(err, timeli.ErrRuleNotFound) {
		return s.r.OnRuleDeleted(ctx, s.app.TenantID, req.RuleID)
	}
	if err != nil {
		return fmt.Errorf("notification: load rule %s: %w", req.RuleID, err)
	}
	return s.r.ruleChanged(ctx, s.app.TenantID, s.app.ID, rule)
}

// syncPair reconciles one pair against current state. While the pair's
// reminder job is still running it fails, so the worker retries it later.
func (s *Service) syncPair(ctx context.Context, req SyncRequest) error {
	tenantID := s.app.TenantID
	rule, err := s.r.rules.GetRule(ctx, tenantID, req.RuleID)
	if errors.Is(err, timeli.ErrRuleNotFound) {
		return s.r.cancel(ctx, req.RuleID, req.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("notification: load rule %s: %w", req.RuleID, err)
	}
	a, err := s.r.appointments.GetAppointment(ctx, tenantID, req.AppointmentID)
	if errors.Is(err, timeli.ErrAppointmentNotFound) {
		return s.r.cancel(ctx, req.RuleID, req.AppointmentID)
	}
	if err != nil {
		return fmt.Errorf("notification: load appointment %s: %w", req.AppointmentID, err)
	}
	return s.r.reconcile(ctx, tenantID, s.app.ID, rule, a)
}

// send re-validates the pair against current state and delivers the
// notification. Anything that drifted since scheduling drops the send
// without an error.
func (s *Service) send(ctx context.Context, req SendRequest) error {
	tenantID := s.app.TenantID
	log := s.logger.With(
		slog.String("rule_id", req.RuleID),
		slog.String("appointment_id", req.AppointmentID),
	)

	a, err := s.r.appointments.GetAppointment(ctx, tenantID, req.AppointmentID)
	if errors.Is(err, timeli.ErrAppointmentNotFound) {
		log.Debug("notification dropped, appointment gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("notification: load appointment: %w", err)
	}
	if !a.Confirmed() {
		log.Debug("notification dropped, appointment not confirmed", slog.String("status", string(a.Status)))
		return nil
	}

	rule, err := s.r.rules.GetRule(ctx, tenantID, req.RuleID)
	if errors.Is(err, timeli.ErrRuleNotFound) {
		log.Debug("notification dropped, rule gone")
		return nil
	}
	if err != nil {
		return fmt.Errorf("notification: load rule: %w", err)
	}

	if !req.FireAt.IsZero() {
		fireAt, err := ComputeFireTime(rule, a)
		if err != nil {
			return err
		}
		if !fireAt.Equal(req.FireAt) {
			log.Debug("notification dropped, superseded", slog.Time("fire_at", fireAt))
			return nil
		}
	}

	if rule.Condition.Type == ConditionAppointmentCount {
		count, err := s.r.appointments.CountConfirmedAppointments(ctx, tenantID, a.Customer.ID)
		if err != nil {
			return fmt.Errorf("notification: count appointments: %w", err)
		}
		if !MeetsAppointmentCountCondition(rule, count) {
			log.Debug("notification dropped, condition unmet", slog.Int("count", count))
			return nil
		}
	}

	m := Render(rule, a)
	if m.To == "" {
		log.Warn("notification dropped, customer has no address", slog.String("channel", string(rule.Channel)))
		return nil
	}
	switch rule.Channel {
	case ChannelEmail:
		err = s.sender.SendEmail(ctx, m)
	case ChannelText:
		err = s.sender.SendText(ctx, m)
	default:
		return timeli.Permanent(fmt.Errorf("%w: channel %q", ErrInvalidRule, rule.Channel))
	}
	if err != nil {
		return fmt.Errorf("notification: send %s: %w", rule.Channel, err)
	}
	log.Info("notification sent", slog.String("channel", string(rule.Channel)))
	return nil
}

// Render builds the message rule sends for a. Placeholders of the form
// {{name}} in the subject are replaced by the matching template variable.
func Render(rule *Rule, a *booking.Appointment) Message {
	local := a.Local()
	vars := map[string]string{
		"customerName": a.Customer.Name,
		"optionName":   a.OptionName,
		"date":         local.Format("2006-01-02"),
		"time":         local.Format("15:04"),
		"timeZone":     a.Location().String(),
		"duration":     strconv.Itoa(a.TotalDuration),
	}

	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}

	m := Message{
		TenantID:      a.TenantID,
		RuleID:        rule.ID,
		AppointmentID: a.ID,
		Channel:       rule.Channel,
		TemplateID:    rule.TemplateID,
		Subject:       strings.NewReplacer(pairs...).Replace(rule.Subject),
		Vars:          vars,
	}
	switch rule.Channel {
	case ChannelEmail:
		m.To = a.Customer.Email
	case ChannelText:
		m.To = a.Customer.Phone
	}
	return m
}
