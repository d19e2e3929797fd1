package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/notification"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/tracking"
)

// ──────────────────────────────────────────────────
// Apps
// ──────────────────────────────────────────────────

// SaveApp installs or updates an app.
func (s *Store) SaveApp(ctx context.Context, a *plugin.App) error {
	now := s.clock()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	var data []byte
	if len(a.Data) > 0 {
		data = a.Data
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO timeli_apps (tenant_id, id, name, data, disabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			name = EXCLUDED.name, data = EXCLUDED.data,
			disabled = EXCLUDED.disabled, updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.ID, a.Name, data, a.Disabled, created, now,
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: save app: %w", err)
	}
	return nil
}

// GetApp returns an installed app.
func (s *Store) GetApp(ctx context.Context, tenantID, appID string) (*plugin.App, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT tenant_id, id, name, data, disabled, created_at, updated_at
		FROM timeli_apps
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, appID,
	)
	a, err := scanApp(row)
	if err != nil {
		if isNoRows(err) {
			return nil, timeli.ErrAppNotFound
		}
		return nil, fmt.Errorf("timeli/postgres: get app: %w", err)
	}
	return a, nil
}

// ListApps returns the tenant's enabled apps in installation order.
func (s *Store) ListApps(ctx context.Context, tenantID string) ([]*plugin.App, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tenant_id, id, name, data, disabled, created_at, updated_at
		FROM timeli_apps
		WHERE tenant_id = $1 AND NOT disabled
		ORDER BY created_at ASC, id ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: list apps: %w", err)
	}
	defer rows.Close()

	return collect(rows, scanApp, "app")
}

// DeleteApp uninstalls an app.
func (s *Store) DeleteApp(ctx context.Context, tenantID, appID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM timeli_apps WHERE tenant_id = $1 AND id = $2`, tenantID, appID)
	if err != nil {
		return fmt.Errorf("timeli/postgres: delete app: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrAppNotFound
	}
	return nil
}

func scanApp(row pgx.Row) (*plugin.App, error) {
	var (
		a    plugin.App
		data []byte
	)
	if err := row.Scan(&a.TenantID, &a.ID, &a.Name, &data, &a.Disabled, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(data) > 0 {
		a.Data = json.RawMessage(data)
	}
	return &a, nil
}

// ──────────────────────────────────────────────────
// Appointments
// ──────────────────────────────────────────────────

const appointmentColumns = `
	tenant_id, id, customer_id, customer_name, customer_email, customer_phone,
	option_name, date_time, time_zone, status, total_duration, updated_at`

// SaveAppointment inserts or replaces an appointment.
func (s *Store) SaveAppointment(ctx context.Context, a *booking.Appointment) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO timeli_appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id, customer_name = EXCLUDED.customer_name,
			customer_email = EXCLUDED.customer_email, customer_phone = EXCLUDED.customer_phone,
			option_name = EXCLUDED.option_name, date_time = EXCLUDED.date_time,
			time_zone = EXCLUDED.time_zone, status = EXCLUDED.status,
			total_duration = EXCLUDED.total_duration, updated_at = EXCLUDED.updated_at`,
		a.TenantID, a.ID, a.Customer.ID, a.Customer.Name, a.Customer.Email, a.Customer.Phone,
		a.OptionName, a.DateTime, a.TimeZone, string(a.Status), a.TotalDuration, s.clock(),
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: save appointment: %w", err)
	}
	return nil
}

// GetAppointment returns an appointment.
func (s *Store) GetAppointment(ctx context.Context, tenantID, id string) (*booking.Appointment, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM timeli_appointments
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	a, err := scanAppointment(row)
	if err != nil {
		if isNoRows(err) {
			return nil, timeli.ErrAppointmentNotFound
		}
		return nil, fmt.Errorf("timeli/postgres: get appointment: %w", err)
	}
	return a, nil
}

// ListConfirmedAppointments returns confirmed appointments at or after
// from, ordered by time then id.
func (s *Store) ListConfirmedAppointments(ctx context.Context, tenantID string, from time.Time, opts booking.ListOpts) ([]*booking.Appointment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM timeli_appointments
		WHERE tenant_id = $1 AND status = 'confirmed' AND date_time >= $2
		ORDER BY date_time ASC, id ASC
		LIMIT $3 OFFSET $4`,
		tenantID, from, limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: list appointments: %w", err)
	}
	defer rows.Close()

	return collect(rows, scanAppointment, "appointment")
}

// CountConfirmedAppointments counts the customer's confirmed appointments.
func (s *Store) CountConfirmedAppointments(ctx context.Context, tenantID, customerID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM timeli_appointments
		WHERE tenant_id = $1 AND customer_id = $2 AND status = 'confirmed'`,
		tenantID, customerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("timeli/postgres: count appointments: %w", err)
	}
	return n, nil
}

func scanAppointment(row pgx.Row) (*booking.Appointment, error) {
	var (
		a      booking.Appointment
		status string
	)
	err := row.Scan(
		&a.TenantID, &a.ID, &a.Customer.ID, &a.Customer.Name, &a.Customer.Email, &a.Customer.Phone,
		&a.OptionName, &a.DateTime, &a.TimeZone, &status, &a.TotalDuration, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = booking.Status(status)
	return &a, nil
}

// ──────────────────────────────────────────────────
// Notification rules
// ──────────────────────────────────────────────────

const ruleColumns = `
	tenant_id, id, name, trigger, channel, template_id, subject, condition,
	created_at, updated_at`

// CreateRule inserts a rule. The name must be unique per tenant.
func (s *Store) CreateRule(ctx context.Context, r *notification.Rule) error {
	now := s.clock()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO timeli_notification_rules (`+ruleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)`,
		r.TenantID, r.ID, r.Name, r.Trigger, string(r.Channel), r.TemplateID, r.Subject, r.Condition,
		now,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return timeli.ErrDuplicateRuleName
		}
		return fmt.Errorf("timeli/postgres: create rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule, keeping its creation time.
func (s *Store) UpdateRule(ctx context.Context, r *notification.Rule) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE timeli_notification_rules SET
			name = $3, trigger = $4, channel = $5, template_id = $6,
			subject = $7, condition = $8, updated_at = $9
		WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID, r.Name, r.Trigger, string(r.Channel), r.TemplateID, r.Subject, r.Condition,
		s.clock(),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return timeli.ErrDuplicateRuleName
		}
		return fmt.Errorf("timeli/postgres: update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrRuleNotFound
	}
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM timeli_notification_rules WHERE tenant_id = $1 AND id = $2`,
		tenantID, ruleID,
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return timeli.ErrRuleNotFound
	}
	return nil
}

// GetRule returns a rule.
func (s *Store) GetRule(ctx context.Context, tenantID, ruleID string) (*notification.Rule, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+ruleColumns+`
		FROM timeli_notification_rules
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, ruleID,
	)
	r, err := scanRule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, timeli.ErrRuleNotFound
		}
		return nil, fmt.Errorf("timeli/postgres: get rule: %w", err)
	}
	return r, nil
}

// ListRules returns the tenant's rules ordered by id.
func (s *Store) ListRules(ctx context.Context, tenantID string, opts notification.ListOpts) ([]*notification.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+ruleColumns+`
		FROM timeli_notification_rules
		WHERE tenant_id = $1
		ORDER BY id ASC
		LIMIT $2 OFFSET $3`,
		tenantID, limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: list rules: %w", err)
	}
	defer rows.Close()

	return collect(rows, scanRule, "rule")
}

func scanRule(row pgx.Row) (*notification.Rule, error) {
	var (
		r       notification.Rule
		channel string
	)
	err := row.Scan(
		&r.TenantID, &r.ID, &r.Name, &r.Trigger, &channel, &r.TemplateID, &r.Subject, &r.Condition,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Channel = notification.Channel(channel)
	return &r, nil
}

// ──────────────────────────────────────────────────
// Tracking events
// ──────────────────────────────────────────────────

const eventColumns = `
	id, tenant_id, session_id, visitor_id, status, started_at, last_seen_at,
	last_step, steps, metadata, converted_at, abandoned_at, created_at`

// SaveEvent inserts a tracking event.
func (s *Store) SaveEvent(ctx context.Context, e *tracking.Event) error {
	created := e.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	steps := e.Steps
	if steps == nil {
		steps = map[tracking.Step]time.Time{}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO timeli_tracking_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TenantID, e.SessionID, e.VisitorID, string(e.Status), e.StartedAt, e.LastSeenAt,
		string(e.LastStep), steps, e.Metadata, e.ConvertedAt, e.AbandonedAt, created,
	)
	if err != nil {
		return fmt.Errorf("timeli/postgres: save event: %w", err)
	}
	return nil
}

// ListEvents returns the tenant's events, newest first.
func (s *Store) ListEvents(ctx context.Context, tenantID string, opts tracking.ListOpts) ([]*tracking.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+eventColumns+`
		FROM timeli_tracking_events
		WHERE tenant_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		tenantID, string(opts.Status), limitArg(opts.Limit), opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("timeli/postgres: list events: %w", err)
	}
	defer rows.Close()

	return collect(rows, scanEvent, "event")
}

func scanEvent(row pgx.Row) (*tracking.Event, error) {
	var (
		e        tracking.Event
		status   string
		lastStep string
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.SessionID, &e.VisitorID, &status, &e.StartedAt, &e.LastSeenAt,
		&lastStep, &e.Steps, &e.Metadata, &e.ConvertedAt, &e.AbandonedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = tracking.Status(status)
	e.LastStep = tracking.Step(lastStep)
	return &e, nil
}

// collect scans every row with scan.
func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error), what string) ([]*T, error) {
	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("timeli/postgres: scan %s row: %w", what, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("timeli/postgres: iterate %s rows: %w", what, err)
	}
	return out, nil
}
