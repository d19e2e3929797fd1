package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

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
func (s *Store) SaveApp(_ context.Context, a *plugin.App) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.Data = append(json.RawMessage(nil), a.Data...)
	now := s.clock()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.apps[tenantKey(a.TenantID, a.ID)] = &cp
	return nil
}

// GetApp returns an installed app.
func (s *Store) GetApp(_ context.Context, tenantID, appID string) (*plugin.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.apps[tenantKey(tenantID, appID)]
	if !ok {
		return nil, timeli.ErrAppNotFound
	}
	cp := *a
	return &cp, nil
}

// ListApps returns the tenant's enabled apps in installation order.
func (s *Store) ListApps(_ context.Context, tenantID string) ([]*plugin.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*plugin.App
	for _, a := range s.apps {
		if a.TenantID != tenantID || a.Disabled {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteApp uninstalls an app.
func (s *Store) DeleteApp(_ context.Context, tenantID, appID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(tenantID, appID)
	if _, ok := s.apps[key]; !ok {
		return timeli.ErrAppNotFound
	}
	delete(s.apps, key)
	return nil
}

// ──────────────────────────────────────────────────
// Appointments
// ──────────────────────────────────────────────────

// SaveAppointment inserts or replaces an appointment.
func (s *Store) SaveAppointment(_ context.Context, a *booking.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *a
	cp.UpdatedAt = s.clock()
	s.appointments[tenantKey(a.TenantID, a.ID)] = &cp
	return nil
}

// GetAppointment returns an appointment.
func (s *Store) GetAppointment(_ context.Context, tenantID, id string) (*booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[tenantKey(tenantID, id)]
	if !ok {
		return nil, timeli.ErrAppointmentNotFound
	}
	cp := *a
	return &cp, nil
}

// ListConfirmedAppointments returns confirmed appointments at or after
// from, ordered by time then id.
func (s *Store) ListConfirmedAppointments(_ context.Context, tenantID string, from time.Time, opts booking.ListOpts) ([]*booking.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*booking.Appointment
	for _, a := range s.appointments {
		if a.TenantID != tenantID || !a.Confirmed() || a.DateTime.Before(from) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateTime.Equal(out[j].DateTime) {
			return out[i].DateTime.Before(out[j].DateTime)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts.Offset, opts.Limit), nil
}

// CountConfirmedAppointments counts the customer's confirmed appointments.
func (s *Store) CountConfirmedAppointments(_ context.Context, tenantID, customerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, a := range s.appointments {
		if a.TenantID == tenantID && a.Customer.ID == customerID && a.Confirmed() {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Notification rules
// ──────────────────────────────────────────────────

func (s *Store) nameTaken(r *notification.Rule) bool {
	for _, other := range s.rules {
		if other.TenantID == r.TenantID && other.Name == r.Name && other.ID != r.ID {
			return true
		}
	}
	return false
}

func cloneRule(r *notification.Rule) *notification.Rule {
	cp := *r
	if r.Trigger.Time != nil {
		tod := *r.Trigger.Time
		cp.Trigger.Time = &tod
	}
	return &cp
}

// CreateRule inserts a rule.
func (s *Store) CreateRule(_ context.Context, r *notification.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(r.TenantID, r.ID)
	if _, ok := s.rules[key]; ok || s.nameTaken(r) {
		return timeli.ErrDuplicateRuleName
	}
	cp := cloneRule(r)
	now := s.clock()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.rules[key] = cp
	return nil
}

// UpdateRule replaces a rule.
func (s *Store) UpdateRule(_ context.Context, r *notification.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(r.TenantID, r.ID)
	existing, ok := s.rules[key]
	if !ok {
		return timeli.ErrRuleNotFound
	}
	if s.nameTaken(r) {
		return timeli.ErrDuplicateRuleName
	}
	cp := cloneRule(r)
	cp.CreatedAt = existing.CreatedAt
	cp.UpdatedAt = s.clock()
	s.rules[key] = cp
	return nil
}

// DeleteRule removes a rule.
func (s *Store) DeleteRule(_ context.Context, tenantID, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tenantKey(tenantID, ruleID)
	if _, ok := s.rules[key]; !ok {
		return timeli.ErrRuleNotFound
	}
	delete(s.rules, key)
	return nil
}

// GetRule returns a rule.
func (s *Store) GetRule(_ context.Context, tenantID, ruleID string) (*notification.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rules[tenantKey(tenantID, ruleID)]
	if !ok {
		return nil, timeli.ErrRuleNotFound
	}
	return cloneRule(r), nil
}

// ListRules returns the tenant's rules ordered by id.
func (s *Store) ListRules(_ context.Context, tenantID string, opts notification.ListOpts) ([]*notification.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*notification.Rule
	for _, r := range s.rules {
		if r.TenantID == tenantID {
			out = append(out, cloneRule(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Tracking events
// ──────────────────────────────────────────────────

// SaveEvent appends a tracking event.
func (s *Store) SaveEvent(_ context.Context, e *tracking.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.clock()
	}
	s.events[e.TenantID] = append(s.events[e.TenantID], &cp)
	return nil
}

// ListEvents returns the tenant's events, newest first.
func (s *Store) ListEvents(_ context.Context, tenantID string, opts tracking.ListOpts) ([]*tracking.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*tracking.Event
	all := s.events[tenantID]
	for i := len(all) - 1; i >= 0; i-- {
		if opts.Status != "" && all[i].Status != opts.Status {
			continue
		}
		cp := *all[i]
		out = append(out, &cp)
	}
	return page(out, opts.Offset, opts.Limit), nil
}

// ──────────────────────────────────────────────────
// Ephemeral KV
// ──────────────────────────────────────────────────

// Get returns a live value.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.kv[key]
	if !ok || s.expired(e) {
		return nil, timeli.ErrSessionNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Set stores value under key until ttl elapses. A non-positive ttl never
// expires.
func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

// Delete removes key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.kv, key)
	return nil
}

// Swap replaces the value under key when it currently holds old. A nil
// old expects no live value; a nil value deletes the key.
func (s *Store) Swap(_ context.Context, key string, old, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.kv[key]
	live := ok && !s.expired(e)
	if old == nil {
		if live {
			return false, nil
		}
	} else if !live || !bytes.Equal(e.value, old) {
		return false, nil
	}

	if value == nil {
		delete(s.kv, key)
		return true, nil
	}
	next := kvEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		next.expiresAt = s.clock().Add(ttl)
	}
	s.kv[key] = next
	return true, nil
}

// Scan returns the live keys starting with prefix, sorted.
func (s *Store) Scan(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k, e := range s.kv {
		if strings.HasPrefix(k, prefix) && !s.expired(e) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) expired(e kvEntry) bool {
	return !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt)
}
