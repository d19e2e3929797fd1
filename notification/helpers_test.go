package notification_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/job"
	"github.com/xraph/timeli/notification"
	"github.com/xraph/timeli/plugin"
	"github.com/xraph/timeli/scheduler"
	"github.com/xraph/timeli/store/memory"
)

const (
	tenant = "t1"
	appID  = "app_notif"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu     sync.Mutex
	emails []notification.Message
	texts  []notification.Message
	err    error
}

func (s *fakeSender) SendEmail(_ context.Context, m notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.emails = append(s.emails, m)
	return nil
}

func (s *fakeSender) SendText(_ context.Context, m notification.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.texts = append(s.texts, m)
	return nil
}

func (s *fakeSender) sent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.emails) + len(s.texts)
}

type fixture struct {
	t      *testing.T
	now    time.Time
	store  *memory.Store
	sched  *scheduler.Service
	r      *notification.Reconciler
	apps   *plugin.Registry
	sender *fakeSender
}

func newFixture(t *testing.T, opts ...notification.Option) *fixture {
	t.Helper()
	f := &fixture{t: t, now: fixedNow, sender: &fakeSender{}}
	clock := func() time.Time { return f.now }

	f.store = memory.New(memory.WithClock(clock))
	f.sched = scheduler.New(f.store, scheduler.WithClock(clock))
	opts = append([]notification.Option{notification.WithClock(clock)}, opts...)
	f.r = notification.NewReconciler(f.store, f.store, f.store, f.sched, opts...)
	f.apps = plugin.NewRegistry(f.store)
	notification.Register(f.apps, f.r, f.sender)

	if err := f.store.SaveApp(context.Background(), &plugin.App{ID: appID, TenantID: tenant, Name: notification.AppName}); err != nil {
		t.Fatalf("SaveApp: %v", err)
	}
	return f
}

func (f *fixture) appointment(id string, at time.Time, status booking.Status) *booking.Appointment {
	f.t.Helper()
	a := &booking.Appointment{
		ID:            id,
		TenantID:      tenant,
		Customer:      booking.Customer{ID: "cust-1", Name: "Ada", Email: "ada@example.com", Phone: "+15550100"},
		OptionName:    "Haircut",
		DateTime:      at,
		Status:        status,
		TotalDuration: 45,
	}
	if err := f.store.SaveAppointment(context.Background(), a); err != nil {
		f.t.Fatalf("SaveAppointment: %v", err)
	}
	return a
}

func (f *fixture) rule(id string, trig notification.Trigger) *notification.Rule {
	f.t.Helper()
	r := &notification.Rule{
		ID:         id,
		TenantID:   tenant,
		Name:       "rule " + id,
		Trigger:    trig,
		Channel:    notification.ChannelEmail,
		TemplateID: "tpl",
		Subject:    "Reminder for {{customerName}}: {{optionName}} at {{time}}",
	}
	if err := f.store.CreateRule(context.Background(), r); err != nil {
		f.t.Fatalf("CreateRule: %v", err)
	}
	return r
}

// pending returns the live job of the (rule, appointment) pair, or nil.
func (f *fixture) pending(ruleID, apptID string) *job.Job {
	f.t.Helper()
	j, live, err := f.sched.GetDeduplicatedJob(context.Background(), job.NotificationKey(ruleID, apptID).Encode())
	if err != nil {
		f.t.Fatalf("GetDeduplicatedJob: %v", err)
	}
	if !live {
		return nil
	}
	return j
}

func (f *fixture) liveJobs() int {
	f.t.Helper()
	n, err := f.store.CountJobs(context.Background(), job.CountOpts{State: job.StatePending})
	if err != nil {
		f.t.Fatalf("CountJobs: %v", err)
	}
	return int(n)
}

// fire runs j through the installed app, as a worker would.
func (f *fixture) fire(j *job.Job) error {
	f.t.Helper()
	p, err := j.App()
	if err != nil {
		f.t.Fatalf("decode payload: %v", err)
	}
	app, svc, err := f.apps.Resolve(context.Background(), j.TenantID, p.AppID)
	if err != nil {
		f.t.Fatalf("Resolve: %v", err)
	}
	proc, ok := svc.(plugin.JobProcessor)
	if !ok {
		f.t.Fatal("notification service does not process jobs")
	}
	return proc.ProcessJob(timeli.WithTenant(context.Background(), j.TenantID), app, p)
}

var errSMTP = errors.New("smtp unavailable")

func dayBefore() notification.Trigger {
	return notification.Trigger{Type: notification.TriggerTimeBefore, Days: 1}
}
