package notification_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/xraph/timeli"
	"github.com/xraph/timeli/booking"
	"github.com/xraph/timeli/notification"
)

func appointmentAt(t time.Time, zone string) *booking.Appointment {
	return &booking.Appointment{ID: "appt-1", TenantID: "t1", DateTime: t, TimeZone: zone, Status: booking.StatusConfirmed}
}

func TestComputeFireTime(t *testing.T) {
	appt := time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		trigger notification.Trigger
		zone    string
		want    time.Time
	}{
		{
			name:    "one day before",
			trigger: notification.Trigger{Type: notification.TriggerTimeBefore, Days: 1},
			want:    time.Date(2025, 3, 9, 15, 0, 0, 0, time.UTC),
		},
		{
			name: "two days before at nine",
			trigger: notification.Trigger{
				Type: notification.TriggerAtTimeBefore, Days: 2,
				Time: &notification.TimeOfDay{Hour: 9, Minute: 0},
			},
			want: time.Date(2025, 3, 8, 9, 0, 0, 0, time.UTC),
		},
		{
			name:    "every offset after",
			trigger: notification.Trigger{Type: notification.TriggerTimeAfter, Weeks: 1, Days: 2, Hours: 3, Minutes: 4},
			want:    time.Date(2025, 3, 19, 18, 4, 0, 0, time.UTC),
		},
		{
			name: "one week after at half past eight",
			trigger: notification.Trigger{
				Type: notification.TriggerAtTimeAfter, Weeks: 1,
				Time: &notification.TimeOfDay{Hour: 20, Minute: 30},
			},
			want: time.Date(2025, 3, 17, 20, 30, 0, 0, time.UTC),
		},
		{
			name: "at time in the appointment zone",
			trigger: notification.Trigger{
				Type: notification.TriggerAtTimeBefore, Days: 1,
				Time: &notification.TimeOfDay{Hour: 9, Minute: 15},
			},
			zone: "Europe/Berlin",
			// 09:15 CET.
			want: time.Date(2025, 3, 9, 8, 15, 0, 0, time.UTC),
		},
		{
			// 2025-03-10T15:00Z is 11:00 EDT. Two calendar days earlier is
			// 11:00 EST, which is an hour later in UTC than 48 hours.
			name:    "days keep wall clock across DST",
			trigger: notification.Trigger{Type: notification.TriggerTimeBefore, Days: 2},
			zone:    "America/New_York",
			want:    time.Date(2025, 3, 8, 16, 0, 0, 0, time.UTC),
		},
		{
			name:    "unknown zone falls back to UTC",
			trigger: notification.Trigger{Type: notification.TriggerTimeBefore, Hours: 2},
			zone:    "Mars/Olympus",
			want:    time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &notification.Rule{ID: "r1", Trigger: tt.trigger}
			got, err := notification.ComputeFireTime(rule, appointmentAt(appt, tt.zone))
			if err != nil {
				t.Fatalf("ComputeFireTime: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("got %s, want %s", got.UTC(), tt.want)
			}
		})
	}
}

func TestComputeFireTime_UnknownTypeIsPermanent(t *testing.T) {
	rule := &notification.Rule{ID: "r1", Trigger: notification.Trigger{Type: "sometime"}}
	_, err := notification.ComputeFireTime(rule, appointmentAt(time.Now(), ""))
	if !errors.Is(err, timeli.ErrUnknownTriggerType) {
		t.Fatalf("expected ErrUnknownTriggerType, got %v", err)
	}
	if !timeli.IsPermanent(err) {
		t.Error("unknown trigger type must not be retried")
	}
}

func TestComputeFireTime_OffsetsMirror(t *testing.T) {
	appt := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	for _, w := range []int{0, 2} {
		for _, d := range []int{0, 3} {
			for _, h := range []int{0, 5} {
				for _, m := range []int{0, 45} {
					offset := time.Duration(w*7+d)*24*time.Hour + time.Duration(h)*time.Hour + time.Duration(m)*time.Minute
					trig := notification.Trigger{Weeks: w, Days: d, Hours: h, Minutes: m}
					name := fmt.Sprintf("%dw%dd%dh%dm", w, d, h, m)

					trig.Type = notification.TriggerTimeBefore
					before, err := notification.ComputeFireTime(&notification.Rule{Trigger: trig}, appointmentAt(appt, ""))
					if err != nil || !before.Equal(appt.Add(-offset)) {
						t.Errorf("%s before: got %s, %v", name, before, err)
					}

					trig.Type = notification.TriggerTimeAfter
					after, err := notification.ComputeFireTime(&notification.Rule{Trigger: trig}, appointmentAt(appt, ""))
					if err != nil || !after.Equal(appt.Add(offset)) {
						t.Errorf("%s after: got %s, %v", name, after, err)
					}
				}
			}
		}
	}
}

func TestComputeFireTime_AtTimeOverridesClock(t *testing.T) {
	tod := &notification.TimeOfDay{Hour: 7, Minute: 45}
	rule := &notification.Rule{Trigger: notification.Trigger{Type: notification.TriggerAtTimeBefore, Days: 1, Time: tod}}

	for _, hour := range []int{0, 6, 12, 23} {
		appt := time.Date(2025, 4, 2, hour, 17, 33, 0, time.UTC)
		got, err := notification.ComputeFireTime(rule, appointmentAt(appt, ""))
		if err != nil {
			t.Fatalf("ComputeFireTime: %v", err)
		}
		if got.Hour() != 7 || got.Minute() != 45 || got.Second() != 0 {
			t.Errorf("appointment at %02d:17: fire time %s", hour, got.Format(time.TimeOnly))
		}
		if got.Day() != 1 {
			t.Errorf("appointment at %02d:17: fire day %d, want 1", hour, got.Day())
		}
	}
}

func TestMeetsAppointmentCountCondition(t *testing.T) {
	cond := func(c notification.Comparator, n int) *notification.Rule {
		return &notification.Rule{Condition: notification.Condition{
			Type: notification.ConditionAppointmentCount, Comparator: c, Count: n,
		}}
	}

	tests := []struct {
		name  string
		rule  *notification.Rule
		count int
		want  bool
	}{
		{"lt true", cond(notification.ComparatorLT, 3), 2, true},
		{"lt false", cond(notification.ComparatorLT, 3), 3, false},
		{"eq", cond(notification.ComparatorEQ, 1), 1, true},
		{"eq false", cond(notification.ComparatorEQ, 1), 2, false},
		{"gt", cond(notification.ComparatorGT, 1), 2, true},
		{"lte boundary", cond(notification.ComparatorLTE, 2), 2, true},
		{"gte boundary", cond(notification.ComparatorGTE, 2), 2, true},
		{"gte false", cond(notification.ComparatorGTE, 2), 1, false},
		{"unknown comparator", cond("ne", 2), 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := notification.MeetsAppointmentCountCondition(tt.rule, tt.count); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	none := &notification.Rule{Condition: notification.Condition{Type: notification.ConditionNone}}
	unset := &notification.Rule{}
	for _, n := range []int{0, 1, 7, 1000} {
		if !notification.MeetsAppointmentCountCondition(none, n) || !notification.MeetsAppointmentCountCondition(unset, n) {
			t.Errorf("rule without condition rejected count %d", n)
		}
	}
}
