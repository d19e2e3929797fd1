package id_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/xraph/timeli/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"SessionID", id.NewSessionID, "sess_"},
		{"TrackingID", id.NewTrackingID, "trk_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
			if got != strings.ToLower(got) {
				t.Errorf("expected lower-case id, got %q", got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	orig := id.NewJobID()
	parsed, err := id.ParseWithPrefix(orig.String(), id.PrefixJob)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.String() != orig.String() {
		t.Errorf("round trip = %q, want %q", parsed.String(), orig.String())
	}
}

func TestParseWrongPrefix(t *testing.T) {
	_, err := id.ParseWithPrefix(id.NewSessionID().String(), id.PrefixJob)
	if err == nil {
		t.Fatal("expected prefix mismatch error")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "job_", "_01h", "job_not-a-typeid", "01h455vb4pex5vsknk084sn02q"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) expected error", s)
		}
	}
}

func TestSortable(t *testing.T) {
	a := id.NewJobID()
	time.Sleep(2 * time.Millisecond)
	b := id.NewJobID()
	if a.String() >= b.String() {
		t.Errorf("expected %q < %q", a.String(), b.String())
	}
}

func TestJSON(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}
	in := wrapper{ID: id.NewTrackingID()}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != in.ID.String() {
		t.Errorf("got %q, want %q", out.ID.String(), in.ID.String())
	}

	var empty wrapper
	if err := json.Unmarshal([]byte(`{"id":""}`), &empty); err != nil {
		t.Fatalf("unmarshal empty: %v", err)
	}
	if !empty.ID.IsNil() {
		t.Error("expected Nil ID for empty string")
	}
}

func TestScan(t *testing.T) {
	orig := id.NewWorkerID()
	var got id.ID
	if err := got.Scan(orig.String()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if got.String() != orig.String() {
		t.Errorf("got %q, want %q", got.String(), orig.String())
	}
	if err := got.Scan(nil); err != nil || !got.IsNil() {
		t.Errorf("scan nil: err=%v nil=%v", err, got.IsNil())
	}
	if err := got.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
