package statelog

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/influxdata/influxdb-client-go/api/write"
	"github.com/w1xm/ecam_trigger/trigger"
)

type recorder struct {
	points []*write.Point
}

func (r *recorder) WritePoint(p *write.Point) {
	r.points = append(r.points, p)
}

func TestRecord(t *testing.T) {
	r := &recorder{}
	l := New(r, "ipap01")
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, test := range []struct {
		state  trigger.OperationalState
		status string
		at     time.Duration
		wrote  bool
	}{
		{trigger.Ready, "idle", 0, true},
		{trigger.Ready, "idle", time.Second, false},
		{trigger.Moving, "Moving", 2 * time.Second, true},
		{trigger.Moving, "Moving", 2*time.Second + Heartbeat, true},
		{trigger.Alarm, "powered off", 3 * Heartbeat, true},
	} {
		if got := l.Record(test.state, test.status, "dummy", t0.Add(test.at)); got != test.wrote {
			t.Errorf("Record(%v, %q) at %v = %v, want %v", test.state, test.status, test.at, got, test.wrote)
		}
	}
	if len(r.points) != 4 {
		t.Fatalf("wrote %d points, want 4", len(r.points))
	}

	p := r.points[3]
	if p.Name() != Measurement {
		t.Errorf("measurement = %q", p.Name())
	}
	tags := make(map[string]string)
	for _, tag := range p.TagList() {
		tags[tag.Key] = tag.Value
	}
	if diff := cmp.Diff(map[string]string{"controller": "ipap01", "motor": "dummy"}, tags); diff != "" {
		t.Errorf("unexpected tags: want(-)/got(+):\n%s", diff)
	}
	fields := make(map[string]interface{})
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	want := map[string]interface{}{
		"state":  "ALARM",
		"status": "powered off",
		"alarm":  true,
		"moving": false,
	}
	if diff := cmp.Diff(want, fields); diff != "" {
		t.Errorf("unexpected fields: want(-)/got(+):\n%s", diff)
	}
	if !p.Time().Equal(t0.Add(3 * Heartbeat)) {
		t.Errorf("time = %v", p.Time())
	}
}
