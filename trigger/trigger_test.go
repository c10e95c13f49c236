package trigger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/w1xm/ecam_trigger/motion"
	"github.com/w1xm/ecam_trigger/retry"
)

func TestNewRejectsUnknownAuxOutput(t *testing.T) {
	_, err := New(auxConfig("InfoA", "InfoZ"), &fakeDevice{}, testRegistry(), quietLogger())
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("got %v, want ErrConfiguration", err)
	}
}

func TestParseAuxOutputs(t *testing.T) {
	got := ParseAuxOutputs(" InfoA, infob ,,InfoC")
	if diff := cmp.Diff([]string{"InfoA", "infob", "InfoC"}, got); diff != "" {
		t.Errorf("unexpected outputs: want(-)/got(+):\n%s", diff)
	}
}

func TestConfigureMotorWiresOnce(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(t, masterConfig(), dev)
	for i := 0; i < 2; i++ {
		if err := c.ConfigureMotor("m1"); err != nil {
			t.Fatalf("ConfigureMotor #%d: %v", i, err)
		}
	}
	want := []motion.Assignment{{Source: 1, Line: "E0", AssignOptions: motion.AssignOptions{Aux: true, Hard: true}}}
	if diff := cmp.Diff(want, dev.adds); diff != "" {
		t.Errorf("unexpected assignments: want(-)/got(+):\n%s", diff)
	}
	if len(dev.clears) != 0 {
		t.Errorf("cleared %v on an empty multiplexer", dev.clears)
	}
	if st := c.Status(); !st.Wired || st.Motor != "m1" || st.Axis != 1 {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestConfigureMotorRewiresOnChange(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(t, masterConfig(), dev)
	if err := c.ConfigureMotor(""); err != nil {
		t.Fatal(err)
	}
	if err := c.ConfigureMotor("m2"); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"E0"}, dev.clears); diff != "" {
		t.Errorf("unexpected clears: want(-)/got(+):\n%s", diff)
	}
	if len(dev.adds) != 2 || dev.adds[1].Source != 2 {
		t.Errorf("unexpected assignments %+v", dev.adds)
	}
	if len(dev.assignments) != 1 || dev.assignments[0].Source != 2 {
		t.Errorf("multiplexer left with %+v", dev.assignments)
	}
}

func TestConfigureMotorRefreshesCalibration(t *testing.T) {
	dev := &fakeDevice{}
	reg := testRegistry()
	c, err := New(masterConfig(), dev, reg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ConfigureMotor("m1"); err != nil {
		t.Fatal(err)
	}
	reg["m1"] = motion.Calibration{Axis: 1, StepsPerUnit: 250, Offset: 3, Sign: -1}
	if err := c.ConfigureMotor("m1"); err != nil {
		t.Fatal(err)
	}
	st := c.Status()
	if st.StepsPerUnit != 250 || st.Offset != 3 || st.Sign != -1 {
		t.Errorf("calibration not refreshed: %+v", st)
	}
	if len(dev.adds) != 1 {
		t.Errorf("got %d rewirings, want 1", len(dev.adds))
	}
}

func TestConfigureMotorUnknown(t *testing.T) {
	c := newTestController(t, masterConfig(), &fakeDevice{})
	err := c.ConfigureMotor("nope")
	if !errors.Is(err, ErrResolution) || !errors.Is(err, errUnknownMotor) {
		t.Errorf("got %v, want ErrResolution wrapping the registry error", err)
	}
	if c.Status().Bound {
		t.Error("channel bound after failed resolution")
	}
}

func TestConfigureMotorWiringFailure(t *testing.T) {
	dev := &fakeDevice{addErr: errors.New("timeout")}
	c := newTestController(t, masterConfig(), dev)
	err := c.ConfigureMotor("m1")
	var ex *retry.ExhaustedError
	if !errors.As(err, &ex) || ex.Attempts != 5 {
		t.Fatalf("got %v, want exhaustion after 5 attempts", err)
	}
	if c.Status().Wired {
		t.Error("channel reported wired after failure")
	}

	dev.addErr = nil
	if err := c.ConfigureMotor("m1"); err != nil {
		t.Fatalf("second ConfigureMotor: %v", err)
	}
	if len(dev.adds) != 1 || !c.Status().Wired {
		t.Errorf("wiring not retried on the next configuration: %+v", dev.adds)
	}
}

func TestConfigureMotorAuxModeLeavesMultiplexer(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(t, auxConfig("InfoA"), dev)
	if err := c.ConfigureMotor("m2"); err != nil {
		t.Fatal(err)
	}
	if dev.muxReads != 0 || len(dev.adds) != 0 {
		t.Errorf("multiplexer touched in auxiliary mode")
	}
}

func TestSynchronizePosition(t *testing.T) {
	for _, test := range []struct {
		name      string
		startOnly bool
		want      []float64
	}{
		{"table", false, []float64{0, 2000, 4000, 6000, 8000}},
		{"start only", true, []float64{0}},
	} {
		t.Run(test.name, func(t *testing.T) {
			dev := &fakeDevice{}
			c := newTestController(t, masterConfig(), dev)
			if err := c.SetMasterMotor(1, "m1"); err != nil {
				t.Fatal(err)
			}
			if err := c.SetStartTriggerOnly(1, test.startOnly); err != nil {
				t.Fatal(err)
			}
			req := SynchronizationRequest{Repeats: 5, Initial: float(0), Total: 10}
			if err := c.Synchronize(1, []SynchronizationRequest{req}); err != nil {
				t.Fatalf("Synchronize: %v", err)
			}
			if diff := cmp.Diff([][]float64{test.want}, dev.uploads); diff != "" {
				t.Errorf("unexpected uploads: want(-)/got(+):\n%s", diff)
			}
			if diff := cmp.Diff([]int{1}, dev.uploadAxes); diff != "" {
				t.Errorf("unexpected upload axes: want(-)/got(+):\n%s", diff)
			}
			if c.Status().TimeMode {
				t.Error("channel left in time mode")
			}
		})
	}
}

func TestSynchronizeUsesFirstGroupOnly(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(t, masterConfig(), dev)
	groups := []SynchronizationRequest{
		{Repeats: 2, Initial: float(1), Total: 2, Master: "m1"},
		{Repeats: 100, Initial: float(50), Total: 2, Master: "m2"},
	}
	if err := c.Synchronize(1, groups); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([][]float64{{1000, 2000}}, dev.uploads); diff != "" {
		t.Errorf("unexpected uploads: want(-)/got(+):\n%s", diff)
	}
	if c.MasterMotor(1) != "m1" {
		t.Errorf("bound %q, want m1", c.MasterMotor(1))
	}
}

func TestSynchronizeTime(t *testing.T) {
	dev := &fakeDevice{}
	c := newTestController(t, masterConfig(), dev)
	if err := c.Synchronize(1, []SynchronizationRequest{{Repeats: 1}}); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	st := c.Status()
	if !st.TimeMode || st.Motor != "m1" {
		t.Errorf("unexpected status %+v", st)
	}
	if dev.uploadCalls != 0 {
		t.Errorf("time synchronization uploaded %d tables", dev.uploadCalls)
	}
}

func TestSynchronizeErrors(t *testing.T) {
	for _, test := range []struct {
		name   string
		cfg    Config
		motor  string
		groups []SynchronizationRequest
		want   error
	}{
		{"multiple time triggers", masterConfig(), "m1", []SynchronizationRequest{{Repeats: 2}}, ErrConfiguration},
		{"no groups", masterConfig(), "m1", nil, ErrConfiguration},
		{"capacity", masterConfig(), "m1", []SynchronizationRequest{{Repeats: MaxTableSize + 1, Initial: float(0), Total: 1}}, ErrCapacity},
		{"zero span", masterConfig(), "m1", []SynchronizationRequest{{Repeats: 4, Initial: float(0), Total: 0}}, ErrConfiguration},
		{"cable mismatch by time", auxConfig("InfoA"), "m2", []SynchronizationRequest{{Repeats: 1}}, ErrConfiguration},
		{"cable mismatch by position", auxConfig("InfoA"), "m1", []SynchronizationRequest{{Repeats: 1, Initial: float(0), Total: 1, Master: "m2"}}, ErrConfiguration},
		{"unknown master", masterConfig(), "m1", []SynchronizationRequest{{Repeats: 1, Initial: float(0), Total: 1, Master: "x"}}, ErrResolution},
	} {
		t.Run(test.name, func(t *testing.T) {
			dev := &fakeDevice{}
			c := newTestController(t, test.cfg, dev)
			if err := c.ConfigureMotor(test.motor); err != nil {
				t.Fatal(err)
			}
			err := c.Synchronize(1, test.groups)
			if !errors.Is(err, test.want) {
				t.Errorf("got %v, want %v", err, test.want)
			}
			if dev.uploadCalls != 0 {
				t.Errorf("rejected request uploaded a table")
			}
		})
	}
}

func TestSynchronizeUploadRetries(t *testing.T) {
	dev := &fakeDevice{failUploads: 2}
	c := newTestController(t, masterConfig(), dev)
	req := SynchronizationRequest{Repeats: 2, Initial: float(0), Total: 1, Master: "m1"}
	if err := c.Synchronize(1, []SynchronizationRequest{req}); err != nil {
		t.Fatalf("Synchronize: %v", err)
	}
	if dev.uploadCalls != 3 || len(dev.uploads) != 1 {
		t.Errorf("got %d calls and %d uploads, want 3 and 1", dev.uploadCalls, len(dev.uploads))
	}
}

func TestSynchronizeUploadExhausted(t *testing.T) {
	dev := &fakeDevice{uploadErr: errors.New("socket timeout")}
	c := newTestController(t, masterConfig(), dev)
	req := SynchronizationRequest{Repeats: 2, Initial: float(0), Total: 1, Master: "m1"}
	err := c.Synchronize(1, []SynchronizationRequest{req})
	if !errors.Is(err, ErrUpload) {
		t.Fatalf("got %v, want ErrUpload", err)
	}
	if dev.uploadCalls != retry.Attempts(masterConfig().Timeout) {
		t.Errorf("got %d upload attempts, want %d", dev.uploadCalls, retry.Attempts(masterConfig().Timeout))
	}
}

func TestPoll(t *testing.T) {
	for _, test := range []struct {
		name  string
		dev   *fakeDevice
		want  OperationalState
		reads int
	}{
		{"ready", &fakeDevice{state: motion.AxisState{Powered: true}}, Ready, 1},
		{"moving", &fakeDevice{state: motion.AxisState{Powered: true, Moving: true}}, Moving, 1},
		{"settling", &fakeDevice{state: motion.AxisState{Powered: true, Settling: true}}, Moving, 1},
		{"powered off", &fakeDevice{state: motion.AxisState{Moving: true}}, Alarm, 1},
		{"unreachable", &fakeDevice{stateErr: errors.New("timeout")}, Alarm, 5},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := newTestController(t, masterConfig(), test.dev)
			if err := c.ConfigureMotor("m1"); err != nil {
				t.Fatal(err)
			}
			got, status := c.Poll(1)
			if got != test.want {
				t.Errorf("Poll = %v (%q), want %v", got, status, test.want)
			}
			if test.dev.stateReads != test.reads {
				t.Errorf("got %d state reads, want %d", test.dev.stateReads, test.reads)
			}
		})
	}
}

func TestPollUnconfigured(t *testing.T) {
	dev := &fakeDevice{state: motion.AxisState{Powered: true}}
	c := newTestController(t, masterConfig(), dev)
	if got, _ := c.Poll(1); got != Alarm {
		t.Errorf("Poll = %v, want ALARM", got)
	}
	if got, _ := c.Poll(2); got != Alarm {
		t.Errorf("Poll(2) = %v, want ALARM", got)
	}
	if dev.stateReads != 0 {
		t.Errorf("read state of an unbound channel")
	}
}

func TestLifecycleOutputs(t *testing.T) {
	timeReq := []SynchronizationRequest{{Repeats: 1}}
	posReq := []SynchronizationRequest{{Repeats: 3, Initial: float(0), Total: 3}}
	for _, test := range []struct {
		name   string
		cfg    Config
		groups []SynchronizationRequest
		want   []write
	}{
		{
			name:   "time mode on master output",
			cfg:    masterConfig(),
			groups: timeReq,
			want: []write{
				{1, "syncaux", "low", "normal"},
				{1, "syncaux", "high", "normal"},
				{1, "syncaux", "low", "normal"},
				{1, "syncaux", "low", "normal"},
			},
		},
		{
			name:   "position mode on master output",
			cfg:    masterConfig(),
			groups: posReq,
			want: []write{
				{1, "syncaux", "ecam", "normal"},
				{1, "syncaux", "low", "normal"},
			},
		},
		{
			name:   "time mode on aux outputs",
			cfg:    auxConfig("InfoA", "InfoC"),
			groups: timeReq,
			want: []write{
				{1, "infoa", "low", "normal"},
				{1, "infoc", "low", "normal"},
				{1, "infoa", "high", "normal"},
				{1, "infoc", "high", "normal"},
				{1, "infoa", "low", "normal"},
				{1, "infoc", "low", "normal"},
				{1, "infoa", "low", "normal"},
				{1, "infoc", "low", "normal"},
			},
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			dev := &fakeDevice{}
			c := newTestController(t, test.cfg, dev)
			var dwell []time.Duration
			c.sleep = func(d time.Duration) { dwell = append(dwell, d) }
			if err := c.ConfigureMotor("m1"); err != nil {
				t.Fatal(err)
			}
			if err := c.Synchronize(1, test.groups); err != nil {
				t.Fatal(err)
			}
			ready, err := c.PreStart(1)
			if err != nil || !ready {
				t.Fatalf("PreStart = %v, %v", ready, err)
			}
			if err := c.Start(1); err != nil {
				t.Fatal(err)
			}
			if err := c.Abort(1); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(test.want, dev.writes); diff != "" {
				t.Errorf("unexpected writes: want(-)/got(+):\n%s", diff)
			}
			if c.Status().TimeMode && (len(dwell) != 1 || dwell[0] != PulseDwell) {
				t.Errorf("got dwell %v, want one of %v", dwell, PulseDwell)
			}
		})
	}
}

func TestSetOutputAllSinksAttempted(t *testing.T) {
	failure := errors.New("not wired")
	dev := &fakeDevice{writeErr: map[string]error{"infoa": failure}}
	c := newTestController(t, auxConfig("InfoA", "InfoB"), dev)
	if err := c.ConfigureMotor("m1"); err != nil {
		t.Fatal(err)
	}
	err := c.Abort(1)
	if !errors.Is(err, failure) {
		t.Errorf("got %v, want wrapped sink error", err)
	}
	if diff := cmp.Diff([]write{{1, "infob", "low", "normal"}}, dev.writes); diff != "" {
		t.Errorf("unexpected writes: want(-)/got(+):\n%s", diff)
	}
}

func TestOutputsNeedMotor(t *testing.T) {
	c := newTestController(t, masterConfig(), &fakeDevice{})
	if err := c.Abort(1); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Abort = %v, want ErrNotConfigured", err)
	}
	if err := c.Start(2); !errors.Is(err, ErrInvalidAxis) {
		t.Errorf("Start(2) = %v, want ErrInvalidAxis", err)
	}
}

func TestAxisParameters(t *testing.T) {
	c := newTestController(t, masterConfig(), &fakeDevice{})
	if err := c.SetAxisPar(1, "Passive_Interval", 0.25); err != nil {
		t.Fatal(err)
	}
	if err := c.SetAxisPar(1, "velocity", 3); err != nil {
		t.Fatal(err)
	}
	if v, ok := c.GetAxisPar(1, "passive_interval"); !ok || v != 0.25 {
		t.Errorf("passive_interval = %v, %v", v, ok)
	}
	if v, ok := c.GetAxisPar(1, "velocity"); ok || v != nil {
		t.Errorf("unknown parameter stored: %v", v)
	}
	if _, ok := c.GetAxisPar(1, "sign"); ok {
		t.Error("unset parameter reported present")
	}
	if err := c.SetAxisPar(0, "sign", 1); !errors.Is(err, ErrInvalidAxis) {
		t.Errorf("SetAxisPar(0) = %v, want ErrInvalidAxis", err)
	}
}
