package trigger

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/motion"
)

type write struct {
	Axis    int
	Channel string
	Level   string
	Mode    string
}

type fakeDevice struct {
	state      motion.AxisState
	stateErr   error
	stateReads int

	writes   []write
	writeErr map[string]error

	uploads     [][]float64
	uploadAxes  []int
	uploadErr   error
	uploadCalls int
	failUploads int

	assignments []motion.Assignment
	muxReads    int
	clears      []string
	adds        []motion.Assignment
	addErr      error
}

func (d *fakeDevice) ReadAxisState(axis int) (motion.AxisState, error) {
	d.stateReads++
	if d.stateErr != nil {
		return motion.AxisState{}, d.stateErr
	}
	return d.state, nil
}

func (d *fakeDevice) WriteOutput(axis int, channel, level, mode string) error {
	if err := d.writeErr[channel]; err != nil {
		return err
	}
	d.writes = append(d.writes, write{axis, channel, level, mode})
	return nil
}

func (d *fakeDevice) UploadTable(axis int, table []float64) error {
	d.uploadCalls++
	if d.uploadErr != nil {
		return d.uploadErr
	}
	if d.failUploads > 0 {
		d.failUploads--
		return errors.New("socket timeout")
	}
	d.uploadAxes = append(d.uploadAxes, axis)
	d.uploads = append(d.uploads, append([]float64(nil), table...))
	return nil
}

func (d *fakeDevice) Assignments() ([]motion.Assignment, error) {
	d.muxReads++
	return append([]motion.Assignment(nil), d.assignments...), nil
}

func (d *fakeDevice) ClearAssignment(line string) error {
	d.clears = append(d.clears, line)
	var kept []motion.Assignment
	for _, a := range d.assignments {
		if !strings.EqualFold(a.Line, line) {
			kept = append(kept, a)
		}
	}
	d.assignments = kept
	return nil
}

func (d *fakeDevice) AddAssignment(axis int, line string, opts motion.AssignOptions) error {
	if d.addErr != nil {
		return d.addErr
	}
	a := motion.Assignment{Source: axis, Line: line, AssignOptions: opts}
	d.adds = append(d.adds, a)
	d.assignments = append(d.assignments, a)
	return nil
}

type fakeRegistry map[string]motion.Calibration

var errUnknownMotor = errors.New("unknown motor")

func (r fakeRegistry) Resolve(motor string) (motion.Calibration, error) {
	cal, ok := r[motor]
	if !ok {
		return motion.Calibration{}, errUnknownMotor
	}
	return cal, nil
}

func (r fakeRegistry) ResolveDevice(name string) (motion.Endpoint, error) {
	return motion.Endpoint{Host: "localhost", Port: 5000}, nil
}

func testRegistry() fakeRegistry {
	return fakeRegistry{
		"m1": {Axis: 1, StepsPerUnit: 1000, Offset: 0, Sign: 1},
		"m2": {Axis: 2, StepsPerUnit: 500, Offset: 10, Sign: -1},
	}
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestController(t *testing.T, cfg Config, dev *fakeDevice) *Controller {
	t.Helper()
	c, err := New(cfg, dev, testRegistry(), quietLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.sleep = func(time.Duration) {}
	return c
}

func masterConfig() Config {
	cfg := DefaultConfig()
	cfg.DeviceController = "ipap01"
	cfg.DefaultMotor = "m1"
	return cfg
}

func auxConfig(outputs ...string) Config {
	cfg := masterConfig()
	cfg.UseMasterOutput = false
	cfg.AuxOutputs = outputs
	return cfg
}

func float(f float64) *float64 {
	return &f
}
