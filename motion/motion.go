// Package motion describes the capabilities the trigger core needs from a
// motor-control device and from the motion-device registry.
package motion

import "fmt"

// AxisState is the subset of an axis status word the trigger core looks at.
type AxisState struct {
	Powered  bool
	Moving   bool
	Settling bool
}

// Calibration converts user units into the controller's native steps.
type Calibration struct {
	Axis         int
	StepsPerUnit float64
	Offset       float64
	// Sign is +1 or -1.
	Sign float64
}

// Endpoint is where a motor-control device listens.
type Endpoint struct {
	Host string
	Port int
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Assignment is one row of the peripheral output multiplexer: the source
// axis feeding a destination line.
type Assignment struct {
	Source int
	Line   string
	AssignOptions
}

type AssignOptions struct {
	Pos  bool
	Aux  bool
	Hard bool
}

// Output levels and modes understood by the comparator outputs.
const (
	LevelLow  = "low"
	LevelHigh = "high"
	LevelECAM = "ecam"

	ModeNormal = "normal"
)

// Output channels of an axis.
const (
	ChannelSyncAux = "syncaux"
	ChannelInfoA   = "infoa"
	ChannelInfoB   = "infob"
	ChannelInfoC   = "infoc"
)

// MasterLine is the shared master output line on the multiplexer.
const MasterLine = "E0"

type StateReader interface {
	ReadAxisState(axis int) (AxisState, error)
}

type OutputWriter interface {
	WriteOutput(axis int, channel, level, mode string) error
}

type TableUploader interface {
	// UploadTable loads an ordered position table into the axis comparator.
	UploadTable(axis int, table []float64) error
}

type Multiplexer interface {
	Assignments() ([]Assignment, error)
	ClearAssignment(line string) error
	AddAssignment(axis int, line string, opts AssignOptions) error
}

// Device is a motor-control device able to drive trigger outputs.
type Device interface {
	StateReader
	OutputWriter
	TableUploader
	Multiplexer
}

// Registry resolves motor and device names.
type Registry interface {
	Resolve(motor string) (Calibration, error)
	ResolveDevice(name string) (Endpoint, error)
}

// OutputSink is a single named output of one axis.
type OutputSink interface {
	Name() string
	Write(level, mode string) error
}

type sink struct {
	w       OutputWriter
	axis    int
	channel string
}

// NewSink binds channel of axis on w.
func NewSink(w OutputWriter, axis int, channel string) OutputSink {
	return sink{w: w, axis: axis, channel: channel}
}

func (s sink) Name() string {
	return s.channel
}

func (s sink) Write(level, mode string) error {
	return s.w.WriteOutput(s.axis, s.channel, level, mode)
}
