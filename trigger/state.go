package trigger

import (
	"fmt"

	"github.com/w1xm/ecam_trigger/motion"
)

// OperationalState is what the channel reports to the host.
type OperationalState int

const (
	// Ready means the channel is idle and not generating triggers.
	Ready OperationalState = iota
	Moving
	Alarm
)

func (s OperationalState) String() string {
	switch s {
	case Ready:
		return "READY"
	case Moving:
		return "MOVING"
	case Alarm:
		return "ALARM"
	}
	return "UNKNOWN"
}

func (s OperationalState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OperationalState) UnmarshalText(text []byte) error {
	for _, st := range []OperationalState{Ready, Moving, Alarm} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// Poll reads the bound axis and maps it to an operational state. It never
// fails: an unreachable or unpowered motor is an alarm.
func (c *Controller) Poll(axis int) (OperationalState, string) {
	if err := checkAxis(axis); err != nil {
		return Alarm, err.Error()
	}
	if !c.state.bound {
		return Alarm, "No motor configured for the trigger."
	}
	var st motion.AxisState
	err := c.retry.Do("read state", func() error {
		var err error
		st, err = c.dev.ReadAxisState(c.state.binding.Axis)
		return err
	})
	switch {
	case err != nil || !st.Powered:
		if err != nil {
			c.log.WithError(err).Error("cannot read motor state")
		}
		return Alarm, "The motor is powered off or its state cannot be read."
	case st.Moving || st.Settling:
		return Moving, "Moving"
	}
	return Ready, "Motor is not generating triggers."
}

// PreStart arms the output: low for a time trigger, handed to the
// comparator for position triggers. The channel is always ready afterwards.
func (c *Controller) PreStart(axis int) (bool, error) {
	if err := checkAxis(axis); err != nil {
		return false, err
	}
	out := ECAM
	if c.state.timeMode {
		out = Low
	}
	return true, c.SetOutput(out)
}

// Start emits the time-mode pulse and blocks for PulseDwell. Position
// triggers come from the comparator, so Start does nothing for them.
func (c *Controller) Start(axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if !c.state.timeMode {
		return nil
	}
	if err := c.SetOutput(High); err != nil {
		return err
	}
	c.sleep(PulseDwell)
	return c.SetOutput(Low)
}

// Abort drives the output low whatever the channel is doing.
func (c *Controller) Abort(axis int) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.log.Debug("abort")
	return c.SetOutput(Low)
}
