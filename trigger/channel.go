package trigger

import "github.com/w1xm/ecam_trigger/motion"

// MotorBinding is the motor currently feeding the trigger channel.
type MotorBinding struct {
	Name string
	motion.Calibration
}

// channelState is replaced as a whole, only by ConfigureMotor, Synchronize
// and SetStartTriggerOnly.
type channelState struct {
	binding MotorBinding
	// bound is false until a motor resolved successfully.
	bound bool
	// wired reports that the master line is routed from binding's axis.
	wired            bool
	timeMode         bool
	startTriggerOnly bool
}

func (s channelState) withBinding(b MotorBinding, wired bool) channelState {
	s.binding = b
	s.bound = true
	s.wired = wired
	return s
}

func (s channelState) withTimeMode(on bool) channelState {
	s.timeMode = on
	return s
}

func (s channelState) withStartTriggerOnly(on bool) channelState {
	s.startTriggerOnly = on
	return s
}
