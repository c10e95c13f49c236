// Package trigger generates position and time triggers on the comparator
// outputs of a motor-control device.
//
// A Controller owns exactly one trigger channel (axis 1) bound to one motor
// at a time. In position mode the channel loads an ECAM table of evenly
// spaced positions and lets the comparator fire on its own; in time mode it
// emits a single software pulse on Start.
//
// The Controller does no locking. Callers serialize access.
package trigger

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/motion"
	"github.com/w1xm/ecam_trigger/retry"
)

// MaxDevice is the number of trigger channels per controller.
const MaxDevice = 1

// PulseDwell is how long the output is held high for a time-mode trigger.
const PulseDwell = 10 * time.Millisecond

type Config struct {
	// DeviceController names the motor-control device.
	DeviceController string
	// DefaultMotor is bound when no motor is given, and is the motor wired
	// to the auxiliary outputs when UseMasterOutput is false.
	DefaultMotor    string
	UseMasterOutput bool
	// AuxOutputs are the axis outputs driven when UseMasterOutput is false.
	AuxOutputs []string
	// Timeout is the per-attempt device communication timeout.
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		UseMasterOutput: true,
		AuxOutputs:      []string{"InfoA"},
		Timeout:         500 * time.Millisecond,
	}
}

// ParseAuxOutputs splits a comma separated output list.
func ParseAuxOutputs(s string) []string {
	var out []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}

var auxChannels = map[string]string{
	"infoa": motion.ChannelInfoA,
	"infob": motion.ChannelInfoB,
	"infoc": motion.ChannelInfoC,
}

type Controller struct {
	cfg   Config
	dev   motion.Device
	reg   motion.Registry
	log   logrus.FieldLogger
	retry retry.Policy

	// aux holds the device channel names for AuxOutputs.
	aux    []string
	state  channelState
	params [MaxDevice]map[string]interface{}

	sleep func(time.Duration)
}

// New returns a controller with no motor bound. Call ConfigureMotor (or
// SetMasterMotor) before triggering.
func New(cfg Config, dev motion.Device, reg motion.Registry, log logrus.FieldLogger) (*Controller, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("controller", cfg.DeviceController)
	c := &Controller{
		cfg:   cfg,
		dev:   dev,
		reg:   reg,
		log:   log,
		retry: retry.New(cfg.Timeout, log),
		sleep: time.Sleep,
	}
	if !cfg.UseMasterOutput {
		if len(cfg.AuxOutputs) == 0 {
			return nil, fmt.Errorf("%w: no auxiliary outputs configured", ErrConfiguration)
		}
		for _, name := range cfg.AuxOutputs {
			ch, ok := auxChannels[strings.ToLower(strings.TrimSpace(name))]
			if !ok {
				return nil, fmt.Errorf("%w: unknown auxiliary output %q", ErrConfiguration, name)
			}
			c.aux = append(c.aux, ch)
		}
	}
	for i := range c.params {
		c.params[i] = make(map[string]interface{})
	}
	log.WithFields(logrus.Fields{
		"master_output": cfg.UseMasterOutput,
		"retries":       c.retry.Attempts,
	}).Debug("trigger controller created")
	return c, nil
}

func checkAxis(axis int) error {
	if axis < 1 || axis > MaxDevice {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, axis)
	}
	return nil
}

// Status is a read-only view of the channel.
type Status struct {
	Motor            string  `json:"motor"`
	Axis             int     `json:"axis"`
	Bound            bool    `json:"bound"`
	TimeMode         bool    `json:"time_mode"`
	StartTriggerOnly bool    `json:"start_trigger_only"`
	Wired            bool    `json:"wired"`
	StepsPerUnit     float64 `json:"steps_per_unit"`
	Offset           float64 `json:"offset"`
	Sign             float64 `json:"sign"`
}

func (c *Controller) Status() Status {
	s := c.state
	return Status{
		Motor:            s.binding.Name,
		Axis:             s.binding.Axis,
		Bound:            s.bound,
		TimeMode:         s.timeMode,
		StartTriggerOnly: s.startTriggerOnly,
		Wired:            s.wired,
		StepsPerUnit:     s.binding.StepsPerUnit,
		Offset:           s.binding.Offset,
		Sign:             s.binding.Sign,
	}
}

// Config returns the configuration the controller was built with.
func (c *Controller) Config() Config {
	return c.cfg
}
