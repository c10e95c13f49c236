package trigger

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Synchronize prepares the channel for a scan. Only the first group is used;
// multi-group synchronization is not supported.
//
// A group without an initial position selects time mode: Start will emit a
// single pulse. Otherwise the comparator table is computed and uploaded.
func (c *Controller) Synchronize(axis int, groups []SynchronizationRequest) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	if len(groups) == 0 {
		return fmt.Errorf("%w: no synchronization given", ErrConfiguration)
	}
	if len(groups) > 1 {
		c.log.WithField("groups", len(groups)).Warn("only the first synchronization group is used")
	}
	req := groups[0]

	if req.TimeDomain() {
		if req.Repeats > 1 {
			return fmt.Errorf("%w: cannot generate multiple triggers synchronized by time", ErrConfiguration)
		}
		c.state = c.state.withTimeMode(true)
		motor := c.state.binding.Name
		if err := c.checkCable(motor); err != nil {
			return err
		}
		return c.ConfigureMotor(motor)
	}

	c.state = c.state.withTimeMode(false)
	master := req.Master
	if master == "" {
		master = c.state.binding.Name
	}
	if err := c.checkCable(master); err != nil {
		return err
	}
	if err := c.ConfigureMotor(master); err != nil {
		return err
	}

	cal := c.state.binding.Calibration
	table, err := BuildTable(cal, req, c.state.startTriggerOnly)
	if err != nil {
		return err
	}
	start, delta, end := Span(cal, req)
	c.log.WithFields(logrus.Fields{
		"motor":      c.state.binding.Name,
		"start":      start,
		"end":        end,
		"step":       delta,
		"points":     req.Repeats,
		"start_only": c.state.startTriggerOnly,
	}).Debug("trigger table generated")

	if err := c.retry.Do("upload trigger table", func() error {
		return c.dev.UploadTable(cal.Axis, table)
	}); err != nil {
		return fmt.Errorf("%w: cannot send trigger table: %w", ErrUpload, err)
	}
	return nil
}

// checkCable rejects motors other than the default one when the triggers
// leave through the axis outputs, which are cabled to the default motor.
func (c *Controller) checkCable(motor string) error {
	if c.cfg.UseMasterOutput {
		return nil
	}
	if motor == "" {
		motor = c.cfg.DefaultMotor
	}
	if motor != c.cfg.DefaultMotor {
		return fmt.Errorf("%w: motor %q is not the motor %q wired to the trigger cable", ErrConfiguration, motor, c.cfg.DefaultMotor)
	}
	return nil
}

func (c *Controller) SetStartTriggerOnly(axis int, on bool) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	c.state = c.state.withStartTriggerOnly(on)
	return nil
}

func (c *Controller) StartTriggerOnly(axis int) bool {
	return c.state.startTriggerOnly
}
