package trigger

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/w1xm/ecam_trigger/motion"
)

// ConfigureMotor binds motor to the channel, or the default motor when
// motor is empty. Calibration is always re-read from the registry. In
// master-output mode a change of motor rewires the master line to the new
// axis.
func (c *Controller) ConfigureMotor(motor string) error {
	if motor == "" {
		motor = c.cfg.DefaultMotor
	}
	cal, err := c.reg.Resolve(motor)
	if err != nil {
		return fmt.Errorf("%w: motor %q: %w", ErrResolution, motor, err)
	}
	log := c.log.WithFields(logrus.Fields{"motor": motor, "axis": cal.Axis})
	prev := c.state
	binding := MotorBinding{Name: motor, Calibration: cal}

	if !c.cfg.UseMasterOutput {
		c.state = prev.withBinding(binding, false)
		return nil
	}
	same := prev.bound && prev.binding.Name == motor && prev.binding.Axis == cal.Axis
	if same && prev.wired {
		c.state = prev.withBinding(binding, true)
		log.Debug("calibration refreshed")
		return nil
	}
	err = c.wireMaster(cal.Axis)
	c.state = prev.withBinding(binding, err == nil)
	if err != nil {
		return err
	}
	log.Info("master output rewired")
	return nil
}

// wireMaster routes the comparator output of axis onto the master line,
// replacing whatever fed it before.
func (c *Controller) wireMaster(axis int) error {
	var current []motion.Assignment
	err := c.retry.Do("read pmux", func() error {
		var err error
		current, err = c.dev.Assignments()
		return err
	})
	if err != nil {
		return fmt.Errorf("reading output multiplexer: %w", err)
	}
	for _, a := range current {
		if strings.EqualFold(a.Line, motion.MasterLine) {
			if err := c.retry.Do("clear pmux", func() error {
				return c.dev.ClearAssignment(motion.MasterLine)
			}); err != nil {
				return fmt.Errorf("clearing %s: %w", motion.MasterLine, err)
			}
			break
		}
	}
	opts := motion.AssignOptions{Pos: false, Aux: true, Hard: true}
	if err := c.retry.Do("add pmux", func() error {
		return c.dev.AddAssignment(axis, motion.MasterLine, opts)
	}); err != nil {
		return fmt.Errorf("routing axis %d to %s: %w", axis, motion.MasterLine, err)
	}
	return nil
}

// SetMasterMotor binds the motor whose position drives the triggers.
func (c *Controller) SetMasterMotor(axis int, motor string) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	return c.ConfigureMotor(motor)
}

func (c *Controller) MasterMotor(axis int) string {
	return c.state.binding.Name
}
