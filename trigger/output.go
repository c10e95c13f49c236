package trigger

import (
	"fmt"

	"github.com/w1xm/ecam_trigger/motion"
	"go.uber.org/multierr"
)

// OutputState is the logical level of the trigger output.
type OutputState string

const (
	Low  OutputState = motion.LevelLow
	High OutputState = motion.LevelHigh
	// ECAM hands the output to the comparator table.
	ECAM OutputState = motion.LevelECAM
)

// sinks returns the outputs of the bound axis that carry the trigger.
func (c *Controller) sinks() []motion.OutputSink {
	axis := c.state.binding.Axis
	if c.cfg.UseMasterOutput {
		return []motion.OutputSink{motion.NewSink(c.dev, axis, motion.ChannelSyncAux)}
	}
	out := make([]motion.OutputSink, 0, len(c.aux))
	for _, ch := range c.aux {
		out = append(out, motion.NewSink(c.dev, axis, ch))
	}
	return out
}

// SetOutput drives every trigger output of the bound axis to out. All
// outputs are written even if some fail.
func (c *Controller) SetOutput(out OutputState) error {
	if !c.state.bound {
		return ErrNotConfigured
	}
	var err error
	for _, s := range c.sinks() {
		if werr := s.Write(string(out), motion.ModeNormal); werr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", s.Name(), werr))
		}
	}
	if err != nil {
		return fmt.Errorf("setting output %s: %w", out, err)
	}
	return nil
}
