package trigger

import "strings"

// axisParameters are the per-channel parameters the host may set.
var axisParameters = map[string]bool{
	"offset":           true,
	"passive_interval": true,
	"repetitions":      true,
	"sign":             true,
	"info_channels":    true,
}

// SetAxisPar stores a channel parameter. Unknown names are ignored.
func (c *Controller) SetAxisPar(axis int, name string, value interface{}) error {
	if err := checkAxis(axis); err != nil {
		return err
	}
	name = strings.ToLower(name)
	if axisParameters[name] {
		c.params[axis-1][name] = value
	}
	return nil
}

// GetAxisPar returns a channel parameter, or false if it was never set or
// does not exist.
func (c *Controller) GetAxisPar(axis int, name string) (interface{}, bool) {
	if err := checkAxis(axis); err != nil {
		c.log.WithError(err).Error("GetAxisPar")
		return nil, false
	}
	v, ok := c.params[axis-1][strings.ToLower(name)]
	if !ok {
		c.log.Errorf("GetAxisPar(%d): the parameter %s does not exist", axis, name)
	}
	return v, ok
}
