package trigger

import (
	"fmt"

	"github.com/w1xm/ecam_trigger/motion"
)

// MaxTableSize is the number of positions the comparator can hold.
const MaxTableSize = 20477

// SynchronizationRequest describes one group of triggers of a scan.
type SynchronizationRequest struct {
	// Repeats is the number of triggers.
	Repeats int `json:"repeats"`
	// Initial is the first trigger position in user units. Nil means the
	// triggers are synchronized by time only.
	Initial *float64 `json:"initial,omitempty"`
	// Total is the travel covered by all the triggers in user units, so
	// consecutive triggers are Total/Repeats apart. Hosts that send the
	// spacing of a single trigger here get triggers Repeats times closer
	// together than they intended.
	Total float64 `json:"total"`
	// Master optionally names the motor the positions refer to.
	Master string `json:"master,omitempty"`
}

func (r SynchronizationRequest) TimeDomain() bool {
	return r.Initial == nil
}

// Table is an ordered list of trigger positions in motor steps.
type Table []float64

// Span converts the request into steps: the first position, the distance
// between positions and the end of the travel.
func Span(cal motion.Calibration, req SynchronizationRequest) (start, delta, end float64) {
	start = (*req.Initial - cal.Offset) * cal.StepsPerUnit / cal.Sign
	if req.Repeats > 0 {
		delta = req.Total * cal.StepsPerUnit / cal.Sign / float64(req.Repeats)
	}
	end = start + delta*float64(req.Repeats)
	return start, delta, end
}

// BuildTable computes the comparator table for a position request. With
// startOnly only the first position is kept.
func BuildTable(cal motion.Calibration, req SynchronizationRequest, startOnly bool) (Table, error) {
	if req.TimeDomain() {
		return nil, fmt.Errorf("%w: no initial position", ErrConfiguration)
	}
	if cal.Sign == 0 || cal.StepsPerUnit == 0 {
		return nil, fmt.Errorf("%w: motor calibration has zero sign or steps per unit", ErrConfiguration)
	}
	if req.Repeats > MaxTableSize {
		return nil, fmt.Errorf("%w: %d positions requested, at most %d allowed", ErrCapacity, req.Repeats, MaxTableSize)
	}
	if req.Repeats < 1 {
		return nil, fmt.Errorf("%w: %d positions requested", ErrConfiguration, req.Repeats)
	}
	start, delta, _ := Span(cal, req)
	if startOnly {
		return Table{start}, nil
	}
	table := make(Table, req.Repeats)
	for i := range table {
		table[i] = start + float64(i)*delta
	}
	// The device refuses decreasing tables but accepts repeated positions,
	// which would fire once for several triggers.
	for i := 1; i < len(table); i++ {
		if table[i] <= table[i-1] {
			return nil, fmt.Errorf("%w: positions are not strictly increasing (step %g)", ErrConfiguration, delta)
		}
	}
	return table, nil
}
