// Package registry resolves motor and device names from a YAML file:
//
//	devices:
//	  ipap01: {host: ipap01.lab, port: 5000}
//	motors:
//	  dummy: {device: ipap01, axis: 1, steps_per_unit: 1000, offset: 0, sign: 1}
package registry

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/w1xm/ecam_trigger/motion"
	"gopkg.in/yaml.v3"
)

// ErrUnknown is wrapped when a name is not in the registry.
var ErrUnknown = errors.New("unknown name")

type device struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type motor struct {
	Device       string   `yaml:"device"`
	Axis         int      `yaml:"axis"`
	StepsPerUnit float64  `yaml:"steps_per_unit"`
	Offset       float64  `yaml:"offset"`
	Sign         *float64 `yaml:"sign"`
}

type file struct {
	Devices map[string]device `yaml:"devices"`
	Motors  map[string]motor  `yaml:"motors"`
}

// Registry implements motion.Registry. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]motion.Endpoint
	motors  map[string]motion.Calibration
	owners  map[string]string
}

var _ motion.Registry = (*Registry)(nil)

func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse validates and indexes a registry document. An omitted sign is +1.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	r := &Registry{
		devices: make(map[string]motion.Endpoint),
		motors:  make(map[string]motion.Calibration),
		owners:  make(map[string]string),
	}
	for name, d := range f.Devices {
		if d.Host == "" || d.Port <= 0 {
			return nil, fmt.Errorf("device %q: host and port are required", name)
		}
		r.devices[name] = motion.Endpoint{Host: d.Host, Port: d.Port}
	}
	for name, m := range f.Motors {
		sign := 1.0
		if m.Sign != nil {
			sign = *m.Sign
		}
		if sign != 1 && sign != -1 {
			return nil, fmt.Errorf("motor %q: sign must be 1 or -1, got %g", name, sign)
		}
		if m.StepsPerUnit == 0 {
			return nil, fmt.Errorf("motor %q: steps_per_unit must not be zero", name)
		}
		if m.Axis < 1 {
			return nil, fmt.Errorf("motor %q: invalid axis %d", name, m.Axis)
		}
		if m.Device != "" {
			if _, ok := r.devices[m.Device]; !ok {
				return nil, fmt.Errorf("motor %q: %w: device %q", name, ErrUnknown, m.Device)
			}
		}
		r.motors[name] = motion.Calibration{
			Axis:         m.Axis,
			StepsPerUnit: m.StepsPerUnit,
			Offset:       m.Offset,
			Sign:         sign,
		}
		r.owners[name] = m.Device
	}
	return r, nil
}

func (r *Registry) Resolve(name string) (motion.Calibration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cal, ok := r.motors[name]
	if !ok {
		return motion.Calibration{}, fmt.Errorf("%w: motor %q", ErrUnknown, name)
	}
	return cal, nil
}

func (r *Registry) ResolveDevice(name string) (motion.Endpoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ep, ok := r.devices[name]
	if !ok {
		return motion.Endpoint{}, fmt.Errorf("%w: device %q", ErrUnknown, name)
	}
	return ep, nil
}

// DeviceOf returns the device a motor is attached to, or "" if the motor
// does not name one.
func (r *Registry) DeviceOf(motor string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.owners[motor]
	if !ok {
		return "", fmt.Errorf("%w: motor %q", ErrUnknown, motor)
	}
	return d, nil
}

// Motors lists the motor names in order.
func (r *Registry) Motors() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.motors))
	for name := range r.motors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// View restricts a registry to one device.
type View struct {
	r      *Registry
	device string
}

var _ motion.Registry = (*View)(nil)

// For returns a view resolving the motors attached to device and those that
// name no device.
func (r *Registry) For(device string) *View {
	return &View{r: r, device: device}
}

func (v *View) Resolve(name string) (motion.Calibration, error) {
	owner, err := v.r.DeviceOf(name)
	if err != nil {
		return motion.Calibration{}, err
	}
	if owner != "" && owner != v.device {
		return motion.Calibration{}, fmt.Errorf("%w: motor %q is on device %q, not %q", ErrUnknown, name, owner, v.device)
	}
	return v.r.Resolve(name)
}

func (v *View) ResolveDevice(name string) (motion.Endpoint, error) {
	return v.r.ResolveDevice(name)
}
