// Package modbusdev drives a trigger-capable motor controller exposed as a
// Modbus slave.
//
// Register map, with n the 1-based axis:
//
//	input register 0          number of axes
//	discrete inputs 8(n-1)+   0 power on, 1 moving, 2 settling
//	holding 100+4(n-1)+c      output c (syncaux, infoa, infob, infoc): level | mode<<8
//	holding 200+k             multiplexer line Ek: 0 or source axis | option flags
//	holding 300, 301          table axis, table length
//	holding 302, 303+         chunk offset, up to ChunkSize float64 positions
//	coil 0                    load the staged table into the comparator
package modbusdev

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/w1xm/ecam_trigger/internal/modbus"
	"github.com/w1xm/ecam_trigger/motion"
)

const (
	regAxisCount   = 0
	inputsPerAxis  = 8
	regOutputs     = 100
	regPMUX        = 200
	regTableAxis   = 300
	regTableOffset = 302
	coilLoadTable  = 0

	// Lines is the number of multiplexer lines, E0 to E7.
	Lines = 8
	// ChunkSize keeps one table write within the 123 register limit.
	ChunkSize = 30
)

const (
	flagPos  = 0x100
	flagAux  = 0x200
	flagHard = 0x400
)

var channels = map[string]uint16{
	motion.ChannelSyncAux: 0,
	motion.ChannelInfoA:   1,
	motion.ChannelInfoB:   2,
	motion.ChannelInfoC:   3,
}

var levels = map[string]uint16{
	motion.LevelLow:  0,
	motion.LevelHigh: 1,
	motion.LevelECAM: 2,
}

var modes = map[string]uint16{
	motion.ModeNormal: 0,
}

// Registers is the part of a Modbus client the device needs.
type Registers interface {
	ReadInputRegisters(address, quantity uint16) ([]byte, error)
	ReadDiscreteInputs(address, quantity uint16) ([]byte, error)
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
	WriteSingleRegister(address, value uint16) ([]byte, error)
	WriteMultipleRegisters(address, quantity uint16, value []byte) ([]byte, error)
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

type Device struct {
	mu   sync.Mutex
	regs Registers
	axes int
}

var _ motion.Device = (*Device)(nil)

// New reads the number of axes from regs.
func New(regs Registers) (*Device, error) {
	results, err := regs.ReadInputRegisters(regAxisCount, 1)
	if err != nil {
		return nil, fmt.Errorf("reading axis count: %w", err)
	}
	return &Device{regs: regs, axes: int(modbus.BytesToUint16s(results)[0])}, nil
}

func (d *Device) Axes() int {
	return d.axes
}

func (d *Device) checkAxis(axis int) error {
	if axis < 1 || axis > d.axes {
		return fmt.Errorf("invalid axis %d", axis)
	}
	return nil
}

func (d *Device) ReadAxisState(axis int) (motion.AxisState, error) {
	if err := d.checkAxis(axis); err != nil {
		return motion.AxisState{}, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	results, err := d.regs.ReadDiscreteInputs(uint16(inputsPerAxis*(axis-1)), inputsPerAxis)
	if err != nil {
		return motion.AxisState{}, err
	}
	bits := modbus.BytesToBits(results)
	return motion.AxisState{
		Powered:  bits[0],
		Moving:   bits[1],
		Settling: bits[2],
	}, nil
}

func (d *Device) WriteOutput(axis int, channel, level, mode string) error {
	if err := d.checkAxis(axis); err != nil {
		return err
	}
	c, ok := channels[strings.ToLower(channel)]
	if !ok {
		return fmt.Errorf("unknown output %q", channel)
	}
	l, ok := levels[strings.ToLower(level)]
	if !ok {
		return fmt.Errorf("unknown output level %q", level)
	}
	m, ok := modes[strings.ToLower(mode)]
	if !ok {
		return fmt.Errorf("unknown output mode %q", mode)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.regs.WriteSingleRegister(uint16(regOutputs+4*(axis-1))+c, l|m<<8)
	return err
}

// UploadTable stages table in chunks and then loads it.
func (d *Device) UploadTable(axis int, table []float64) error {
	if err := d.checkAxis(axis); err != nil {
		return err
	}
	if len(table) == 0 || len(table) > 0xFFFF {
		return fmt.Errorf("cannot upload a table of %d positions", len(table))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	header := modbus.Uint16sToBytes([]uint16{uint16(axis), uint16(len(table))})
	if _, err := d.regs.WriteMultipleRegisters(regTableAxis, 2, header); err != nil {
		return fmt.Errorf("writing table header: %w", err)
	}
	for off := 0; off < len(table); off += ChunkSize {
		end := off + ChunkSize
		if end > len(table) {
			end = len(table)
		}
		chunk := append(modbus.Uint16sToBytes([]uint16{uint16(off)}), modbus.Float64sToBytes(table[off:end])...)
		if _, err := d.regs.WriteMultipleRegisters(regTableOffset, uint16(len(chunk)/2), chunk); err != nil {
			return fmt.Errorf("writing table positions %d-%d: %w", off, end-1, err)
		}
	}
	if _, err := d.regs.WriteSingleCoil(coilLoadTable, 0xFF00); err != nil {
		return fmt.Errorf("loading table: %w", err)
	}
	return nil
}

func lineIndex(line string) (int, error) {
	line = strings.ToUpper(line)
	if !strings.HasPrefix(line, "E") {
		return 0, fmt.Errorf("unknown line %q", line)
	}
	k, err := strconv.Atoi(line[1:])
	if err != nil || k < 0 || k >= Lines {
		return 0, fmt.Errorf("unknown line %q", line)
	}
	return k, nil
}

// DecodeAssignment turns a multiplexer register into an assignment. ok is
// false for an unused line.
func DecodeAssignment(line int, v uint16) (a motion.Assignment, ok bool) {
	if v&0xFF == 0 {
		return motion.Assignment{}, false
	}
	return motion.Assignment{
		Source: int(v & 0xFF),
		Line:   fmt.Sprintf("E%d", line),
		AssignOptions: motion.AssignOptions{
			Pos:  v&flagPos != 0,
			Aux:  v&flagAux != 0,
			Hard: v&flagHard != 0,
		},
	}, true
}

func EncodeAssignment(axis int, opts motion.AssignOptions) uint16 {
	v := uint16(axis) & 0xFF
	if opts.Pos {
		v |= flagPos
	}
	if opts.Aux {
		v |= flagAux
	}
	if opts.Hard {
		v |= flagHard
	}
	return v
}

func (d *Device) Assignments() ([]motion.Assignment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	results, err := d.regs.ReadHoldingRegisters(regPMUX, Lines)
	if err != nil {
		return nil, err
	}
	var out []motion.Assignment
	for k, v := range modbus.BytesToUint16s(results) {
		if a, ok := DecodeAssignment(k, v); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (d *Device) ClearAssignment(line string) error {
	k, err := lineIndex(line)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.regs.WriteSingleRegister(uint16(regPMUX+k), 0)
	return err
}

func (d *Device) AddAssignment(axis int, line string, opts motion.AssignOptions) error {
	if err := d.checkAxis(axis); err != nil {
		return err
	}
	k, err := lineIndex(line)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err = d.regs.WriteSingleRegister(uint16(regPMUX+k), EncodeAssignment(axis, opts))
	return err
}
