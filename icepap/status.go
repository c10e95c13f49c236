package icepap

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/w1xm/ecam_trigger/motion"
)

// Bits of the axis status word returned by ?FSTATUS.
const (
	BitPresent  = 0
	BitAlive    = 1
	BitReady    = 9
	BitMoving   = 10
	BitSettling = 11
	BitPowerOn  = 23
)

type Status struct {
	Word     uint32
	Present  bool
	Alive    bool
	Ready    bool
	Moving   bool
	Settling bool
	PowerOn  bool
}

func bit(word uint32, n uint) bool {
	return (word>>n)&1 == 1
}

func DecodeStatus(word uint32) Status {
	return Status{
		Word:     word,
		Present:  bit(word, BitPresent),
		Alive:    bit(word, BitAlive),
		Ready:    bit(word, BitReady),
		Moving:   bit(word, BitMoving),
		Settling: bit(word, BitSettling),
		PowerOn:  bit(word, BitPowerOn),
	}
}

// ParseStatus decodes a status word written in hex, with or without 0x.
func ParseStatus(s string) (Status, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	w, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return Status{}, fmt.Errorf("bad status word %q: %w", s, err)
	}
	return DecodeStatus(uint32(w)), nil
}

func (s Status) AxisState() motion.AxisState {
	return motion.AxisState{
		Powered:  s.PowerOn,
		Moving:   s.Moving,
		Settling: s.Settling,
	}
}

// Encode builds a status word from the flags.
func (s Status) Encode() uint32 {
	var w uint32
	for n, on := range map[uint]bool{
		BitPresent:  s.Present,
		BitAlive:    s.Alive,
		BitReady:    s.Ready,
		BitMoving:   s.Moving,
		BitSettling: s.Settling,
		BitPowerOn:  s.PowerOn,
	} {
		if on {
			w |= 1 << n
		}
	}
	return w
}
