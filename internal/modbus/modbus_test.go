package modbus

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBytesToBits(t *testing.T) {
	got := BytesToBits([]byte{0x05, 0x80})
	want := []bool{
		true, false, true, false, false, false, false, false,
		false, false, false, false, false, false, false, true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected bits: want(-)/got(+):\n%s", diff)
	}
}

func TestRegisterEncoding(t *testing.T) {
	regs := []uint16{0, 1, 0xBEEF}
	if diff := cmp.Diff(regs, BytesToUint16s(Uint16sToBytes(regs))); diff != "" {
		t.Errorf("uint16 round trip: want(-)/got(+):\n%s", diff)
	}
	if diff := cmp.Diff([]byte{0x3F, 0xF0, 0, 0, 0, 0, 0, 0}, Float64sToBytes([]float64{1})); diff != "" {
		t.Errorf("float64 encoding: want(-)/got(+):\n%s", diff)
	}
	// Step positions past 2^24 stay distinct.
	table := []float64{-5000, 0, 2000.5, 16777216, 20000001, 20000002, 20000003, 20000004}
	if diff := cmp.Diff(table, BytesToFloat64s(Float64sToBytes(table))); diff != "" {
		t.Errorf("float64 round trip: want(-)/got(+):\n%s", diff)
	}
}
