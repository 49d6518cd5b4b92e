package epd

import (
	"testing"
)

func TestSequencesHaveOpcodes(t *testing.T) {
	for _, rev := range []Revision{V1, V2} {
		for name, seqs := range map[string]map[Revision][]step{
			"init":    initSequences,
			"refresh": refreshSequences,
			"sleep":   sleepSequences,
		} {
			steps, ok := seqs[rev]
			if !ok || len(steps) == 0 {
				t.Errorf("%v: missing %s sequence", rev, name)
				continue
			}
			for _, s := range steps {
				func() {
					defer func() {
						if r := recover(); r != nil {
							t.Errorf("%v %s: %v", rev, name, r)
						}
					}()
					opcode(rev, s.op)
				}()
			}
		}
		opcode(rev, dataStartTransmission1)
		opcode(rev, dataStartTransmission2)
	}
}

func TestDataTransmissionPairs(t *testing.T) {
	v1 := [2]byte{opcode(V1, dataStartTransmission1), opcode(V1, dataStartTransmission2)}
	v2 := [2]byte{opcode(V2, dataStartTransmission1), opcode(V2, dataStartTransmission2)}

	if v1 != [2]byte{0x10, 0x13} {
		t.Errorf("V1 data commands = %#02x, want 0x10/0x13", v1)
	}
	if v2 != [2]byte{0x24, 0x26} {
		t.Errorf("V2 data commands = %#02x, want 0x24/0x26", v2)
	}
	for _, a := range v1 {
		for _, b := range v2 {
			if a == b {
				t.Errorf("data command %#02x shared between revisions", a)
			}
		}
	}
}

func TestBusyPolarityInverted(t *testing.T) {
	if idleLevel(V1) == idleLevel(V2) {
		t.Fatal("V1 and V2 must use opposite BUSY idle levels")
	}
	if !idleLevel(V1) {
		t.Error("V1 BUSY is active low, idle must be High")
	}
}

func TestOpcodeMissingPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for an operation V2 does not define")
		}
	}()
	opcode(V2, powerOn)
}

func TestOpString(t *testing.T) {
	if got := displayRefresh.String(); got != "display-refresh" {
		t.Errorf("String() = %q", got)
	}
	if got := op(200).String(); got != "op(200)" {
		t.Errorf("String() = %q", got)
	}
}
