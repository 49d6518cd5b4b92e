package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// op is a logical controller operation. The byte sent on the wire depends on
// the chip revision and is resolved through revisionTable.
type op uint8

const (
	panelSetting op = iota
	powerOff
	powerOn
	boosterSoftStart
	deepSleep
	dataStartTransmission1 // black plane
	dataStartTransmission2 // red plane
	displayRefresh
	resolutionSetting
	vcomDataInterval
	swReset
	borderWaveform
	tempSensorSelect
	dataEntryMode
	displayUpdateControl2
	masterActivation
	ramXWindow
	ramYWindow
	ramXCounter
	ramYCounter
)

var opNames = [...]string{
	panelSetting:           "panel-setting",
	powerOff:               "power-off",
	powerOn:                "power-on",
	boosterSoftStart:       "booster-soft-start",
	deepSleep:              "deep-sleep",
	dataStartTransmission1: "data-start-transmission-1",
	dataStartTransmission2: "data-start-transmission-2",
	displayRefresh:         "display-refresh",
	resolutionSetting:      "resolution-setting",
	vcomDataInterval:       "vcom-data-interval",
	swReset:                "sw-reset",
	borderWaveform:         "border-waveform",
	tempSensorSelect:       "temp-sensor-select",
	dataEntryMode:          "data-entry-mode",
	displayUpdateControl2:  "display-update-control-2",
	masterActivation:       "master-activation",
	ramXWindow:             "ram-x-window",
	ramYWindow:             "ram-y-window",
	ramXCounter:            "ram-x-counter",
	ramYCounter:            "ram-y-counter",
}

func (o op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// revisionTable holds everything that differs between chip revisions.
type revisionTable struct {
	// idle is the busy line level that means the controller accepts commands.
	idle gpio.Level
	// opcodes maps the operations this revision uses to wire bytes.
	opcodes map[op]byte
}

var revisionTables = map[Revision]*revisionTable{
	// UC8176 style command set, BUSY is active low.
	V1: {
		idle: gpio.High,
		opcodes: map[op]byte{
			panelSetting:           0x00,
			powerOff:               0x02,
			powerOn:                0x04,
			boosterSoftStart:       0x06,
			deepSleep:              0x07,
			dataStartTransmission1: 0x10,
			displayRefresh:         0x12,
			dataStartTransmission2: 0x13,
			vcomDataInterval:       0x50,
			resolutionSetting:      0x61,
		},
	},
	// SSD1683 style command set, BUSY is active high.
	V2: {
		idle: gpio.Low,
		opcodes: map[op]byte{
			deepSleep:              0x10,
			dataEntryMode:          0x11,
			swReset:                0x12,
			tempSensorSelect:       0x18,
			masterActivation:       0x20,
			displayUpdateControl2:  0x22,
			dataStartTransmission1: 0x24,
			dataStartTransmission2: 0x26,
			borderWaveform:         0x3C,
			ramXWindow:             0x44,
			ramYWindow:             0x45,
			ramXCounter:            0x4E,
			ramYCounter:            0x4F,
		},
	},
}

// opcode returns the wire byte for o on revision r. A missing entry is a
// programming error in the sequences below, not a runtime condition.
func opcode(r Revision, o op) byte {
	t, ok := revisionTables[r]
	if !ok {
		panic(fmt.Sprintf("epd: no command table for revision %v", r))
	}
	b, ok := t.opcodes[o]
	if !ok {
		panic(fmt.Sprintf("epd: %v has no opcode for %v", r, o))
	}
	return b
}

// idleLevel returns the busy line level at which r is ready for commands.
func idleLevel(r Revision) gpio.Level {
	return revisionTables[r].idle
}

// step is one entry of a revision's command sequence.
type step struct {
	op   op
	data []byte
	// waitBefore / waitAfter request a busy-wait around the command.
	waitBefore bool
	waitAfter  bool
	// pause is a fixed delay between the command and waitAfter.
	pause time.Duration
}

// Init sequences. Both follow reset -> power -> booster/window ->
// resolution -> VCOM/border -> wait idle.
var initSequences = map[Revision][]step{
	V1: {
		{op: powerOn, waitAfter: true},
		{op: panelSetting, data: []byte{0x0F}},
		{op: boosterSoftStart, data: []byte{0x17, 0x17, 0x17}},
		{op: resolutionSetting, data: []byte{
			byte(Width >> 8), byte(Width & 0xFF),
			byte(Height >> 8), byte(Height & 0xFF),
		}},
		{op: vcomDataInterval, data: []byte{0x77}, waitAfter: true},
	},
	V2: {
		{op: swReset, waitBefore: true, waitAfter: true},
		{op: borderWaveform, data: []byte{0x05}},
		{op: tempSensorSelect, data: []byte{0x80}},
		{op: dataEntryMode, data: []byte{0x03}},
		{op: ramXWindow, data: []byte{0x00, Width/8 - 1}},
		{op: ramYWindow, data: []byte{0x00, 0x00, (Height - 1) % 256, (Height - 1) / 256}},
		{op: ramXCounter, data: []byte{0x00}},
		{op: ramYCounter, data: []byte{0x00, 0x00}, waitAfter: true},
	},
}

var refreshSequences = map[Revision][]step{
	V1: {
		{op: displayRefresh, pause: 100 * time.Millisecond, waitAfter: true},
	},
	V2: {
		{op: displayUpdateControl2, data: []byte{0xF7}},
		{op: masterActivation, waitAfter: true},
	},
}

var sleepSequences = map[Revision][]step{
	V1: {
		{op: vcomDataInterval, data: []byte{0xF7}},
		{op: powerOff, waitAfter: true},
		{op: deepSleep, data: []byte{0xA5}},
	},
	V2: {
		{op: deepSleep, data: []byte{0x03}},
	},
}
