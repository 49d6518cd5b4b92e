// Package epd drives the Waveshare 4.2" (B) V2 tri-color e-paper panel
// (400x300, black/white/red) over SPI plus DC, RST and BUSY lines.
//
// The module ships with one of two controller revisions that do not share a
// command set or a BUSY polarity. The revision is chosen when the Dev is
// created and never changes; there is no probing of the hardware.
//
// Typical use:
//
//	d, err := epd.New(conn, epd.PinInput(busy), dc, rst, epd.HostDelay{}, nil)
//	if err != nil { ... }
//	if err := d.UpdateColorFrame(black, red); err != nil { ... }
//	if err := d.DisplayFrame(); err != nil { ... }
//	if err := d.Sleep(); err != nil { ... }
package epd

import (
	"errors"
	"fmt"
	"image"
	"time"

	"periph.io/x/conn/v3/gpio"

	appLog "epd4in2b/internal/log"
)

// Panel geometry.
const (
	Width  = 400
	Height = 300
	// BufferLen is the size in bytes of one packed 1bpp plane.
	BufferLen = (Width + 7) / 8 * Height
)

// Wire level fill values used when a plane is not supplied by the caller.
const (
	fillWhite byte = 0xFF // black plane, no ink
	fillNoRed byte = 0x00 // red plane after inversion, no ink
)

// maxChunk bounds a single Tx; spidev rejects larger transfers by default.
const maxChunk = 4096

// Delay after the deep sleep command before the panel may be unpowered.
const sleepSettle = 2 * time.Second

// Revision identifies the controller chip revision.
type Revision uint8

const (
	// RevisionDefault selects V1. It does not detect the chip.
	RevisionDefault Revision = iota
	// V1 uses commands 0x10/0x13 for the planes and an active-low BUSY.
	V1
	// V2 uses commands 0x24/0x26 for the planes and an active-high BUSY.
	V2
)

func (r Revision) String() string {
	switch r {
	case RevisionDefault:
		return "default"
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("Revision(%d)", uint8(r))
	}
}

// ParseRevision accepts "v1", "v2", "1", "2", or "" / "default" / "auto"
// which all mean RevisionDefault.
func ParseRevision(s string) (Revision, error) {
	switch s {
	case "", "default", "auto":
		return RevisionDefault, nil
	case "v1", "V1", "1":
		return V1, nil
	case "v2", "V2", "2":
		return V2, nil
	}
	return RevisionDefault, fmt.Errorf("epd: unknown revision %q", s)
}

// Bus writes bytes to the controller. periph.io's spi.Conn satisfies it.
type Bus interface {
	Tx(w, r []byte) error
}

// OutputLine drives DC or RST. periph.io's gpio.PinOut satisfies it.
type OutputLine interface {
	Out(l gpio.Level) error
}

// InputLine reads BUSY.
type InputLine interface {
	Level() (gpio.Level, error)
}

// Delay blocks the caller for d.
type Delay interface {
	Sleep(d time.Duration)
}

// HostDelay sleeps with time.Sleep.
type HostDelay struct{}

func (HostDelay) Sleep(d time.Duration) { time.Sleep(d) }

type pinInput struct {
	p gpio.PinIn
}

// PinInput adapts a periph.io input pin to InputLine.
func PinInput(p gpio.PinIn) InputLine {
	return pinInput{p: p}
}

func (in pinInput) Level() (gpio.Level, error) {
	return in.p.Read(), nil
}

// Opts configures a Dev. The zero value of each field selects its default.
type Opts struct {
	Revision Revision
	// BusyTimeout bounds every wait on the BUSY line.
	BusyTimeout time.Duration
	// PollInterval is the delay between two BUSY reads.
	PollInterval time.Duration
}

// DefaultOpts are used when New is given nil.
var DefaultOpts = Opts{
	Revision:     RevisionDefault,
	BusyTimeout:  30 * time.Second,
	PollInterval: 10 * time.Millisecond,
}

type state uint8

const (
	stateUninitialized state = iota
	stateInitializing
	stateIdle
	stateTransferring
	stateRefreshing
	stateSleeping
)

var stateNames = [...]string{
	stateUninitialized: "uninitialized",
	stateInitializing:  "initializing",
	stateIdle:          "idle",
	stateTransferring:  "transferring",
	stateRefreshing:    "refreshing",
	stateSleeping:      "sleeping",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Dev is a handle to one physical panel. It is not safe for concurrent use.
type Dev struct {
	bus   Bus
	busy  InputLine
	dc    OutputLine
	rst   OutputLine
	delay Delay

	rev     Revision
	timeout time.Duration
	poll    time.Duration

	state state
}

// New resets the panel and runs the init sequence for the selected revision.
// A nil delay uses HostDelay and nil opts uses DefaultOpts.
func New(bus Bus, busy InputLine, dc, rst OutputLine, delay Delay, opts *Opts) (*Dev, error) {
	if bus == nil || busy == nil || dc == nil || rst == nil {
		return nil, errors.New("epd: bus, busy, dc and rst are required")
	}
	if delay == nil {
		delay = HostDelay{}
	}
	o := DefaultOpts
	if opts != nil {
		o = *opts
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultOpts.BusyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultOpts.PollInterval
	}

	rev := o.Revision
	if rev == RevisionDefault {
		rev = V1
	}
	if _, ok := revisionTables[rev]; !ok {
		return nil, fmt.Errorf("epd: unsupported revision %v", rev)
	}

	d := &Dev{
		bus:     bus,
		busy:    busy,
		dc:      dc,
		rst:     rst,
		delay:   delay,
		rev:     rev,
		timeout: o.BusyTimeout,
		poll:    o.PollInterval,
	}
	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

// Revision returns the resolved chip revision (never RevisionDefault).
func (d *Dev) Revision() Revision {
	return d.rev
}

// Bounds returns the panel rectangle.
func (d *Dev) Bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

func (d *Dev) String() string {
	return fmt.Sprintf("epd.Dev{%v, %dx%d, %v}", d.rev, Width, Height, d.state)
}

// WakeUp resets the panel and re-runs the init sequence. It is the only way
// to leave the sleeping state.
func (d *Dev) WakeUp() error {
	return d.init()
}

// ClearFrame fills both planes with white and refreshes the panel.
func (d *Dev) ClearFrame() error {
	if err := d.awake(); err != nil {
		return err
	}
	if err := d.waitUntilIdle("clear"); err != nil {
		return err
	}

	d.setState(stateTransferring)
	if err := d.fillPlane(dataStartTransmission1, fillWhite); err != nil {
		return err
	}
	if err := d.fillPlane(dataStartTransmission2, fillNoRed); err != nil {
		return err
	}
	d.setState(stateIdle)

	return d.DisplayFrame()
}

// UpdateColorFrame uploads both planes without refreshing. In both planes a
// set bit is white; the red plane is inverted on the way out as the
// controller expects. Both must be BufferLen bytes long.
func (d *Dev) UpdateColorFrame(black, red []byte) error {
	if err := checkPlane("black", black); err != nil {
		return err
	}
	if err := checkPlane("red", red); err != nil {
		return err
	}
	if err := d.beginTransfer("update"); err != nil {
		return err
	}
	if err := d.writePlane(dataStartTransmission1, black); err != nil {
		return err
	}
	if err := d.writeInvertedPlane(dataStartTransmission2, red); err != nil {
		return err
	}
	d.setState(stateIdle)
	return nil
}

// UpdateAchromaticFrame uploads the black plane and blanks the red plane.
func (d *Dev) UpdateAchromaticFrame(black []byte) error {
	if err := checkPlane("black", black); err != nil {
		return err
	}
	if err := d.beginTransfer("update black"); err != nil {
		return err
	}
	if err := d.writePlane(dataStartTransmission1, black); err != nil {
		return err
	}
	if err := d.fillPlane(dataStartTransmission2, fillNoRed); err != nil {
		return err
	}
	d.setState(stateIdle)
	return nil
}

// UpdateChromaticFrame uploads the red plane and blanks the black plane.
func (d *Dev) UpdateChromaticFrame(red []byte) error {
	if err := checkPlane("red", red); err != nil {
		return err
	}
	if err := d.beginTransfer("update red"); err != nil {
		return err
	}
	if err := d.fillPlane(dataStartTransmission1, fillWhite); err != nil {
		return err
	}
	if err := d.writeInvertedPlane(dataStartTransmission2, red); err != nil {
		return err
	}
	d.setState(stateIdle)
	return nil
}

// UpdateAndDisplayFrame is UpdateColorFrame followed by DisplayFrame.
func (d *Dev) UpdateAndDisplayFrame(black, red []byte) error {
	if err := d.UpdateColorFrame(black, red); err != nil {
		return err
	}
	return d.DisplayFrame()
}

// DisplayFrame refreshes the panel from controller RAM and blocks until the
// controller reports idle.
func (d *Dev) DisplayFrame() error {
	if err := d.awake(); err != nil {
		return err
	}
	d.setState(stateRefreshing)
	start := time.Now()
	if err := d.run(refreshSequences[d.rev]); err != nil {
		return err
	}
	d.setState(stateIdle)
	appLog.Debug("epd refresh done", "revision", d.rev, "elapsed", time.Since(start))
	return nil
}

// Sleep powers the panel down. Calling it again while asleep does nothing.
func (d *Dev) Sleep() error {
	if d.state == stateSleeping {
		appLog.Debug("epd already asleep", "revision", d.rev)
		return nil
	}
	if err := d.run(sleepSequences[d.rev]); err != nil {
		return err
	}
	d.delay.Sleep(sleepSettle)
	d.setState(stateSleeping)
	return nil
}

func (d *Dev) init() error {
	d.setState(stateInitializing)
	if err := d.reset(); err != nil {
		return err
	}
	if err := d.run(initSequences[d.rev]); err != nil {
		return err
	}
	d.setState(stateIdle)
	return nil
}

// reset pulses RST low.
func (d *Dev) reset() error {
	for _, s := range []struct {
		level gpio.Level
		hold  time.Duration
	}{
		{gpio.High, 200 * time.Millisecond},
		{gpio.Low, 5 * time.Millisecond},
		{gpio.High, 200 * time.Millisecond},
	} {
		if err := d.rst.Out(s.level); err != nil {
			return &TransportError{Op: "reset line", Err: err}
		}
		d.delay.Sleep(s.hold)
	}
	return nil
}

func (d *Dev) awake() error {
	if d.state == stateSleeping {
		return ErrAsleep
	}
	return nil
}

func (d *Dev) beginTransfer(what string) error {
	if err := d.awake(); err != nil {
		return err
	}
	if err := d.waitUntilIdle(what); err != nil {
		return err
	}
	d.setState(stateTransferring)
	return nil
}

func (d *Dev) setState(s state) {
	if d.state != s {
		appLog.Debug("epd state", "from", d.state, "to", s)
		d.state = s
	}
}

func checkPlane(name string, p []byte) error {
	if len(p) != BufferLen {
		return &BufferLengthError{Plane: name, Got: len(p), Want: BufferLen}
	}
	return nil
}

// run executes a command sequence.
func (d *Dev) run(steps []step) error {
	for _, s := range steps {
		if s.waitBefore {
			if err := d.waitUntilIdle(s.op.String()); err != nil {
				return err
			}
		}
		if err := d.sendCommand(s.op, s.data...); err != nil {
			return err
		}
		if s.pause > 0 {
			d.delay.Sleep(s.pause)
		}
		if s.waitAfter {
			if err := d.waitUntilIdle(s.op.String()); err != nil {
				return err
			}
		}
	}
	return nil
}

// waitUntilIdle polls BUSY until it reads the revision's idle level. It gives
// up after BusyTimeout worth of PollInterval delays.
func (d *Dev) waitUntilIdle(what string) error {
	idle := idleLevel(d.rev)
	polls := int((d.timeout + d.poll - 1) / d.poll)

	for i := 0; ; i++ {
		l, err := d.busy.Level()
		if err != nil {
			return &TransportError{Op: "busy line", Err: err}
		}
		if l == idle {
			if i > 0 {
				appLog.Debug("e-Paper busy release", "op", what, "polls", i)
			}
			return nil
		}
		if i == 0 {
			appLog.Debug("e-Paper busy", "op", what, "revision", d.rev)
		}
		if i >= polls {
			return &TimeoutError{Op: what, Timeout: d.timeout}
		}
		d.delay.Sleep(d.poll)
	}
}

func (d *Dev) sendCommand(o op, data ...byte) error {
	c := opcode(d.rev, o)
	if err := d.dc.Out(gpio.Low); err != nil {
		return &TransportError{Op: "dc line", Err: err}
	}
	if err := d.bus.Tx([]byte{c}, nil); err != nil {
		return &TransportError{Op: fmt.Sprintf("command %#02x (%v)", c, o), Err: err}
	}
	if len(data) == 0 {
		return nil
	}
	return d.sendData(o, data)
}

// sendData writes payload bytes for o in chunks of at most maxChunk bytes.
func (d *Dev) sendData(o op, data []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return &TransportError{Op: "dc line", Err: err}
	}
	for len(data) > 0 {
		n := min(len(data), maxChunk)
		if err := d.bus.Tx(data[:n], nil); err != nil {
			return &TransportError{Op: fmt.Sprintf("data for %v", o), Err: err}
		}
		data = data[n:]
	}
	return nil
}

func (d *Dev) writePlane(o op, plane []byte) error {
	return d.sendCommand(o, plane...)
}

func (d *Dev) writeInvertedPlane(o op, plane []byte) error {
	if err := d.sendCommand(o); err != nil {
		return err
	}
	buf := make([]byte, min(len(plane), maxChunk))
	for off := 0; off < len(plane); off += len(buf) {
		n := min(len(plane)-off, len(buf))
		for i := 0; i < n; i++ {
			buf[i] = ^plane[off+i]
		}
		if err := d.sendData(o, buf[:n]); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dev) fillPlane(o op, b byte) error {
	if err := d.sendCommand(o); err != nil {
		return err
	}
	buf := make([]byte, min(BufferLen, maxChunk))
	for i := range buf {
		buf[i] = b
	}
	for left := BufferLen; left > 0; left -= len(buf) {
		if err := d.sendData(o, buf[:min(left, len(buf))]); err != nil {
			return err
		}
	}
	return nil
}
