// Package hw opens the SPI port and GPIO lines of a Raspberry Pi style host
// with periph.io and hands them to the epd driver.
package hw

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"epd4in2b/internal/config"
	"epd4in2b/internal/epd"
	appLog "epd4in2b/internal/log"
)

// Panel owns the SPI port backing an epd.Dev.
type Panel struct {
	*epd.Dev

	port spi.PortCloser
}

// Open initializes periph.io, connects the SPI port and control lines named
// in cfg, then resets and initializes the panel.
func Open(cfg *config.Config) (*Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hw: periph host init failed: %w", err)
	}

	port, err := spireg.Open(cfg.SPI.Port)
	if err != nil {
		return nil, fmt.Errorf("hw: failed to open SPI port %q: %w", cfg.SPI.Port, err)
	}
	conn, err := port.Connect(physic.Frequency(cfg.SPI.Hz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("hw: failed to connect SPI: %w", err)
	}

	dc, err := outputPin(cfg.Pins.DC, gpio.Low)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	rst, err := outputPin(cfg.Pins.RST, gpio.High)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	busy, err := inputPin(cfg.Pins.Busy)
	if err != nil {
		_ = port.Close()
		return nil, err
	}

	appLog.Info("panel wiring",
		"spi", port.String(),
		"hz", cfg.SPI.Hz,
		"dc", dc.Name(),
		"rst", rst.Name(),
		"busy", busy.Name(),
	)

	opts := Opts(cfg)
	dev, err := epd.New(conn, epd.PinInput(busy), dc, rst, epd.HostDelay{}, &opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	return &Panel{Dev: dev, port: port}, nil
}

// Opts maps the panel section of cfg onto driver options.
func Opts(cfg *config.Config) epd.Opts {
	return epd.Opts{
		Revision:     cfg.Revision(),
		BusyTimeout:  cfg.Panel.BusyTimeout,
		PollInterval: cfg.Panel.PollInterval,
	}
}

// Close releases the SPI port. Pins need no explicit release.
func (p *Panel) Close() error {
	return p.port.Close()
}

func outputPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: gpio %s not found", name)
	}
	if err := p.Out(initial); err != nil {
		return nil, fmt.Errorf("hw: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

func inputPin(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: gpio %s not found", name)
	}
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("hw: gpio %s In failed: %w", name, err)
	}
	return p, nil
}
