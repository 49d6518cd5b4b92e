package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"epd4in2b/internal/capture"
	"epd4in2b/internal/config"
	"epd4in2b/internal/convert"
	"epd4in2b/internal/hw"
	appLog "epd4in2b/internal/log"
	"epd4in2b/internal/web"
)

// flagConfig holds CLI flag values; non-empty values override the config file.
type flagConfig struct {
	configPath string
	revision   string
	image      string
	url        string
	clear      bool
	once       bool
	sleep      bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if err := applyFlags(conf, flags); err != nil {
		appLog.Error("invalid flags", err)
		os.Exit(2)
	}
	if lvl, err := appLog.ParseLevel(conf.LogLevel); err == nil {
		appLog.SetLevel(lvl)
	}

	appLog.Info("epd4in2b starting",
		"revision", conf.Revision().String(),
		"spi_port", conf.SPI.Port,
		"refresh", conf.Refresh,
		"image", conf.Source.Image,
		"url", conf.Source.URL,
		"once", flags.once,
	)

	panel, err := hw.Open(conf)
	if err != nil {
		appLog.Error("failed to open panel", err)
		os.Exit(1)
	}
	defer panel.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	r := &runner{panel: panel, conf: conf}

	if conf.Listen != "" && !flags.once && !flags.sleep {
		srv := web.NewServer(conf, r)
		go func() {
			if err := srv.Run(ctx); err != nil {
				appLog.Error("HTTP server stopped", err, "listen", conf.Listen)
			}
		}()
	}

	if flags.clear {
		if err := r.clear(); err != nil {
			appLog.Error("clear failed", err)
			os.Exit(1)
		}
	}
	if flags.sleep {
		if err := r.sleep(); err != nil {
			appLog.Error("sleep failed", err)
			os.Exit(1)
		}
		return
	}

	if conf.Source.Image == "" && conf.Source.URL == "" {
		appLog.Warn("no image or url configured, nothing to draw")
		if err := r.sleep(); err != nil {
			appLog.Error("sleep failed", err)
		}
		return
	}

	if err := r.cycle(ctx); err != nil {
		appLog.Error("render failed", err)
		if flags.once {
			_ = r.sleep()
			os.Exit(1)
		}
	}
	if flags.once {
		if err := r.sleep(); err != nil {
			appLog.Error("sleep failed", err)
		}
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.Refresh, func() {
		if err := r.cycle(ctx); err != nil {
			appLog.Error("render failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.Refresh)
		os.Exit(1)
	}
	sched.Start()
	appLog.Info("scheduler started", "refresh", conf.Refresh)

	<-ctx.Done()

	// Wait for a running cycle before touching the panel again.
	<-sched.Stop().Done()
	if err := r.sleep(); err != nil {
		appLog.Error("sleep failed", err)
	}
	appLog.Info("epd4in2b exiting")
}

// runner serializes access to the panel between the scheduler, the HTTP
// server and main.
type runner struct {
	mu     sync.Mutex
	panel  *hw.Panel
	conf   *config.Config
	asleep bool

	black, red  []byte
	lastRefresh time.Time
	lastErr     error
}

func (r *runner) Status() web.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := web.Status{
		Panel:       r.panel.String(),
		Revision:    r.panel.Revision().String(),
		Asleep:      r.asleep,
		LastRefresh: r.lastRefresh,
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}

func (r *runner) Frame() (black, red []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.black, r.red, r.black != nil
}

func (r *runner) Refresh(ctx context.Context) error {
	return r.cycle(ctx)
}

func (r *runner) clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	appLog.Info("clearing panel")
	return r.panel.ClearFrame()
}

func (r *runner) sleep() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sleepLocked()
}

func (r *runner) sleepLocked() error {
	if err := r.panel.Sleep(); err != nil {
		return err
	}
	r.asleep = true
	return nil
}

// cycle renders the configured source and pushes it to the panel.
func (r *runner) cycle(ctx context.Context) error {
	black, red, err := r.render(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err == nil {
		err = r.display(black, red)
	}
	r.lastErr = err
	if err == nil {
		r.black, r.red = black, red
		r.lastRefresh = time.Now()
	}
	return err
}

func (r *runner) display(black, red []byte) error {
	if r.asleep {
		if err := r.panel.WakeUp(); err != nil {
			return fmt.Errorf("wake: %w", err)
		}
		r.asleep = false
	}
	if err := r.panel.UpdateAndDisplayFrame(black, red); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	appLog.Info("frame displayed", "panel", r.panel.String())

	if r.conf.Panel.SleepAfterRefresh {
		if err := r.sleepLocked(); err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
	}
	return nil
}

func (r *runner) render(ctx context.Context) (black, red []byte, err error) {
	src := r.conf.Source
	opts := convert.Options{Rotate: src.Rotate, Dither: src.Dither}

	if src.URL != "" {
		png, err := capture.CapturePNG(ctx, capture.Options{
			URL:           src.URL,
			ReadySelector: src.ReadySelector,
			Timeout:       src.CaptureTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		return convert.PackBytes(png, opts)
	}
	return convert.PackFile(src.Image, opts)
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epd4in2b/config.yaml", "Path to config file")
	flag.StringVar(&cfg.revision, "revision", "", "Controller revision v1|v2 (overrides config if set)")
	flag.StringVar(&cfg.image, "image", "", "Image file to display (overrides config if set)")
	flag.StringVar(&cfg.url, "url", "", "Page URL to capture and display (overrides config if set)")
	flag.BoolVar(&cfg.clear, "clear", false, "Clear the panel to white before drawing")
	flag.BoolVar(&cfg.once, "once", false, "Run one render+display cycle and exit")
	flag.BoolVar(&cfg.sleep, "sleep", false, "Put the panel into deep sleep and exit")

	flag.Parse()

	return cfg
}

func applyFlags(conf *config.Config, f flagConfig) error {
	if f.revision != "" {
		conf.Panel.Revision = f.revision
	}
	if f.image != "" {
		conf.Source.Image = f.image
		conf.Source.URL = ""
	}
	if f.url != "" {
		conf.Source.URL = f.url
	}
	return conf.Validate()
}
