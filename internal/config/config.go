package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"epd4in2b/internal/epd"
	appLog "epd4in2b/internal/log"
)

// NOTE: Load creates a default config on first run with 0600 permissions;
// Save always writes atomically.

// PanelConfig selects the controller revision and busy-wait budget.
type PanelConfig struct {
	// Revision is "v1", "v2", or empty for the default (v1). The panel is
	// never probed, so a wrong value shows up as a busy timeout at startup.
	Revision string `yaml:"revision"`

	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// SleepAfterRefresh puts the panel into deep sleep after every render
	// cycle and wakes it before the next one.
	SleepAfterRefresh bool `yaml:"sleep_after_refresh"`
}

// SPIConfig describes the SPI port as known to periph.io.
type SPIConfig struct {
	// Port is a periph.io port name such as "SPI0.0"; empty picks the first.
	Port string `yaml:"port"`
	Hz   int64  `yaml:"hz"`
}

// PinsConfig holds periph.io GPIO names for the control lines.
type PinsConfig struct {
	DC   string `yaml:"dc"`
	RST  string `yaml:"rst"`
	Busy string `yaml:"busy"`
}

// SourceConfig selects what gets drawn on every refresh. URL wins over Image
// when both are set.
type SourceConfig struct {
	Image string `yaml:"image"`
	URL   string `yaml:"url"`
	// ReadySelector, if set, is waited for before a URL is captured.
	ReadySelector  string        `yaml:"ready_selector"`
	CaptureTimeout time.Duration `yaml:"capture_timeout"`
	Dither         bool          `yaml:"dither"`
	Rotate         int           `yaml:"rotate"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the status server.
type BasicAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`

	// Listen is the HTTP address of the status and preview server. Empty
	// disables it.
	Listen string `yaml:"listen"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty"`

	// Refresh is a cron spec (robfig/cron, five fields) for periodic redraws.
	Refresh string `yaml:"refresh"`

	Panel  PanelConfig  `yaml:"panel"`
	SPI    SPIConfig    `yaml:"spi"`
	Pins   PinsConfig   `yaml:"pins"`
	Source SourceConfig `yaml:"source"`
}

// Defaults match the Waveshare HAT wiring on a Raspberry Pi.
const (
	defaultListen         = "127.0.0.1:8080"
	defaultRefresh        = "*/30 * * * *"
	defaultSPIHz          = 4_000_000
	defaultDC             = "GPIO25"
	defaultRST            = "GPIO17"
	defaultBusy           = "GPIO24"
	defaultBusyTimeout    = 30 * time.Second
	defaultPollInterval   = 10 * time.Millisecond
	defaultCaptureTimeout = 30 * time.Second
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Listen:   defaultListen,
		Refresh:  defaultRefresh,
		Panel: PanelConfig{
			Revision:          "v1",
			BusyTimeout:       defaultBusyTimeout,
			PollInterval:      defaultPollInterval,
			SleepAfterRefresh: true,
		},
		SPI: SPIConfig{
			Hz: defaultSPIHz,
		},
		Pins: PinsConfig{
			DC:   defaultDC,
			RST:  defaultRST,
			Busy: defaultBusy,
		},
		Source: SourceConfig{
			CaptureTimeout: defaultCaptureTimeout,
		},
	}
}

// Normalize fills in zero values so older or partial files still work.
func (c *Config) Normalize() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.Panel.BusyTimeout <= 0 {
		c.Panel.BusyTimeout = defaultBusyTimeout
	}
	if c.Panel.PollInterval <= 0 {
		c.Panel.PollInterval = defaultPollInterval
	}
	if c.SPI.Hz <= 0 {
		c.SPI.Hz = defaultSPIHz
	}
	if c.Pins.DC == "" {
		c.Pins.DC = defaultDC
	}
	if c.Pins.RST == "" {
		c.Pins.RST = defaultRST
	}
	if c.Pins.Busy == "" {
		c.Pins.Busy = defaultBusy
	}
	if c.Source.CaptureTimeout <= 0 {
		c.Source.CaptureTimeout = defaultCaptureTimeout
	}
}

// Validate reports values that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := epd.ParseRevision(c.Panel.Revision); err != nil {
		errs = append(errs, err)
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.Refresh); err != nil {
		errs = append(errs, fmt.Errorf("config: refresh %q: %w", c.Refresh, err))
	}
	if c.Panel.PollInterval > c.Panel.BusyTimeout {
		errs = append(errs, fmt.Errorf("config: poll_interval %v exceeds busy_timeout %v",
			c.Panel.PollInterval, c.Panel.BusyTimeout))
	}
	if c.Source.Rotate%90 != 0 {
		errs = append(errs, fmt.Errorf("config: rotate %d is not a multiple of 90", c.Source.Rotate))
	}
	return errors.Join(errs...)
}

// Revision returns the parsed panel revision.
func (c *Config) Revision() epd.Revision {
	r, _ := epd.ParseRevision(c.Panel.Revision)
	return r
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is decoded, normalized and validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config: path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path via a temp file in the same directory and a
// rename, leaving the final file with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config: path is empty")
	}
	if cfg == nil {
		return errors.New("config: nil config")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".epd4in2b-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience wrapper around the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
