// Package config loads the device configuration: a YAML file, then POV_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"github.com/coreman2200/povpoi/internal/display"
	"github.com/coreman2200/povpoi/internal/layout"
)

type Display struct {
	NumLEDs      int  `yaml:"num_leds"`
	DisplayStart int  `yaml:"display_start"`
	DisplayCount int  `yaml:"display_count"`
	Flip         bool `yaml:"flip"`
}

type SPI struct {
	Dev     string `yaml:"dev"`      // spireg name, "" for the first port
	SpeedHz int    `yaml:"speed_hz"` // NRZ only
}

type Serial struct {
	Dev  string `yaml:"dev"` // e.g. /dev/ttyAMA0, "" disables the link
	Baud int    `yaml:"baud"`
}

type PowerCfg struct {
	LimitMA float64 `yaml:"limit_ma"`
	ChanMA  float64 `yaml:"chan_ma"`
}

type Storage struct {
	Dir string `yaml:"dir"` // "" keeps images in memory only
}

type Preview struct {
	Addr string `yaml:"addr"` // "" disables the preview server
}

type Config struct {
	Driver      string `yaml:"driver"` // "apa102" | "ws2812" | "console" | "sim"
	Brightness  uint8  `yaml:"brightness"`
	FrameMS     int    `yaml:"frame_ms"`
	AutoCycleMS int    `yaml:"auto_cycle_ms"`
	TimeoutMS   int    `yaml:"timeout_ms"`
	LogLevel    string `yaml:"log_level"`
	SelfTest    bool   `yaml:"self_test"`

	Display Display  `yaml:"display"`
	SPI     SPI      `yaml:"spi,omitempty"`
	Power   PowerCfg `yaml:"power"`
	Serial  Serial   `yaml:"serial"`
	BLE     Serial   `yaml:"ble"`
	Storage Storage  `yaml:"storage"`
	Preview Preview  `yaml:"preview"`
}

// Default is the 32-LED APA102 poi with the wired link on the Pi UART and
// the wireless module on a USB serial adapter.
func Default() *Config {
	return &Config{
		Driver:      "apa102",
		Brightness:  display.DefaultBrightness,
		FrameMS:     int(display.DefaultFramePeriod / time.Millisecond),
		AutoCycleMS: int(display.DefaultAutoCycle / time.Millisecond),
		TimeoutMS:   1000,
		LogLevel:    "info",
		SelfTest:    true,
		Display: Display{
			NumLEDs:      layout.Default.NumLEDs,
			DisplayStart: layout.Default.DisplayStart,
			DisplayCount: layout.Default.DisplayCount,
			Flip:         layout.Default.Flip,
		},
		Power:  PowerCfg{ChanMA: 20},
		Serial: Serial{Baud: 115200},
		BLE:    Serial{Baud: 115200},
	}
}

// Load reads path over the defaults. A missing path yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	c := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := c.applyEnv(); err != nil {
		return nil, err
	}
	return c, c.Validate()
}

func Save(path string, c *Config) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// overrides is the flat view of Config the environment can change. Unset
// variables leave the loaded value alone.
type overrides struct {
	Driver     string  `env:"POV_DRIVER"`
	Brightness uint    `env:"POV_BRIGHTNESS"`
	FrameMS    int     `env:"POV_FRAME_MS"`
	LogLevel   string  `env:"POV_LOG_LEVEL"`
	SelfTest   bool    `env:"POV_SELF_TEST"`
	NumLEDs    int     `env:"POV_NUM_LEDS"`
	Flip       bool    `env:"POV_FLIP"`
	SPIDev     string  `env:"POV_SPI_DEV"`
	LimitMA    float64 `env:"POV_POWER_LIMIT_MA"`
	SerialDev  string  `env:"POV_SERIAL_DEV"`
	SerialBaud int     `env:"POV_SERIAL_BAUD"`
	BLEDev     string  `env:"POV_BLE_DEV"`
	StorageDir string  `env:"POV_STORAGE_DIR"`
	Preview    string  `env:"POV_PREVIEW_ADDR"`
}

func (c *Config) applyEnv() error {
	o := overrides{
		Driver:     c.Driver,
		Brightness: uint(c.Brightness),
		FrameMS:    c.FrameMS,
		LogLevel:   c.LogLevel,
		SelfTest:   c.SelfTest,
		NumLEDs:    c.Display.NumLEDs,
		Flip:       c.Display.Flip,
		SPIDev:     c.SPI.Dev,
		LimitMA:    c.Power.LimitMA,
		SerialDev:  c.Serial.Dev,
		SerialBaud: c.Serial.Baud,
		BLEDev:     c.BLE.Dev,
		StorageDir: c.Storage.Dir,
		Preview:    c.Preview.Addr,
	}
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	if o.Brightness > 255 {
		o.Brightness = 255
	}
	if o.NumLEDs != c.Display.NumLEDs {
		// a new strip length keeps the reserved prefix and shows the rest
		c.Display.DisplayCount = o.NumLEDs - c.Display.DisplayStart
	}
	c.Driver = o.Driver
	c.Brightness = uint8(o.Brightness)
	c.FrameMS = o.FrameMS
	c.LogLevel = o.LogLevel
	c.SelfTest = o.SelfTest
	c.Display.NumLEDs = o.NumLEDs
	c.Display.Flip = o.Flip
	c.SPI.Dev = o.SPIDev
	c.Power.LimitMA = o.LimitMA
	c.Serial.Dev = o.SerialDev
	c.Serial.Baud = o.SerialBaud
	c.BLE.Dev = o.BLEDev
	c.Storage.Dir = o.StorageDir
	c.Preview.Addr = o.Preview
	return nil
}

// Validate rejects values no component can run with.
func (c *Config) Validate() error {
	switch c.Driver {
	case "apa102", "ws2812", "console", "sim":
	default:
		return fmt.Errorf("config: unknown driver %q", c.Driver)
	}
	if c.Display.NumLEDs <= 0 {
		return fmt.Errorf("config: display.num_leds must be positive, got %d", c.Display.NumLEDs)
	}
	if c.FrameMS <= 0 {
		return fmt.Errorf("config: frame_ms must be positive, got %d", c.FrameMS)
	}
	return nil
}

// Layout is the strip mapping described by the display section.
func (c *Config) Layout() layout.Layout {
	return layout.Layout{
		NumLEDs:      c.Display.NumLEDs,
		DisplayStart: c.Display.DisplayStart,
		DisplayCount: c.Display.DisplayCount,
		Flip:         c.Display.Flip,
	}.Normalize()
}

func (c *Config) FramePeriod() time.Duration { return time.Duration(c.FrameMS) * time.Millisecond }
func (c *Config) AutoCycle() time.Duration   { return time.Duration(c.AutoCycleMS) * time.Millisecond }
func (c *Config) Timeout() time.Duration     { return time.Duration(c.TimeoutMS) * time.Millisecond }
