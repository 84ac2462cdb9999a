// Package config holds the functional-options configuration shared by the
// two CLIs, plus environment-variable fallbacks for the serial port and
// baud rate.
package config

import (
	"github.com/xyproto/env/v2"

	"github.com/esptoolgo/esptool/internal/espimage"
	"github.com/esptoolgo/esptool/internal/logging"
	"github.com/esptoolgo/esptool/internal/transport"
)

// DefaultBaudRate is used when neither --baud nor ESP_BAUD is set.
const DefaultBaudRate = 115200

// Flash holds the resolved settings for one flash operation.
type Flash struct {
	Port        string
	BaudRate    int
	FlashOffset uint32
	Chip        espimage.ChipID
	Backend     transport.Backend
	Verbose     bool
	Logger      logging.Logger
}

// Option mutates a Flash configuration.
type Option func(*Flash)

// WithPort overrides the port, otherwise taken from ESP_PORT by New.
func WithPort(port string) Option {
	return func(f *Flash) { f.Port = port }
}

// WithBaudRate overrides the baud rate, otherwise taken from ESP_BAUD (or
// DefaultBaudRate) by New.
func WithBaudRate(baud int) Option {
	return func(f *Flash) { f.BaudRate = baud }
}

// WithChip sets the target chip.
func WithChip(chip espimage.ChipID) Option {
	return func(f *Flash) { f.Chip = chip }
}

// WithFlashOffset sets the flash write offset.
func WithFlashOffset(offset uint32) Option {
	return func(f *Flash) { f.FlashOffset = offset }
}

// WithRawBackend selects the termios-syscall transport backend instead of
// the portable default.
func WithRawBackend() Option {
	return func(f *Flash) { f.Backend = transport.BackendRaw }
}

// WithVerbose enables debug-level logging and hex packet traces.
func WithVerbose(verbose bool) Option {
	return func(f *Flash) {
		f.Verbose = verbose
		f.Logger = logging.NewStandard(verbose)
	}
}

// New resolves a Flash configuration, applying ESP_PORT/ESP_BAUD
// environment fallbacks before the supplied options so explicit flags still
// win.
func New(opts ...Option) *Flash {
	f := &Flash{
		Port:     env.Str("ESP_PORT", ""),
		BaudRate: env.Int("ESP_BAUD", DefaultBaudRate),
		Chip:     espimage.ChipESP32C3,
		Logger:   logging.Nop{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}
