package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/esptoolgo/esptool/internal/config"
	"github.com/esptoolgo/esptool/internal/espimage"
	"github.com/esptoolgo/esptool/internal/flasher"
	"github.com/esptoolgo/esptool/internal/transport"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port       string
		baud       int
		offsetStr  string
		chipFlag   string
		verbose    bool
		rawBackend bool
		listPorts  bool
		infoOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "esp_flash <file>",
		Short: "Flash a prebuilt ESP32 firmware image over a serial line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if listPorts {
				return runListPorts()
			}

			opts := []config.Option{
				config.WithVerbose(verbose),
			}
			if port != "" {
				opts = append(opts, config.WithPort(port))
			}
			if cmd.Flags().Changed("baud") {
				opts = append(opts, config.WithBaudRate(baud))
			}
			if rawBackend {
				opts = append(opts, config.WithRawBackend())
			}
			if chipFlag != "" {
				chip, ok := espimage.ParseChipID(chipFlag)
				if !ok {
					return fmt.Errorf("unsupported --chip %q", chipFlag)
				}
				opts = append(opts, config.WithChip(chip))
			}
			cfg := config.New(opts...)
			if cfg.Port == "" {
				return fmt.Errorf("no serial port given: pass --port or set ESP_PORT")
			}

			if infoOnly {
				return runInfo(cfg)
			}

			if len(args) != 1 {
				return fmt.Errorf("expected exactly one firmware image argument")
			}
			filePath := args[0]
			if strings.ToLower(filepath.Ext(filePath)) == ".elf" {
				return fmt.Errorf("%s looks like an ELF file; run esp_mkbin first", filePath)
			}

			if offsetStr == "" {
				return fmt.Errorf("--offset is required")
			}
			offset, err := parseHexOffset(offsetStr)
			if err != nil {
				return err
			}
			cfg.FlashOffset = offset

			return runFlash(cfg, filePath)
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "serial device, e.g. /dev/ttyUSB0")
	cmd.Flags().IntVar(&baud, "baud", config.DefaultBaudRate, "baud rate")
	cmd.Flags().StringVar(&offsetStr, "offset", "", "flash write offset, hex")
	cmd.Flags().StringVar(&chipFlag, "chip", "ESP32C3", "target chip")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging and hex packet traces")
	cmd.Flags().BoolVar(&rawBackend, "raw-backend", false, "use the termios-syscall transport backend (Linux only)")
	cmd.Flags().BoolVar(&listPorts, "list-ports", false, "list available serial ports and exit")
	cmd.Flags().BoolVar(&infoOnly, "info", false, "connect, identify the chip, and exit without flashing")

	return cmd
}

func parseHexOffset(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid --offset %q: %w", s, err)
	}
	return uint32(v), nil
}

func runListPorts() error {
	ports, err := transport.ListPorts()
	if err != nil {
		return fmt.Errorf("listing ports: %w", err)
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}

func runInfo(cfg *config.Flash) error {
	port, err := transport.OpenWithBackend(cfg.Port, cfg.BaudRate, cfg.Backend, cfg.Logger)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Port, err)
	}
	defer port.Close()

	f := flasher.New(port, flasher.WithLogger(cfg.Logger))
	name, err := f.Connect()
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}

	fmt.Printf("port: %s\nbaud: %d\nchip: %s\n", port.PortName(), port.BaudRate(), name)
	return nil
}

func runFlash(cfg *config.Flash, filePath string) error {
	info, err := os.Stat(filePath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", filePath, err)
	}

	src, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filePath, err)
	}
	defer src.Close()

	port, err := transport.OpenWithBackend(cfg.Port, cfg.BaudRate, cfg.Backend, cfg.Logger)
	if err != nil {
		return fmt.Errorf("opening %s: %w", cfg.Port, err)
	}
	defer port.Close()

	bar := progressbar.NewOptions(int(info.Size()),
		progressbar.OptionSetDescription("Flashing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionThrottle(100),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	f := flasher.New(port,
		flasher.WithLogger(cfg.Logger),
		flasher.WithProgress(func(p flasher.Progress) {
			bar.Set(p.BytesWritten)
		}),
	)

	chipName, err := f.Connect()
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	fmt.Printf("connected to %s\n", chipName)

	if err := f.Flash(src, int(info.Size()), cfg.FlashOffset, cfg.Chip); err != nil {
		return fmt.Errorf("flashing: %w", err)
	}

	fmt.Println("done")
	return nil
}
