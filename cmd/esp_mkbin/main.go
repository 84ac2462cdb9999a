package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/esptoolgo/esptool/internal/elf"
	"github.com/esptoolgo/esptool/internal/espimage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		elfPath    string
		outputPath string
		chipFlag   string
		flashParam string
		verbose    bool
	)

	cmd := &cobra.Command{
		Use:   "esp_mkbin",
		Short: "Convert an ELF executable into an ESP32 firmware image",
		RunE: func(cmd *cobra.Command, args []string) error {
			chip, ok := espimage.ParseChipID(chipFlag)
			if !ok {
				return fmt.Errorf("unsupported --chip %q", chipFlag)
			}
			if strings.ToLower(filepath.Ext(elfPath)) == ".bin" {
				return fmt.Errorf("%s looks like a prebuilt image, not an ELF file", elfPath)
			}

			src, err := os.Open(elfPath)
			if err != nil {
				return fmt.Errorf("opening %s: %w", elfPath, err)
			}
			defer src.Close()

			f, err := elf.Parse(src)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", elfPath, err)
			}

			if verbose {
				f.Dump(os.Stderr)
				if flashParam != "" {
					fmt.Fprintf(os.Stderr, "flash-param: %s (applied at flash time, not baked into the image)\n", flashParam)
				}
			}

			image, err := espimage.Build(src, f, chip)
			if err != nil {
				return fmt.Errorf("building image: %w", err)
			}

			if err := os.WriteFile(outputPath, image, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", outputPath, err)
			}

			fmt.Printf("wrote %s (%d bytes, %d segments, chip %s)\n", outputPath, len(image), image[1], chip)
			return nil
		},
	}

	cmd.Flags().StringVar(&elfPath, "file", "", "input ELF executable")
	cmd.Flags().StringVar(&outputPath, "output", "", "output image path")
	cmd.Flags().StringVar(&chipFlag, "chip", "", "target chip: ESP32, ESP32S2, ESP32C3, ESP32S3, ESP32C2")
	cmd.Flags().StringVar(&flashParam, "flash-param", "", "flash mode/size/freq string, informational only")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "dump the parsed ELF structure to stderr")
	cmd.MarkFlagRequired("file")
	cmd.MarkFlagRequired("output")
	cmd.MarkFlagRequired("chip")

	return cmd
}
