// Package flasher drives the bootloader state machine end to end: sync,
// identify, SPI attach, flash-parameter overlay, and the write sequence
// over a transport.Port.
package flasher

import (
	"fmt"
	"io"
	"time"

	"github.com/esptoolgo/esptool/internal/espimage"
	"github.com/esptoolgo/esptool/internal/logging"
	"github.com/esptoolgo/esptool/internal/protocol"
	"github.com/esptoolgo/esptool/internal/transport"
)

const (
	syncRetries    = 50
	readRegRetries = 50

	flashReadAddr   = 0
	flashReadLength = 16
	readRegAddr     = 0x40001000

	syncTimeout       = 100 * time.Millisecond
	readRegTimeout    = 100 * time.Millisecond
	flashReadTimeout  = 2000 * time.Millisecond
	flashBeginTimeout = 15000 * time.Millisecond
	flashDataTimeout  = 1500 * time.Millisecond
	flashDataRetries  = 1
)

// Phase identifies which step of the flash sequence is in progress, for
// Progress reporting.
type Phase string

const (
	PhaseConnecting Phase = "connecting"
	PhaseErasing    Phase = "erasing"
	PhaseWriting    Phase = "writing"
	PhaseFinishing  Phase = "finishing"
)

// Progress reports flasher state for a ProgressCallback.
type Progress struct {
	Phase          Phase
	PacketsWritten int
	TotalPackets   int
	BytesWritten   int
	TotalBytes     int
}

// ProgressCallback receives Progress updates during Flash.
type ProgressCallback func(Progress)

// Option configures a Flasher.
type Option func(*Flasher)

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) Option {
	return func(f *Flasher) { f.log = log }
}

// WithProgress attaches a progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(f *Flasher) { f.progress = cb }
}

// Flasher drives one flash operation over an already-open transport.Port.
type Flasher struct {
	port     *transport.Port
	log      logging.Logger
	progress ProgressCallback
}

// New builds a Flasher bound to port.
func New(port *transport.Port, opts ...Option) *Flasher {
	f := &Flasher{port: port, log: logging.Nop{}}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flasher) report(p Progress) {
	if f.progress != nil {
		f.progress(p)
	}
}

// Connect runs SYNC and silicon identification, then attaches and
// configures SPI flash. The transport's open-time reset sequence has
// already placed the chip in bootloader mode.
func (f *Flasher) Connect() (chipName string, err error) {
	f.report(Progress{Phase: PhaseConnecting})

	if _, err := f.port.Transceive(protocol.Sync{}, syncRetries, syncTimeout); err != nil {
		return "", fmt.Errorf("flasher: sync: %w", err)
	}
	f.log.Info("synced with bootloader")

	resp, err := f.port.Transceive(protocol.ReadReg{Addr: readRegAddr}, readRegRetries, readRegTimeout)
	if err != nil {
		return "", fmt.Errorf("flasher: identifying chip: %w", err)
	}
	chipName = espimage.SiliconChipName(resp.Value)
	f.log.Info("identified chip", "name", chipName, "register", resp.Value)

	if _, err := f.port.Transceive(protocol.SpiAttach{}, 0, 0); err != nil {
		return "", fmt.Errorf("flasher: spi attach: %w", err)
	}

	if _, err := f.port.Transceive(protocol.DefaultSpiSetParams(), 0, 0); err != nil {
		return "", fmt.Errorf("flasher: spi set params: %w", err)
	}

	return chipName, nil
}

// readOverlay reads the live flash-mode/size/freq byte from flash offset 0,
// so a reflash can preserve the device's existing settings instead of
// overwriting them with the image builder's placeholder zeros. The chip-id
// byte is not read back: it is set from the chip the caller requested, the
// same as the original flasher's set_binary_header<ChipID> writes the
// CLI-selected chip rather than whatever happens to already be in flash.
func (f *Flasher) readOverlay(chip espimage.ChipID) (espimage.Overlay, error) {
	resp, err := f.port.Transceive(protocol.FlashReadSlow{Addr: flashReadAddr, Length: flashReadLength}, 0, flashReadTimeout)
	if err != nil {
		return espimage.Overlay{}, fmt.Errorf("flasher: reading flash parameters: %w", err)
	}
	if len(resp.Payload) < 4 || resp.Payload[0] != 0xE9 {
		return espimage.Overlay{}, fmt.Errorf("flasher: flash read did not return an image header")
	}

	flashSizeFreq := resp.Payload[3]
	return espimage.Overlay{
		FlashMode: resp.Payload[2],
		FlashSize: flashSizeFreq >> 4,
		FlashFreq: flashSizeFreq & 0x0F,
		ChipID:    byte(chip),
	}, nil
}

// Flash writes image, read from source, to flashOffset for the given chip.
// source's total length must be exactly imageSize bytes.
func (f *Flasher) Flash(source io.Reader, imageSize int, flashOffset uint32, chip espimage.ChipID) error {
	overlay, err := f.readOverlay(chip)
	if err != nil {
		return err
	}

	packets := (imageSize + protocol.FlashBlockSize - 1) / protocol.FlashBlockSize

	f.report(Progress{Phase: PhaseErasing, TotalPackets: packets, TotalBytes: imageSize})
	begin := protocol.FlashBegin{
		EraseSize:         uint32(imageSize),
		PacketCount:       uint32(packets),
		DataSizePerPacket: protocol.FlashBlockSize,
		FlashOffset:       flashOffset,
		Encrypted:         0,
	}
	if _, err := f.port.Transceive(begin, 0, flashBeginTimeout); err != nil {
		return fmt.Errorf("flasher: flash begin: %w", err)
	}

	written := 0
	buf := make([]byte, protocol.FlashBlockSize)
	for seq := 0; seq < packets; seq++ {
		n, err := io.ReadFull(source, buf)
		if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
			return fmt.Errorf("flasher: reading packet %d: %w", seq, err)
		}
		chunk := append([]byte(nil), buf[:n]...)

		if seq == 0 {
			overlay.Apply(chunk)
		}

		cmd := protocol.FlashData{Seq: uint32(seq), Data: chunk}
		resp, err := f.port.Transceive(cmd, flashDataRetries, flashDataTimeout)
		if err != nil {
			return fmt.Errorf("flasher: flash data packet %d: %w", seq, err)
		}
		if resp.Command != protocol.CmdFlashData {
			return fmt.Errorf("flasher: flash data packet %d: response echoed command 0x%02X", seq, resp.Command)
		}

		written += n
		f.report(Progress{Phase: PhaseWriting, PacketsWritten: seq + 1, TotalPackets: packets, BytesWritten: written, TotalBytes: imageSize})
	}

	f.report(Progress{Phase: PhaseFinishing, PacketsWritten: packets, TotalPackets: packets, BytesWritten: written, TotalBytes: imageSize})
	if _, err := f.port.Transceive(protocol.FlashEnd{Reboot: true}, 0, 0); err != nil {
		return fmt.Errorf("flasher: flash end: %w", err)
	}

	return nil
}
