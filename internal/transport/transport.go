// Package transport owns the serial device the bootloader protocol runs
// over: DTR/RTS reset choreography, raw read/write, and the
// timeout-and-retry transceive cycle that turns a Command into a decoded
// Response.
package transport

import (
	"context"
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/esptoolgo/esptool/internal/logging"
	"github.com/esptoolgo/esptool/internal/protocol"
	"github.com/esptoolgo/esptool/internal/slip"
)

// DefaultTimeout is the transceive cycle's default per-attempt timeout.
const DefaultTimeout = 100 * time.Millisecond

// TimeoutError reports that a transceive cycle exhausted its retry budget
// with no successful read.
type TimeoutError struct {
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport: timed out after %d attempts", e.Attempts)
}

// Port owns one open serial device, exclusively, for its lifetime. Its
// Close method performs a hard reset, releasing the chip back into its
// application.
type Port struct {
	dev      device
	portName string
	baudRate int
	log      logging.Logger
	matcher  slip.Matcher
}

// Open opens portName at baudRate (8 data bits, no parity, no flow
// control) using the portable go.bug.st/serial backend, runs the
// entry-bootloader reset sequence, and flushes any bytes that sequence
// shook loose.
func Open(portName string, baudRate int, log logging.Logger) (*Port, error) {
	return OpenWithBackend(portName, baudRate, BackendDefault, log)
}

// OpenWithBackend is Open with an explicit device backend. BackendRaw
// selects the termios-syscall backend (raw_linux.go), available only on
// Linux.
func OpenWithBackend(portName string, baudRate int, backend Backend, log logging.Logger) (*Port, error) {
	if log == nil {
		log = logging.Nop{}
	}

	dev, err := openDevice(portName, baudRate, backend)
	if err != nil {
		return nil, err
	}

	p := &Port{dev: dev, portName: portName, baudRate: baudRate, log: log}

	if err := p.resetIntoBootloader(); err != nil {
		dev.Close()
		return nil, err
	}
	if err := p.Flush(); err != nil {
		dev.Close()
		return nil, err
	}

	return p, nil
}

func openDevice(portName string, baudRate int, backend Backend) (device, error) {
	if backend == BackendRaw {
		return openRawBackend(portName, baudRate)
	}

	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	raw, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: opening %s: %w", portName, err)
	}
	if err := raw.SetReadTimeout(50 * time.Millisecond); err != nil {
		raw.Close()
		return nil, fmt.Errorf("transport: setting read timeout: %w", err)
	}
	return raw, nil
}

// resetIntoBootloader runs the open-time DTR/RTS choreography: a settle
// wait, then the reset/hold/release sequence that drives the chip into ROM
// bootloader mode.
func (p *Port) resetIntoBootloader() error {
	time.Sleep(100 * time.Millisecond)

	if err := p.setLines(true, false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)

	if err := p.setLines(false, true); err != nil {
		return err
	}
	time.Sleep(50 * time.Millisecond)

	return p.SetDTR(true)
}

// HardReset releases the bootloader and restarts whatever application is
// in flash.
func (p *Port) HardReset() error {
	if err := p.setLines(true, false); err != nil {
		return err
	}
	time.Sleep(100 * time.Millisecond)
	return p.SetRTS(true)
}

func (p *Port) setLines(dtr, rts bool) error {
	if err := p.SetDTR(dtr); err != nil {
		return err
	}
	return p.SetRTS(rts)
}

// Close performs a hard reset and releases the underlying file descriptor.
func (p *Port) Close() error {
	resetErr := p.HardReset()
	closeErr := p.dev.Close()
	if closeErr != nil {
		return closeErr
	}
	return resetErr
}

func (p *Port) SetDTR(v bool) error { return p.dev.SetDTR(v) }
func (p *Port) SetRTS(v bool) error { return p.dev.SetRTS(v) }

// Flush discards any buffered input.
func (p *Port) Flush() error { return p.dev.ResetInputBuffer() }

// WriteAny writes raw bytes to the wire.
func (p *Port) WriteAny(data []byte) (int, error) { return p.dev.Write(data) }

// ReadAny performs one raw, timeout-bound read.
func (p *Port) ReadAny(buf []byte) (int, error) { return p.dev.Read(buf) }

func (p *Port) PortName() string { return p.portName }
func (p *Port) BaudRate() int    { return p.baudRate }

// ListPorts enumerates the serial devices visible to the host.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}

// Transceive runs one full command cycle: flush input, write the framed
// command, then race a read against a timeout, retrying on timeout up to
// retries times (so up to retries+1 attempts total per P9). Decoder errors
// (ProtocolViolation, CommandFailed) are structural and are returned
// immediately without consuming a retry.
func (p *Port) Transceive(cmd protocol.Command, retries int, timeout time.Duration) (*protocol.Response, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	framed := slip.Encode(protocol.Encode(cmd))
	p.matcher.Reset()

	attempts := 0
	for {
		attempts++

		if err := p.Flush(); err != nil {
			return nil, fmt.Errorf("transport: flush before %s: %w", cmd.Name(), err)
		}
		if _, err := p.WriteAny(framed); err != nil {
			return nil, fmt.Errorf("transport: writing %s: %w", cmd.Name(), err)
		}
		p.log.Debug(logging.HexDump("write", framed))

		resp, err := p.readOneFrame(timeout)
		if err == nil {
			p.log.Debug(logging.HexDump("read", resp))
			decoded, derr := protocol.Decode(slip.Decode(resp))
			if derr != nil {
				return nil, derr
			}
			return decoded, nil
		}

		if _, isTimeout := err.(*TimeoutError); !isTimeout {
			return nil, err
		}
		if attempts > retries {
			return nil, &TimeoutError{Attempts: attempts - 1}
		}
		p.matcher.Reset()
	}
}

// readOneFrame races a background read loop against a timer, implemented
// with a context deadline; whichever finishes first wins and the other is
// abandoned (the read goroutine's result is simply discarded on timeout,
// since the underlying serial read itself is already timeout-bound and
// will return shortly).
func (p *Port) readOneFrame(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	type result struct {
		frame []byte
		err   error
	}
	done := make(chan result, 1)

	go func() {
		var buf []byte
		chunk := make([]byte, 256)
		for {
			select {
			case <-ctx.Done():
				done <- result{err: &TimeoutError{}}
				return
			default:
			}

			n, err := p.ReadAny(chunk)
			if n > 0 {
				buf = append(buf, chunk[:n]...)
				if frame, _, ok := p.matcher.Match(buf); ok {
					done <- result{frame: frame}
					return
				}
			}
			if err != nil {
				done <- result{err: fmt.Errorf("transport: read: %w", err)}
				return
			}
		}
	}()

	select {
	case r := <-done:
		return r.frame, r.err
	case <-ctx.Done():
		return nil, &TimeoutError{}
	}
}
