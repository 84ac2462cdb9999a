package protocol

import (
	"fmt"

	"github.com/esptoolgo/esptool/internal/byteutil"
)

// HeaderSize is the fixed 8-byte command-record header: direction, command,
// LE u16 length, LE u32 checksum/value.
const HeaderSize = 8

// StatusTrailerSize is the 4-byte status/error/reserved/reserved trailer
// that ends a response record, after its payload.
const StatusTrailerSize = 4

// Encode serialises a command into its on-the-wire record: direction byte,
// command byte, LE u16 payload length, LE u32 checksum, payload bytes. The
// caller SLIP-frames the result before writing it to the transport.
func Encode(c Command) []byte {
	payload := c.Payload()
	var checksum uint32
	if fd, ok := c.(FlashData); ok {
		checksum = Checksum(fd.Data)
	}

	record := make([]byte, 0, HeaderSize+len(payload))
	record = append(record, DirRequest, c.Byte())
	record = byteutil.PutUint16LE(record, uint16(len(payload)))
	record = byteutil.PutUint32LE(record, checksum)
	record = append(record, payload...)
	return record
}

// Response is a decoded response record.
type Response struct {
	Command byte
	Value   uint32
	Payload []byte
	Status  byte
	Code    byte
}

// ProtocolViolationError reports a malformed response record: wrong
// direction byte or a record too short to hold the header and status
// trailer.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return fmt.Sprintf("protocol: violation: %s", e.Reason)
}

// CommandFailedError reports a response whose status trailer signalled
// failure.
type CommandFailedError struct {
	Code        byte
	Description string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("protocol: command failed with error code 0x%02X: %s", e.Code, e.Description)
}

// Decode parses an unstuffed command record (the SLIP codec's Decode
// output, without the END delimiters) into a Response. It returns
// CommandFailedError if the status trailer signals failure, and
// ProtocolViolationError if the record is malformed.
func Decode(record []byte) (*Response, error) {
	if len(record) < HeaderSize+StatusTrailerSize {
		return nil, &ProtocolViolationError{Reason: "record shorter than header plus status trailer"}
	}
	if record[0] != DirResponse {
		return nil, &ProtocolViolationError{Reason: fmt.Sprintf("direction byte 0x%02X, want 0x%02X", record[0], DirResponse)}
	}

	command := record[1]
	value := byteutil.Uint32LE(record[4:8])

	// The status trailer is the last StatusTrailerSize bytes of the record
	// and the payload is everything between the header and the trailer;
	// the header's length field is not used to slice the body.
	body := record[HeaderSize:]
	payload := body[:len(body)-StatusTrailerSize]
	trailer := body[len(body)-StatusTrailerSize:]
	status, code := trailer[0], trailer[1]

	resp := &Response{Command: command, Value: value, Payload: payload, Status: status, Code: code}
	if status != 0 {
		return nil, &CommandFailedError{Code: code, Description: ErrorMessage(code)}
	}
	return resp, nil
}

// ErrorMessage maps a bootloader status-trailer error code to its
// description.
func ErrorMessage(code byte) string {
	switch code {
	case 0x05:
		return "Received message is invalid"
	case 0x06:
		return "failed to act on received message"
	case 0x07:
		return "invalid CRC in message"
	case 0x08:
		return "flash write (8-bit CRC) mismatch"
	case 0x09:
		return "SPI read failed"
	case 0x0A:
		return "SPI read request length too long"
	case 0x0B:
		return "deflate error"
	default:
		return "unknown error"
	}
}
