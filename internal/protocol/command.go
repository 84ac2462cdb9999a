// Package protocol implements the SLIP-framed command/response records the
// ESP32 ROM bootloader speaks: the command schemas, request/response
// encoding, checksum rules, and the status-code taxonomy.
package protocol

import "github.com/esptoolgo/esptool/internal/byteutil"

// Command byte values, per the bootloader's closed command set.
const (
	CmdFlashBegin    byte = 0x02
	CmdFlashData     byte = 0x03
	CmdFlashEnd      byte = 0x04
	CmdSync          byte = 0x08
	CmdWriteReg      byte = 0x09
	CmdReadReg       byte = 0x0A
	CmdSpiSetParams  byte = 0x0B
	CmdSpiAttach     byte = 0x0D
	CmdFlashReadSlow byte = 0x0E
)

// Direction byte values on the wire.
const (
	DirRequest  byte = 0x00
	DirResponse byte = 0x01
)

// FlashBlockSize is BLOCK in the flash-write sequence: the number of image
// bytes carried per FLASH_DATA packet.
const FlashBlockSize = 4096

// Command is the closed sum of command shapes the transport can send: each
// variant knows its own name (for logging), its wire byte, and how to
// serialise its payload. The transport is polymorphic over this interface,
// never over a type hierarchy.
type Command interface {
	Name() string
	Byte() byte
	Payload() []byte
}

// Checksum computes the command-record checksum: 0xEF XOR'd with every
// payload byte. Encode applies it only to FLASH_DATA records (over their
// data bytes); every other command carries 0 in the checksum field.
func Checksum(payload []byte) uint32 {
	return uint32(byteutil.XOR(byteutil.ChecksumMagic, payload))
}

// Sync is the bootloader handshake command.
type Sync struct{}

func (Sync) Name() string { return "SYNC" }
func (Sync) Byte() byte   { return CmdSync }
func (Sync) Payload() []byte {
	payload := make([]byte, 0, 36)
	payload = append(payload, 0x07, 0x07, 0x12, 0x20)
	for i := 0; i < 32; i++ {
		payload = append(payload, 0x55)
	}
	return payload
}

// WriteReg writes a masked, delayed value to a chip register.
type WriteReg struct {
	Addr, Value, Mask, Delay uint32
}

func (WriteReg) Name() string { return "WRITE_REG" }
func (WriteReg) Byte() byte   { return CmdWriteReg }
func (w WriteReg) Payload() []byte {
	var buf []byte
	buf = byteutil.PutUint32LE(buf, w.Addr)
	buf = byteutil.PutUint32LE(buf, w.Value)
	buf = byteutil.PutUint32LE(buf, w.Mask)
	buf = byteutil.PutUint32LE(buf, w.Delay)
	return buf
}

// ReadReg reads a chip register; the response's value field carries the
// register contents.
type ReadReg struct {
	Addr uint32
}

func (ReadReg) Name() string { return "READ_REG" }
func (ReadReg) Byte() byte   { return CmdReadReg }
func (r ReadReg) Payload() []byte {
	return byteutil.PutUint32LE(nil, r.Addr)
}

// SpiAttach configures the SPI flash pins; the bootloader ignores the
// payload contents for standard (non-OTP) attach.
type SpiAttach struct{}

func (SpiAttach) Name() string      { return "SPI_ATTACH" }
func (SpiAttach) Byte() byte        { return CmdSpiAttach }
func (SpiAttach) Payload() []byte   { return make([]byte, 6) }

// SpiSetParams configures the flash geometry the bootloader assumes for
// subsequent erase/write sizing.
type SpiSetParams struct {
	Total, Block, Sector, Page, StatusMask uint32
}

func (SpiSetParams) Name() string { return "SPI_SET_PARAMS" }
func (SpiSetParams) Byte() byte   { return CmdSpiSetParams }
func (s SpiSetParams) Payload() []byte {
	var buf []byte
	buf = byteutil.PutUint32LE(buf, 0) // unused id
	buf = byteutil.PutUint32LE(buf, s.Total)
	buf = byteutil.PutUint32LE(buf, s.Block)
	buf = byteutil.PutUint32LE(buf, s.Sector)
	buf = byteutil.PutUint32LE(buf, s.Page)
	buf = byteutil.PutUint32LE(buf, s.StatusMask)
	return buf
}

// DefaultSpiSetParams returns the flasher's default flash geometry: 4 MiB
// total, 64 KiB erase block, 4 KiB sector, 256 B page, all-ones status mask.
func DefaultSpiSetParams() SpiSetParams {
	return SpiSetParams{
		Total:      4 * 1024 * 1024,
		Block:      64 * 1024,
		Sector:     4 * 1024,
		Page:       256,
		StatusMask: 0xFFFF,
	}
}

// FlashReadSlow reads length bytes starting at addr directly from flash,
// bypassing the cache; used to read back the live flash-parameter byte at
// offset 0 before a reflash.
type FlashReadSlow struct {
	Addr, Length uint32
}

func (FlashReadSlow) Name() string { return "FLASH_READ_SLOW" }
func (FlashReadSlow) Byte() byte   { return CmdFlashReadSlow }
func (f FlashReadSlow) Payload() []byte {
	var buf []byte
	buf = byteutil.PutUint32LE(buf, f.Addr)
	buf = byteutil.PutUint32LE(buf, f.Length)
	return buf
}

// FlashBegin announces an upcoming sequence of FLASH_DATA packets.
type FlashBegin struct {
	EraseSize, PacketCount, DataSizePerPacket, FlashOffset uint32
	Encrypted                                              uint32
}

func (FlashBegin) Name() string { return "FLASH_BEGIN" }
func (FlashBegin) Byte() byte   { return CmdFlashBegin }
func (f FlashBegin) Payload() []byte {
	var buf []byte
	buf = byteutil.PutUint32LE(buf, f.EraseSize)
	buf = byteutil.PutUint32LE(buf, f.PacketCount)
	buf = byteutil.PutUint32LE(buf, f.DataSizePerPacket)
	buf = byteutil.PutUint32LE(buf, f.FlashOffset)
	buf = byteutil.PutUint32LE(buf, f.Encrypted)
	return buf
}

// FlashData carries one packet's worth of image bytes. Seq must increase by
// one starting at 0 across a flash sequence.
type FlashData struct {
	Seq  uint32
	Data []byte
}

func (FlashData) Name() string { return "FLASH_DATA" }
func (FlashData) Byte() byte   { return CmdFlashData }
func (f FlashData) Payload() []byte {
	buf := make([]byte, 0, 16+len(f.Data))
	buf = byteutil.PutUint32LE(buf, uint32(len(f.Data)))
	buf = byteutil.PutUint32LE(buf, f.Seq)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, f.Data...)
	return buf
}

// FlashEnd finishes a flash sequence. Reboot selects between running the
// newly written application (true) and remaining in the bootloader (false).
type FlashEnd struct {
	Reboot bool
}

func (FlashEnd) Name() string { return "FLASH_END" }
func (FlashEnd) Byte() byte   { return CmdFlashEnd }
func (f FlashEnd) Payload() []byte {
	option := uint32(0)
	if f.Reboot {
		option = 1
	}
	return byteutil.PutUint32LE(nil, option)
}
