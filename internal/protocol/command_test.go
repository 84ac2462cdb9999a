package protocol

import (
	"bytes"
	"testing"
)

func TestSync_Payload(t *testing.T) {
	got := Sync{}.Payload()
	if len(got) != 36 {
		t.Fatalf("len = %d, want 36", len(got))
	}
	if !bytes.Equal(got[:4], []byte{0x07, 0x07, 0x12, 0x20}) {
		t.Errorf("prefix = %X, want 07 07 12 20", got[:4])
	}
	for _, b := range got[4:] {
		if b != 0x55 {
			t.Errorf("tail byte = 0x%X, want 0x55", b)
		}
	}
}

func TestSpiAttach_SixZeroBytes(t *testing.T) {
	got := SpiAttach{}.Payload()
	want := make([]byte, 6)
	if !bytes.Equal(got, want) {
		t.Errorf("SpiAttach payload = %X, want %X", got, want)
	}
}

func TestFlashEnd_RebootEncoding(t *testing.T) {
	reboot := FlashEnd{Reboot: true}.Payload()
	if !bytes.Equal(reboot, []byte{0x01, 0x00, 0x00, 0x00}) {
		t.Errorf("reboot=true payload = %X, want 01 00 00 00", reboot)
	}
	stay := FlashEnd{Reboot: false}.Payload()
	if !bytes.Equal(stay, []byte{0x00, 0x00, 0x00, 0x00}) {
		t.Errorf("reboot=false payload = %X, want 00 00 00 00", stay)
	}
}

func TestFlashData_PayloadLayout(t *testing.T) {
	data := []byte{0xAA, 0xBB, 0xCC}
	got := FlashData{Seq: 7, Data: data}.Payload()
	if len(got) != 16+len(data) {
		t.Fatalf("len = %d, want %d", len(got), 16+len(data))
	}
	if !bytes.Equal(got[0:4], []byte{0x03, 0x00, 0x00, 0x00}) {
		t.Errorf("size field = %X, want 03 00 00 00", got[0:4])
	}
	if !bytes.Equal(got[4:8], []byte{0x07, 0x00, 0x00, 0x00}) {
		t.Errorf("seq field = %X, want 07 00 00 00", got[4:8])
	}
	for _, b := range got[8:16] {
		if b != 0 {
			t.Errorf("reserved bytes not zero: %X", got[8:16])
		}
	}
	if !bytes.Equal(got[16:], data) {
		t.Errorf("trailing payload = %X, want %X", got[16:], data)
	}
}

func TestReadReg_ArgumentFraming(t *testing.T) {
	// Scenario: READ_REG argument [0x00, 0x00, 0xDB, 0xC0] as a command
	// payload (the argument value 0xC0DB0000 little-endian).
	r := ReadReg{Addr: 0xC0DB0000}
	got := r.Payload()
	want := []byte{0x00, 0x00, 0xDB, 0xC0}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadReg payload = %X, want %X", got, want)
	}
}

func TestEncode_ReadRegRecord(t *testing.T) {
	r := ReadReg{Addr: 0xC0DB0000}
	record := Encode(r)
	want := []byte{DirRequest, CmdReadReg, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x00, 0xDB, 0xC0}
	if !bytes.Equal(record, want) {
		t.Errorf("Encode(ReadReg) = %X, want %X", record, want)
	}
}

func TestDefaultSpiSetParams(t *testing.T) {
	p := DefaultSpiSetParams()
	if p.Total != 4*1024*1024 {
		t.Errorf("Total = %d, want 4 MiB", p.Total)
	}
	if p.Block != 64*1024 || p.Sector != 4*1024 || p.Page != 256 {
		t.Errorf("geometry = %+v", p)
	}
	if p.StatusMask != 0xFFFF {
		t.Errorf("StatusMask = 0x%X, want 0xFFFF", p.StatusMask)
	}
}
