// Package slip implements Serial Line Internet Protocol framing: the
// byte-stuffing scheme the ESP32 ROM bootloader uses to delimit command
// and response records on the wire.
package slip

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// MinFrame is the shortest byte span, counted inclusive of the two END
// delimiters, that the frame-completeness matcher will ever report as a
// full frame. Its value is the 8-byte record header plus the 4-byte status
// trailer, so a minimal matched span holds only 10 bytes between its ENDs.
const MinFrame = 12

// Encode wraps data in SLIP framing: END, byte-stuffed payload, END.
func Encode(data []byte) []byte {
	result := make([]byte, 0, len(data)+10)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	result = append(result, End)
	return result
}

// Decode un-stuffs a frame, stripping the leading and trailing END bytes.
// frame must begin and end with END; callers obtain such frames from a
// Matcher.
func Decode(frame []byte) []byte {
	if len(frame) < 2 {
		return nil
	}

	inner := frame[1 : len(frame)-1]
	result := make([]byte, 0, len(inner))

	i := 0
	for i < len(inner) {
		if inner[i] == Esc && i+1 < len(inner) {
			switch inner[i+1] {
			case EscEnd:
				result = append(result, End)
			case EscEsc:
				result = append(result, Esc)
			default:
				result = append(result, inner[i+1])
			}
			i += 2
		} else {
			result = append(result, inner[i])
			i++
		}
	}

	return result
}

// Matcher implements the streaming frame-completeness rules: given an
// ever-growing receive buffer, it reports when a full response frame has
// arrived. It carries one piece of state, the "unpaired start" latch,
// which must live for the lifetime of one transport instance and be reset
// at every transceive entry — never shared across transports and never
// global.
type Matcher struct {
	unpairedStart bool
	startIdx      int
}

// Reset clears the unpaired-start latch. Call at the start of every
// transceive cycle.
func (m *Matcher) Reset() {
	m.unpairedStart = false
	m.startIdx = 0
}

// Match scans buf for a complete frame. It returns the frame (inclusive of
// both END bytes) and the bytes remaining after it, or ok=false if no
// complete frame is present yet. buf must be the same, only-growing
// accumulation buffer across calls within one transceive cycle, since the
// latch remembers a byte offset into it.
func (m *Matcher) Match(buf []byte) (frame []byte, remaining []byte, ok bool) {
	if len(buf) < MinFrame {
		return nil, buf, false
	}

	first := -1
	for i, b := range buf {
		if b == End {
			first = i
			break
		}
	}
	if first == -1 || first+1 >= len(buf) {
		return nil, buf, false
	}

	if buf[first+1] == 0x01 {
		m.unpairedStart = true
		m.startIdx = first
	} else if m.unpairedStart {
		m.unpairedStart = false
		return buf[m.startIdx : first+1], buf[first+1:], true
	} else {
		// A bare END with no pending start: nothing to do until more
		// data arrives.
		return nil, buf, false
	}

	for j := m.startIdx + 1; j < len(buf); j++ {
		if buf[j] == End && j-m.startIdx+1 >= MinFrame {
			m.unpairedStart = false
			return buf[m.startIdx : j+1], buf[j+1:], true
		}
	}

	return nil, buf, false
}
