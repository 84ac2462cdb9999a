//go:build !linux

package transport

import "fmt"

func openRawBackend(portName string, baudRate int) (device, error) {
	return nil, fmt.Errorf("transport: raw backend is not supported on this platform")
}
