package transport

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.bug.st/serial"
)

var ErrPortRequired = errors.New("transport: serial port required")

// SerialConfig describes the meter's customer telemetry output.
type SerialConfig struct {
	Port        string
	BaudRate    int
	DataBits    int
	ReadTimeout time.Duration
}

// DefaultSerialConfig is the historic teleinfo mode: 1200 bauds, 7 bits,
// no parity, one stop bit.
func DefaultSerialConfig() SerialConfig {
	return SerialConfig{
		Port:        "/dev/ttyS0",
		BaudRate:    1200,
		DataBits:    7,
		ReadTimeout: time.Second,
	}
}

// OpenSerial opens the port. The caller owns the returned port and must
// close it.
func OpenSerial(cfg SerialConfig) (serial.Port, error) {
	if strings.TrimSpace(cfg.Port) == "" {
		return nil, ErrPortRequired
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			_ = port.Close()
			return nil, fmt.Errorf("transport: set read timeout: %w", err)
		}
	}
	return port, nil
}
