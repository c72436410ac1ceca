package transport

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/andrej220/boardrun/internal/lg"
)

const (
	DefaultBaudRate = 115200
	// serialPollTimeout bounds each blocking read so the reader notices Close.
	serialPollTimeout = 100 * time.Millisecond
)

// SerialConfig describes a serial line.
type SerialConfig struct {
	Port     string `yaml:"port" json:"port"`
	BaudRate int    `yaml:"baudRate" json:"baudRate"`
}

// serialPort is the part of serial.Port the transport relies on.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	ResetInputBuffer() error
	ResetOutputBuffer() error
	SetReadTimeout(t time.Duration) error
	Close() error
}

var openSerialPort = func(name string, mode *serial.Mode) (serialPort, error) {
	return serial.Open(name, mode)
}

// Serial is a line transport over a serial port.
type Serial struct {
	name   string
	port   serialPort
	in     *inbox
	logger lg.Logger
}

var _ Transport = (*Serial)(nil)

// OpenSerial opens the port once. A device is either attached or not, so
// there is no retry.
func OpenSerial(cfg SerialConfig, logger lg.Logger) (*Serial, error) {
	if logger == nil {
		logger = lg.Discard
	}
	baud := cfg.BaudRate
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := openSerialPort(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: serial %q: %v", ErrConnection, cfg.Port, err)
	}
	if err := port.SetReadTimeout(serialPollTimeout); err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("%w: serial %q: set read timeout: %v", ErrConnection, cfg.Port, err)
	}

	s := &Serial{
		name:   cfg.Port,
		port:   port,
		in:     newInbox(),
		logger: logger.With(lg.String("port", cfg.Port)),
	}
	s.in.pump(port)
	s.logger.Info("serial connected", lg.Int("baud", baud))
	return s, nil
}

func (s *Serial) ID() string { return s.name }

func (s *Serial) Write(p []byte) error {
	if err := writeFull(s.port, p); err != nil {
		return fmt.Errorf("serial %q write: %w", s.name, err)
	}
	return nil
}

func (s *Serial) ReadAvailable(max int) []byte { return s.in.take(max) }

func (s *Serial) Pending() int { return s.in.pending() }

func (s *Serial) Err() error { return s.in.failure() }

// Drain resets the hardware buffers and drops everything already read.
func (s *Serial) Drain() {
	if err := s.port.ResetInputBuffer(); err != nil {
		s.logger.Debug("reset input buffer", lg.Err(err))
	}
	if err := s.port.ResetOutputBuffer(); err != nil {
		s.logger.Debug("reset output buffer", lg.Err(err))
	}
	s.in.reset()
}

func (s *Serial) Interrupt() error {
	return s.Write([]byte{InterruptByte})
}

func (s *Serial) Close() error {
	err := s.port.Close()
	s.in.wait()
	s.logger.Info("serial closed")
	return err
}
