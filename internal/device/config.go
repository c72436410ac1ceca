package device

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/andrej220/boardrun/internal/transport"
)

// Kind selects the channel a device is driven through.
type Kind string

const (
	KindSerial Kind = "serial"
	KindSSH    Kind = "ssh"
	// KindLocal is a host shell under a PTY, driven like a board.
	KindLocal Kind = "local"
	// KindHost runs every command as its own host subprocess.
	KindHost Kind = "host"
)

const (
	DefaultRebootTimeout = 100 * time.Second
	DefaultDHCPWait      = 3 * time.Second
)

// Config describes one device.
type Config struct {
	Name     string                 `yaml:"name" json:"name" validate:"required"`
	Kind     Kind                   `yaml:"kind" json:"kind" validate:"required,oneof=serial ssh local host"`
	Serial   transport.SerialConfig `yaml:"serial,omitempty" json:"serial"`
	SSH      transport.SSHConfig    `yaml:"ssh,omitempty" json:"ssh"`
	Local    transport.LocalConfig  `yaml:"local,omitempty" json:"local"`
	Prompt   string                 `yaml:"prompt,omitempty" json:"prompt,omitempty"`
	TestPath string                 `yaml:"testPath,omitempty" json:"testPath,omitempty"`
	// IPCommand prints the board address; see DefaultIPCommand.
	IPCommand     string        `yaml:"ipCommand,omitempty" json:"ipCommand,omitempty"`
	RebootTimeout time.Duration `yaml:"rebootTimeout,omitempty" json:"rebootTimeout,omitempty" validate:"gte=0s"`
	DHCPWait      time.Duration `yaml:"dhcpWait,omitempty" json:"dhcpWait,omitempty" validate:"gte=0s"`
}

var validate = validator.New()

// Validate checks the fields every kind needs and the ones its channel needs.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	switch c.Kind {
	case KindSerial:
		if c.Serial.Port == "" {
			return fmt.Errorf("device %q: %w", c.Name, errors.New("serial.port is required"))
		}
	case KindSSH:
		if c.SSH.Host == "" {
			return fmt.Errorf("device %q: %w", c.Name, errors.New("ssh.host is required"))
		}
	}
	return nil
}

// WithDefaults fills unset SSH connection settings.
func (c Config) WithDefaults() Config {
	d := transport.DefaultSSHConfig()
	s := &c.SSH
	if s.Port == 0 {
		s.Port = d.Port
	}
	if s.User == "" {
		s.User = d.User
	}
	if s.ConnectTimeout == 0 {
		s.ConnectTimeout = d.ConnectTimeout
	}
	if s.Retries == 0 {
		s.Retries = d.Retries
	}
	if s.Backoff == 0 {
		s.Backoff = d.Backoff
	}
	if s.Keepalive == 0 {
		s.Keepalive = d.Keepalive
	}
	if s.Term == "" {
		s.Term = d.Term
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = transport.DefaultBaudRate
	}
	if c.RebootTimeout == 0 {
		c.RebootTimeout = DefaultRebootTimeout
	}
	if c.DHCPWait == 0 {
		c.DHCPWait = DefaultDHCPWait
	}
	return c
}
