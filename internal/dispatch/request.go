package dispatch

import (
	"errors"

	"github.com/google/uuid"

	"github.com/andrej220/boardrun/internal/runner"
)

var ErrBadMessage = errors.New("undecodable message")

// Request asks for one command on one device.
type Request struct {
	ExecutionUID uuid.UUID             `json:"exuid"`
	Device       string                `json:"device"`
	Command      runner.CommandRequest `json:"request"`
}

// Config is the request topic of the serve command.
type Config struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"required,min=1,dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic" validate:"required"`
	GroupID string   `yaml:"groupId" json:"groupId" validate:"required"`
	Workers int      `yaml:"workers" json:"workers" validate:"gte=0"`
	// Attempts bounds how often a failing request is retried.
	Attempts int `yaml:"attempts" json:"attempts" validate:"gte=0"`
}
