package runner

import (
	"strings"
	"time"
)

// Status is how a command resolved.
type Status int

const (
	Success Status = iota
	TimedOut
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case TimedOut:
		return "timeout"
	default:
		return "unknown"
	}
}

// Code is the numeric status: 0 for success, 1 for timeout.
func (s Status) Code() int { return int(s) }

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Match is one extracted result: the whole match when the pattern has no
// groups, otherwise one element per group.
type Match []string

// Value is the first element of the match.
func (m Match) Value() string {
	if len(m) == 0 {
		return ""
	}
	return m[0]
}

// CommandResult is the outcome of one command.
type CommandResult struct {
	Log     string        `json:"log"`
	Status  Status        `json:"status"`
	Matches []Match       `json:"matches"`
	Elapsed time.Duration `json:"elapsed"`
}

// Triple returns the log, the status code and the matches.
func (r *CommandResult) Triple() (string, int, []Match) {
	return r.Log, r.Status.Code(), r.Matches
}

// Values returns the first element of every match.
func (r *CommandResult) Values() []string {
	out := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		out = append(out, m.Value())
	}
	return out
}

// Contains reports whether the log contains s.
func (r *CommandResult) Contains(s string) bool {
	return strings.Contains(r.Log, s)
}
