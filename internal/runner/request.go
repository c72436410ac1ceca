package runner

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultTimeout is used by NewRequest.
const DefaultTimeout = 5 * time.Second

// CommandRequest is one shell command to run on a device.
type CommandRequest struct {
	Command string        `yaml:"command" json:"command"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" validate:"gte=0s"`
	// Prompt overrides the runner's completion pattern for this command.
	Prompt string `yaml:"prompt,omitempty" json:"prompt,omitempty" validate:"omitempty,regexp"`
	// ResultPattern is compiled per call; a malformed pattern yields no
	// matches instead of an error. ResultRegexp takes precedence.
	ResultPattern string         `yaml:"resultPattern,omitempty" json:"resultPattern,omitempty"`
	ResultRegexp  *regexp.Regexp `yaml:"-" json:"-"`
	// NoEcho sends the command, waits Timeout and returns an empty result.
	NoEcho bool `yaml:"noEcho,omitempty" json:"noEcho,omitempty"`
	// WaitTime delays reading output. Only the host runner uses it.
	WaitTime time.Duration `yaml:"waitTime,omitempty" json:"waitTime,omitempty" validate:"gte=0s"`
}

// NewRequest returns a request with the default timeout.
func NewRequest(command string) CommandRequest {
	return CommandRequest{Command: command, Timeout: DefaultTimeout}
}

// jsonDuration reads a duration as a string ("5s", "1m30s") or a number
// of seconds, and writes it as a string.
type jsonDuration time.Duration

func (d jsonDuration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *jsonDuration) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = jsonDuration(v)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(b, &secs); err != nil {
		return fmt.Errorf("duration must be a string or seconds: %w", err)
	}
	*d = jsonDuration(secs * float64(time.Second))
	return nil
}

type requestJSON struct {
	Command       string       `json:"command"`
	Timeout       jsonDuration `json:"timeout"`
	Prompt        string       `json:"prompt,omitempty"`
	ResultPattern string       `json:"resultPattern,omitempty"`
	NoEcho        bool         `json:"noEcho,omitempty"`
	WaitTime      jsonDuration `json:"waitTime,omitempty"`
}

// MarshalJSON writes Timeout and WaitTime as duration strings.
func (r CommandRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestJSON{
		Command:       r.Command,
		Timeout:       jsonDuration(r.Timeout),
		Prompt:        r.Prompt,
		ResultPattern: r.ResultPattern,
		NoEcho:        r.NoEcho,
		WaitTime:      jsonDuration(r.WaitTime),
	})
}

// UnmarshalJSON accepts Timeout and WaitTime as duration strings or as
// seconds.
func (r *CommandRequest) UnmarshalJSON(b []byte) error {
	var v requestJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*r = CommandRequest{
		Command:       v.Command,
		Timeout:       time.Duration(v.Timeout),
		Prompt:        v.Prompt,
		ResultPattern: v.ResultPattern,
		NoEcho:        v.NoEcho,
		WaitTime:      time.Duration(v.WaitTime),
	}
	return nil
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("regexp", validateRegexp)
}

func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

// Validate checks the request fields.
func (r CommandRequest) Validate() error {
	return validate.Struct(r)
}
