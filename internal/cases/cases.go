// Package cases loads YAML case tables and runs them on a device.
//
// A table groups commands by marker:
//
//	test_cases:
//	  aud_in:
//	    - case: ./sample_audio -i 0
//	      check_res: "PASS"
//	      runtime: 10
//
// check_res is a result pattern and defaults to "PASS"; runtime is the
// timeout in seconds and defaults to 1.
package cases

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultCheck   = "PASS"
	DefaultRuntime = 1.0
)

var (
	ErrNoCases  = errors.New("no test_cases in table")
	ErrNoMarker = errors.New("marker not found")
)

// Case is one command and how to judge its output.
type Case struct {
	Command string `yaml:"case" json:"case" validate:"required"`
	Check   string `yaml:"check_res" json:"check_res"`
	// Runtime is in seconds.
	Runtime float64 `yaml:"runtime" json:"runtime" validate:"gte=0"`
}

func (c *Case) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Command string   `yaml:"case"`
		Check   *string  `yaml:"check_res"`
		Runtime *float64 `yaml:"runtime"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	*c = Case{Command: raw.Command, Check: DefaultCheck, Runtime: DefaultRuntime}
	if raw.Check != nil {
		c.Check = *raw.Check
	}
	if raw.Runtime != nil {
		c.Runtime = *raw.Runtime
	}
	return nil
}

// Timeout converts Runtime.
func (c Case) Timeout() time.Duration {
	return time.Duration(c.Runtime * float64(time.Second))
}

// Table is a parsed case file.
type Table struct {
	TestCases map[string][]Case `yaml:"test_cases"`
}

var validate = validator.New()

// Load reads a case table from path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cases: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse cases: %w", err)
	}
	if t.TestCases == nil {
		return nil, ErrNoCases
	}
	for marker, list := range t.TestCases {
		for i := range list {
			if err := validate.Struct(list[i]); err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", marker, i, err)
			}
		}
	}
	return &t, nil
}

// Cases returns the cases of marker in file order.
func (t *Table) Cases(marker string) ([]Case, error) {
	list, ok := t.TestCases[marker]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoMarker, marker)
	}
	return slices.Clone(list), nil
}

// Markers lists the markers in sorted order.
func (t *Table) Markers() []string {
	out := make([]string, 0, len(t.TestCases))
	for m := range t.TestCases {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

var placeholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// Expand replaces ${name} in commands and checks with vars. Unknown names
// are left as they are.
func Expand(list []Case, vars map[string]string) []Case {
	repl := func(s string) string {
		return placeholder.ReplaceAllStringFunc(s, func(m string) string {
			if v, ok := vars[m[2:len(m)-1]]; ok {
				return v
			}
			return m
		})
	}
	out := make([]Case, len(list))
	for i, c := range list {
		c.Command = repl(c.Command)
		c.Check = repl(c.Check)
		out[i] = c
	}
	return out
}
