package runner

import (
	"regexp"

	"github.com/andrej220/boardrun/internal/normalize"
)

// DefaultPrompt matches the root prompt of the boards, e.g. "[root@cvitek]~#".
const DefaultPrompt = `\[root@cvitek\][^#]+#`

// DefaultTailChunks is how many trailing chunks the detector inspects.
const DefaultTailChunks = 3

var defaultPromptRe = regexp.MustCompile(DefaultPrompt)

// Detector decides whether the shell is back at its prompt.
type Detector struct {
	Prompt     *regexp.Regexp
	TailChunks int
}

// NewDetector builds a detector for prompt. An empty prompt selects
// DefaultPrompt.
func NewDetector(prompt string) (*Detector, error) {
	if prompt == "" {
		return &Detector{Prompt: defaultPromptRe, TailChunks: DefaultTailChunks}, nil
	}
	re, err := regexp.Compile(prompt)
	if err != nil {
		return nil, err
	}
	return &Detector{Prompt: re, TailChunks: DefaultTailChunks}, nil
}

// Done reports a prompt in the cleaned tail of buf.
func (d *Detector) Done(buf *OutputBuffer) bool {
	tail := buf.Tail(d.TailChunks)
	if len(tail) == 0 {
		return false
	}
	return d.Prompt.MatchString(normalize.Clean(tail))
}
