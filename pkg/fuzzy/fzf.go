package fuzzy

import (
	"fmt"
	"io"
	"os"
	"strings"

	fzf "github.com/junegunn/fzf/src"
)

const descriptionSeparator = "  │  "

// FzfRunner defines the interface for running fzf
type FzfRunner interface {
	Run(opts *fzf.Options) (int, error)
}

// DefaultFzfRunner implements the FzfRunner interface using the real fzf library
type DefaultFzfRunner struct{}

// Run executes fzf with the given options
func (r *DefaultFzfRunner) Run(opts *fzf.Options) (int, error) {
	return fzf.Run(opts)
}

// MultiSelector picks any number of options
type MultiSelector interface {
	SetOptions(options []Option) error
	SetPrompt(prompt string)
	SelectMany() ([]string, error)
}

// FzfFinder implements multi-selection using the fzf library
type FzfFinder struct {
	options []Option
	prompt  string
	runner  FzfRunner
	// streams for the numbered fallback
	in  io.Reader
	out io.Writer
}

// NewFzf creates a new fzf-style fuzzy finder
func NewFzf(prompt string) *FzfFinder {
	return NewFzfWithRunner(prompt, &DefaultFzfRunner{})
}

// NewFzfWithRunner creates a new fzf-style fuzzy finder with a custom runner (for testing)
func NewFzfWithRunner(prompt string, runner FzfRunner) *FzfFinder {
	return &FzfFinder{
		prompt:  prompt,
		options: make([]Option, 0),
		runner:  runner,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// SetFallbackIO sets the streams used when fzf cannot run
func (f *FzfFinder) SetFallbackIO(in io.Reader, out io.Writer) {
	f.in = in
	f.out = out
}

// SetOptions sets the available options for selection
func (f *FzfFinder) SetOptions(options []Option) error {
	if options == nil {
		return fmt.Errorf("options cannot be nil")
	}

	f.options = make([]Option, len(options))
	copy(f.options, options)
	return nil
}

// SetPrompt sets the display prompt
func (f *FzfFinder) SetPrompt(prompt string) {
	f.prompt = prompt
}

// SelectMany runs fzf in multi-select mode. The result keeps option order,
// not the order items were marked in.
func (f *FzfFinder) SelectMany() ([]string, error) {
	if len(f.options) == 0 {
		return nil, fmt.Errorf("no options available")
	}

	args := []string{
		"--prompt=" + f.prompt + " ",
		"--height=40%",
		"--layout=reverse",
		"--multi",
		"--bind=ctrl-a:select-all",
		"--cycle",
		"--extended",
		"--algo=v2",
		"--tiebreak=index",
		"--no-mouse",
		"--border=none",
	}

	opts, err := fzf.ParseOptions(true, args)
	if err != nil {
		return nil, fmt.Errorf("failed to parse fzf options: %w", err)
	}

	// Both channels are buffered for every option so neither side blocks
	input := make(chan string, len(f.options))
	for _, option := range f.options {
		input <- displayText(option)
	}
	close(input)
	output := make(chan string, len(f.options))

	opts.Input = input
	opts.Output = output

	exitCode, err := f.runner.Run(opts)
	if err != nil {
		return f.fallbackSelect()
	}

	if exitCode != fzf.ExitOk {
		return nil, fmt.Errorf("fzf selection cancelled or failed")
	}

	picked := make(map[string]bool)
	for _, line := range drain(output) {
		value, _, _ := strings.Cut(strings.TrimSpace(line), descriptionSeparator)
		picked[strings.TrimSpace(value)] = true
	}

	var values []string
	for _, option := range f.options {
		if picked[option.Value] {
			values = append(values, option.Value)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no selection made")
	}
	return values, nil
}

// drain collects what fzf wrote without relying on the channel being closed
func drain(output chan string) []string {
	var lines []string
	for {
		select {
		case line, ok := <-output:
			if !ok {
				return lines
			}
			lines = append(lines, line)
		default:
			return lines
		}
	}
}

func displayText(option Option) string {
	if option.Description == "" {
		return option.Value
	}
	return option.Value + descriptionSeparator + option.Description
}

// fallbackSelect provides a numbered selection for when fzf fails
func (f *FzfFinder) fallbackSelect() ([]string, error) {
	finder := NewWithIO(f.prompt, f.in, f.out)
	for _, option := range f.options {
		finder.AddOption(option.Value, option.Description)
	}
	return finder.SelectMany()
}

var _ MultiSelector = (*FzfFinder)(nil)
