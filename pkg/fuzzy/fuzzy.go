package fuzzy

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// Option represents a selectable option in the fuzzy finder
type Option struct {
	Value       string
	Description string
}

// Finder is the numbered-prompt selector used when fzf is unavailable
type Finder struct {
	prompt  string
	options []Option
	in      *bufio.Reader
	out     io.Writer
}

// New creates a new finder reading from stdin and writing to stdout
func New(prompt string) *Finder {
	return NewWithIO(prompt, os.Stdin, os.Stdout)
}

// NewWithIO creates a new finder on the given streams
func NewWithIO(prompt string, in io.Reader, out io.Writer) *Finder {
	return &Finder{
		prompt:  prompt,
		options: make([]Option, 0),
		in:      bufio.NewReader(in),
		out:     out,
	}
}

// AddOption adds an option to the finder
func (f *Finder) AddOption(value, description string) {
	f.options = append(f.options, Option{
		Value:       value,
		Description: description,
	})
}

// SelectMany lists the options and reads one line of selections: numbers,
// ranges such as 2-4, "all", or text that selects every matching option.
// The result keeps option order.
func (f *Finder) SelectMany() ([]string, error) {
	if len(f.options) == 0 {
		return nil, fmt.Errorf("no options available")
	}

	fmt.Fprintln(f.out, f.prompt)
	fmt.Fprintln(f.out, strings.Repeat("-", len(f.prompt)))
	for i, option := range f.options {
		fmt.Fprintf(f.out, "%d. %s", i+1, option.Value)
		if option.Description != "" {
			fmt.Fprintf(f.out, " - %s", option.Description)
		}
		fmt.Fprintln(f.out)
	}
	fmt.Fprintf(f.out, "\nSelect options (1-%d, ranges, 'all' or text to filter): ", len(f.options))

	input, err := f.in.ReadString('\n')
	if err != nil && (err != io.EOF || input == "") {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	selected, err := f.parseSelection(input)
	if err != nil {
		return nil, err
	}

	values := make([]string, 0, len(selected))
	for i, option := range f.options {
		if selected[i] {
			values = append(values, option.Value)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("no selection made")
	}
	return values, nil
}

func (f *Finder) parseSelection(input string) (map[int]bool, error) {
	selected := make(map[int]bool)
	tokens := strings.FieldsFunc(input, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})

	for _, token := range tokens {
		if strings.EqualFold(token, "all") {
			for i := range f.options {
				selected[i] = true
			}
			continue
		}

		if lo, hi, ok := strings.Cut(token, "-"); ok {
			start, err1 := strconv.Atoi(lo)
			end, err2 := strconv.Atoi(hi)
			if err1 == nil && err2 == nil {
				if start < 1 || end > len(f.options) || start > end {
					return nil, fmt.Errorf("selection out of range: %s", token)
				}
				for i := start; i <= end; i++ {
					selected[i-1] = true
				}
				continue
			}
		}

		if n, err := strconv.Atoi(token); err == nil {
			if n < 1 || n > len(f.options) {
				return nil, fmt.Errorf("selection out of range: %d", n)
			}
			selected[n-1] = true
			continue
		}

		matches := f.filterOptions(token)
		if len(matches) == 0 {
			return nil, fmt.Errorf("no options match filter: %s", token)
		}
		for i, option := range f.options {
			for _, m := range matches {
				if m.Value == option.Value {
					selected[i] = true
				}
			}
		}
	}

	return selected, nil
}

// filterOptions filters options based on the input string
func (f *Finder) filterOptions(filter string) []Option {
	filter = strings.ToLower(filter)
	var filtered []Option

	for _, option := range f.options {
		if strings.Contains(strings.ToLower(option.Value), filter) ||
			strings.Contains(strings.ToLower(option.Description), filter) {
			filtered = append(filtered, option)
		}
	}

	return filtered
}

// GetOptions returns all available options
func (f *Finder) GetOptions() []Option {
	return f.options
}

// IsTerminalSupported reports whether stdin and stdout are both terminals
// capable of running an interactive picker
func IsTerminalSupported() bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return false
	}
	termType := os.Getenv("TERM")
	return termType != "" && termType != "dumb"
}
