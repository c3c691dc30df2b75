package vm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/chazu/bvm/pkg/value"
)

// Console performs the Input and Output instructions.
type Console interface {
	Read(kind IOKind, base int) (value.Value, error)
	Write(v value.Value, kind IOKind, base int) error
}

// StreamConsole reads whitespace-separated numbers and single characters
// from a reader and writes to a writer.
type StreamConsole struct {
	in  *bufio.Reader
	out io.Writer

	// Prompt, when set, is written before every read.
	Prompt string
}

// NewConsole returns a console over r and w.
func NewConsole(r io.Reader, w io.Writer) *StreamConsole {
	return &StreamConsole{in: bufio.NewReader(r), out: w}
}

// Read returns the next number, or the next character's code point for
// IOChar. A character read at end of input yields -1.
func (c *StreamConsole) Read(kind IOKind, base int) (value.Value, error) {
	if c.Prompt != "" {
		if _, err := io.WriteString(c.out, c.Prompt); err != nil {
			return nil, err
		}
	}
	if kind == IOChar {
		r, _, err := c.in.ReadRune()
		if err == io.EOF {
			return value.Int(-1), nil
		}
		if err != nil {
			return nil, err
		}
		return value.Int(int64(r)), nil
	}

	tok, err := c.token()
	if err != nil {
		return nil, err
	}
	n, err := value.ParseNumber(tok, base)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	return n, nil
}

func (c *StreamConsole) token() (string, error) {
	var b strings.Builder
	for {
		r, _, err := c.in.ReadRune()
		if err == io.EOF && b.Len() > 0 {
			return b.String(), nil
		}
		if err != nil {
			return "", err
		}
		if unicode.IsSpace(r) {
			if b.Len() > 0 {
				return b.String(), nil
			}
			continue
		}
		b.WriteRune(r)
	}
}

// Write prints v followed by a newline, or the character whose code point
// v is for IOChar.
func (c *StreamConsole) Write(v value.Value, kind IOKind, base int) error {
	if kind != IOChar {
		_, err := fmt.Fprintln(c.out, value.Format(v, base))
		return err
	}
	n, ok := v.(value.Number)
	if !ok {
		return evalErr(value.ErrType, "printc needs a number, got %s", v.Kind())
	}
	r, ok := n.Int64()
	if !ok || r < 0 || r > unicode.MaxRune {
		return evalErr(value.ErrType, "printc: %s is not a code point", n)
	}
	_, err := fmt.Fprintf(c.out, "%c", rune(r))
	return err
}
