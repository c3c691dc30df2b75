package vm

import "fmt"

// CodePosition is a restartable point in a program stream: the stream's
// handle within the engine, an offset (bits for bytecode, bytes for text)
// and whether the stream is text.
type CodePosition struct {
	Stream int
	Offset int
	Text   bool
}

func (p CodePosition) String() string {
	if p.Text {
		return fmt.Sprintf("%d:%dB", p.Stream, p.Offset)
	}
	return fmt.Sprintf("%d:%db", p.Stream, p.Offset)
}
