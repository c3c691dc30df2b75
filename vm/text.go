package vm

import (
	"io"
	"math/big"
	"strconv"
	"strings"
	"unicode"

	"github.com/chazu/bvm/pkg/value"
)

// textSource decodes the whitespace-separated text form directly, so that
// scripts run without a prior compile. Offsets are byte offsets.
type textSource struct {
	name   string
	handle int
	data   []byte
	off    int
}

func (s *textSource) Name() string { return s.name }

func (s *textSource) Position() CodePosition {
	return CodePosition{Stream: s.handle, Offset: s.off, Text: true}
}

func (s *textSource) Seek(pos CodePosition) error {
	if !pos.Text || pos.Offset < 0 || pos.Offset > len(s.data) {
		return ioErr(nil, "bad seek to %s in %s", pos, s.name)
	}
	s.off = pos.Offset
	return nil
}

func (s *textSource) Decode(fns FunctionTable, topLevel bool) (*Action, error) {
	tok, err := s.next()
	if err == io.EOF {
		return &Action{Kind: KindEOF}, nil
	}
	if err != nil {
		return nil, decodeErr(ErrMalformed, "%s: %v", s.name, err)
	}
	a, err := ParseToken(tok)
	if err != nil {
		return nil, err
	}
	if a.Kind == KindImport {
		p, err := s.next()
		if err != nil || !strings.HasPrefix(p, `"`) {
			return nil, decodeErr(ErrMalformed, "%s must be followed by a quoted path", tok)
		}
		if a.Path, err = strconv.Unquote(p); err != nil {
			return nil, decodeErr(ErrMalformed, "import path %s: %v", p, err)
		}
	}
	if err := finishDecode(a, fns, topLevel); err != nil {
		return nil, err
	}
	return a, nil
}

// next returns the next token, skipping whitespace and ';' comments.
// Quoted strings are returned with their quotes.
func (s *textSource) next() (string, error) {
	for s.off < len(s.data) {
		c := s.data[s.off]
		switch {
		case c == ';':
			for s.off < len(s.data) && s.data[s.off] != '\n' {
				s.off++
			}
		case unicode.IsSpace(rune(c)):
			s.off++
		default:
			return s.token()
		}
	}
	return "", io.EOF
}

func (s *textSource) token() (string, error) {
	start := s.off
	if s.data[s.off] == '"' {
		s.off++
		for s.off < len(s.data) {
			switch s.data[s.off] {
			case '\\':
				s.off += 2
				continue
			case '"':
				s.off++
				return string(s.data[start:s.off]), nil
			case '\n':
				return "", textError("unterminated string")
			}
			s.off++
		}
		return "", textError("unterminated string")
	}
	for s.off < len(s.data) && !unicode.IsSpace(rune(s.data[s.off])) {
		s.off++
	}
	return string(s.data[start:s.off]), nil
}

type textError string

func (e textError) Error() string { return string(e) }

var bracketByName = func() map[string]BracketKind {
	m := make(map[string]BracketKind, bracketKinds)
	for b := BracketKind(0); b < bracketKinds; b++ {
		m[b.String()] = b
	}
	return m
}()

// ParseToken decodes a single text token. Import tokens come back with an
// empty Path; the caller reads the quoted path that follows.
func ParseToken(tok string) (*Action, error) {
	if b, ok := bracketByName[tok]; ok {
		return &Action{Kind: KindBracket, Bracket: b}, nil
	}
	switch tok {
	case "RES":
		return &Action{Kind: KindArgument, ID: ArgRes}, nil
	case "ARGC":
		return &Action{Kind: KindArgument, ID: ArgCount}, nil
	case "v?":
		return &Action{Kind: KindVariable, Dynamic: true}, nil
	case "in/":
		return &Action{Kind: KindRunIn, ID: RunInNamespace}, nil
	case "in^":
		return &Action{Kind: KindRunIn, ID: RunInFrame}, nil
	case "import":
		return &Action{Kind: KindImport}, nil
	case "exit":
		return &Action{Kind: KindExit}, nil
	case "read", "print":
		return ioAction(tok, IONumber, 10), nil
	case "readc", "printc":
		return ioAction(tok, IOChar, 10), nil
	}

	if isNumberToken(tok) {
		return parseNumberToken(tok)
	}
	if n, ok := digitsAfter(tok, "v"); ok {
		return &Action{Kind: KindVariable, ID: n}, nil
	}
	if n, ok := digitsAfter(tok, "a"); ok {
		return &Action{Kind: KindArgument, ID: n + argFirst}, nil
	}
	if n, ok := digitsAfter(tok, "@"); ok {
		return &Action{Kind: KindCall, ID: n}, nil
	}
	if n, ok := digitsAfter(tok, "import"); ok {
		return &Action{Kind: KindImport, ID: n + 1}, nil
	}
	if n, ok := digitsAfter(tok, "in"); ok {
		return &Action{Kind: KindRunIn, ID: n + runInChild}, nil
	}
	for _, verb := range []string{"read", "print"} {
		if n, ok := digitsAfter(tok, verb); ok {
			if n < 2 || n > 36 {
				return nil, decodeErr(ErrMalformed, "base %d in %q", n, tok)
			}
			return ioAction(verb, IONumberBase, int(n)), nil
		}
	}
	if rest, ok := strings.CutPrefix(tok, "fn"); ok {
		id, arity, found := strings.Cut(rest, "/")
		i, err1 := strconv.ParseUint(id, 10, 64)
		n, err2 := strconv.ParseUint(arity, 10, 32)
		if found && err1 == nil && err2 == nil && n <= maxArity {
			return &Action{Kind: KindFunction, ID: i, Arity: int(n)}, nil
		}
	}

	name, count, nary := strings.Cut(tok, "/")
	op, ok := value.LookupName(name)
	if !ok {
		return nil, decodeErr(ErrBadHeader, "unknown token %q", tok)
	}
	a := &Action{Kind: KindOperator, Op: op.ID}
	if nary {
		n, err := strconv.Atoi(count)
		if !op.NAry || err != nil || n < op.Arity {
			return nil, decodeErr(ErrMalformed, "bad operand count in %q", tok)
		}
		a.Extra = uint64(n - op.Arity)
	}
	return a, nil
}

func ioAction(tok string, kind IOKind, base int) *Action {
	k := KindOutput
	if strings.HasPrefix(tok, "read") {
		k = KindInput
	}
	return &Action{Kind: k, IO: kind, Base: base}
}

func digitsAfter(tok, prefix string) (uint64, bool) {
	rest, ok := strings.CutPrefix(tok, prefix)
	if !ok || rest == "" {
		return 0, false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	return n, err == nil
}

func isNumberToken(tok string) bool {
	t := strings.TrimPrefix(tok, "-")
	return t != "" && t[0] >= '0' && t[0] <= '9'
}

func parseNumberToken(tok string) (*Action, error) {
	num, den, frac := strings.Cut(tok, "/")
	n, ok := new(big.Int).SetString(num, 10)
	if !ok {
		return nil, decodeErr(ErrMalformed, "bad number %q", tok)
	}
	if !frac {
		return &Action{Kind: KindInteger, Num: n}, nil
	}
	d, ok := new(big.Int).SetString(den, 10)
	if !ok || d.Sign() <= 0 {
		return nil, decodeErr(ErrMalformed, "bad denominator in %q", tok)
	}
	return &Action{Kind: KindFraction, Num: n, Den: d}, nil
}
