package value

import (
	"fmt"
	"math/big"
	"strings"
)

// Format renders v with numbers written in the given base (2..36).
// Non-integers are written as num/den.
func Format(v Value, base int) string {
	switch x := v.(type) {
	case Number:
		r := x.rat()
		if r.IsInt() {
			return r.Num().Text(base)
		}
		return r.Num().Text(base) + "/" + r.Denom().Text(base)
	case Set:
		return "{" + joinValues(x.elems, base) + "}"
	case Tuple:
		return "(" + joinValues(x.elems, base) + ")"
	}
	return fmt.Sprint(v)
}

// ParseNumber parses an integer, a fraction "p/q" or (base 10 only) a
// decimal such as "1.25".
func ParseNumber(s string, base int) (Number, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}, fmt.Errorf("empty number")
	}
	if base < 2 || base > 36 {
		return Number{}, fmt.Errorf("base %d out of range", base)
	}
	if base == 10 {
		r, ok := new(big.Rat).SetString(s)
		if !ok {
			return Number{}, fmt.Errorf("invalid number %q", s)
		}
		return Number{r: r}, nil
	}
	num, den, isFrac := strings.Cut(s, "/")
	n, ok := new(big.Int).SetString(num, base)
	if !ok {
		return Number{}, fmt.Errorf("invalid base-%d number %q", base, s)
	}
	if !isFrac {
		return FromBig(n), nil
	}
	d, ok := new(big.Int).SetString(den, base)
	if !ok || d.Sign() == 0 {
		return Number{}, fmt.Errorf("invalid base-%d denominator in %q", base, s)
	}
	return Frac(n, d), nil
}
