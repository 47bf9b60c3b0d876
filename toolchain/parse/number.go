package parse

import (
	"context"
	"math"
	"strconv"

	"tlog.app/go/errors"
)

type (
	// Int is a 32 bit literal: decimal, 0x hex, 0o octal or 0b binary
	// with an optional minus sign. The result is int32, unsigned values
	// above MaxInt32 wrap.
	Int struct{}
)

func (p Int) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	neg := i < len(b) && b[i] == '-'
	if neg {
		i++
	}

	base := 10

	if i+1 < len(b) && b[i] == '0' {
		switch b[i+1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}

		if base != 10 {
			i += 2
		}
	}

	dst := i

	for i < len(b) && digit(b[i], base) {
		i++
	}

	if i == dst {
		return nil, st, errors.New("number expected")
	}

	v, err := strconv.ParseUint(string(b[dst:i]), base, 32)
	if err != nil {
		return nil, i, errors.Wrap(err, "bad number")
	}

	if neg {
		if v > -math.MinInt32 {
			return nil, i, errors.New("number out of range")
		}

		return int32(-int64(v)), i, nil
	}

	return int32(uint32(v)), i, nil
}

func (p Int) Name() string { return "number" }

func digit(c byte, base int) bool {
	switch {
	case c >= '0' && c <= '9':
		return int(c-'0') < base
	case base == 16 && c >= 'a' && c <= 'f', base == 16 && c >= 'A' && c <= 'F':
		return true
	}

	return false
}
