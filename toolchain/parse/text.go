package parse

import (
	"bytes"
	"context"
	"strconv"

	"tlog.app/go/errors"
)

type (
	Const []byte

	Ident struct{}

	// SectionName is an identifier which may also start with a dot: .data
	SectionName struct{}

	// String is a double quoted string with Go escapes.
	String struct{}
)

func (p Const) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if bytes.HasPrefix(b[st:], p) {
		return string(p), st + len(p), nil
	}

	return nil, st, errors.New("%q expected", []byte(p))
}

func (p Const) Name() string { return strconv.Quote(string(p)) }

func (p Ident) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i == len(b) || !identStart(b[i]) {
		return nil, st, errors.New("identifier expected")
	}

	i++

	for i < len(b) && (identStart(b[i]) || b[i] >= '0' && b[i] <= '9' || b[i] == '.') {
		i++
	}

	return string(b[st:i]), i, nil
}

func (p Ident) Name() string { return "identifier" }

func (p SectionName) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if i < len(b) && b[i] == '.' {
		i++
	}

	_, i, err = Ident{}.Parse(ctx, b, i)
	if err != nil {
		return nil, st, errors.New("section name expected")
	}

	return string(b[st:i]), i, nil
}

func (p SectionName) Name() string { return "section name" }

func (p String) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) || b[st] != '"' {
		return nil, st, errors.New("string expected")
	}

	i = st + 1

	for i < len(b) && b[i] != '"' {
		if b[i] == '\\' {
			i++
		}

		i++
	}

	if i >= len(b) {
		return nil, len(b), errors.New("unterminated string")
	}

	i++

	s, err := strconv.Unquote(string(b[st:i]))
	if err != nil {
		return nil, i, errors.Wrap(err, "bad string")
	}

	return s, i, nil
}

func (p String) Name() string { return "string" }

func identStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}
