package parse

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

type (
	None struct{}

	Optional struct {
		Parser
	}

	Context struct {
		Pre  Parser
		Of   Parser
		Post Parser
	}

	AllOf []Parser

	AnyOf []Parser

	// List is one or more Of separated by Sep.
	List struct {
		Of  Parser
		Sep Parser
	}
)

func (None) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	return None{}, st, nil
}

func (p Optional) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	x, i, err = p.Parser.Parse(ctx, b, st)
	if i == st {
		return None{}, st, nil
	}

	return
}

func (p Context) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	if p.Pre != nil {
		_, i, err = p.Pre.Parse(ctx, b, i)
		if err != nil {
			return nil, st, errors.Wrap(err, "pre")
		}
	}

	vst := i

	x, i, err = p.Of.Parse(ctx, b, i)
	if err != nil {
		if i == vst {
			i = st
		}

		return nil, i, err
	}

	if p.Post != nil {
		_, i, err = p.Post.Parse(ctx, b, i)
		if err != nil {
			return nil, i, err
		}
	}

	return x, i, nil
}

func (p AllOf) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	i = st

	res := make([]Node, len(p))

	for j, r := range p {
		x, i, err = r.Parse(ctx, b, i)
		if err != nil {
			return nil, i, err
		}

		res[j] = x
	}

	return res, i, nil
}

func (p AnyOf) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	for _, r := range p {
		x, j, e := r.Parse(ctx, b, st)
		if e == nil {
			return x, j, nil
		}
		if j == st {
			continue
		}
		if err == nil {
			i = j
			err = e
		}
	}

	if err != nil {
		return
	}

	return nil, st, errors.New("expected %v", joinHuman(p...))
}

func (p List) Parse(ctx context.Context, b []byte, st int) (_ Node, i int, err error) {
	var res []Node

	x, i, err := p.Of.Parse(ctx, b, st)
	if err != nil {
		return nil, i, err
	}

	res = append(res, x)

	for {
		_, j, err := p.Sep.Parse(ctx, b, i)
		if err != nil {
			return res, i, nil
		}

		x, j, err = p.Of.Parse(ctx, b, j)
		if err != nil {
			return nil, j, err
		}

		res = append(res, x)
		i = j
	}
}

func joinHuman(l ...Parser) string {
	switch len(l) {
	case 0:
		return "<none>"
	case 1:
		return name(l[0])
	}

	var b strings.Builder

	for i, r := range l {
		if i+1 == len(l) {
			b.WriteString(" or ")
		} else if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(name(r))
	}

	return b.String()
}

func name(p Parser) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}

	return strings.TrimPrefix(fmt.Sprintf("%T", p), "parse.")
}
