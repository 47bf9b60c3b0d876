package parse

import (
	"bytes"
	"context"
	"os"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/asm"
)

type (
	Node = any

	Parser interface {
		Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error)
	}

	// Statement parses one source line into zero or more operations.
	Statement struct{}

	PartialReadError struct {
		End int
	}
)

var (
	comma = Spaced(Const(","))
	label = AllOf{Ident{}, Spaced(Const(":"))}
)

func File(ctx context.Context, name string) ([]asm.Operation, error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Source(ctx, name, text)
}

// Source parses assembly text into the operation stream.
// The first syntax error stops parsing.
func Source(ctx context.Context, name string, text []byte) (ops []asm.Operation, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "parse", "name", name, "size", len(text))
	defer tr.Finish("err", &err)

	for n, l := range bytes.Split(text, []byte("\n")) {
		line := n + 1

		l = stripComment(l)

		x, i, err := Statement{}.Parse(ctx, l, 0)
		if err != nil {
			return nil, errors.Wrap(err, "%v:%d:%d", name, line, i+1)
		}

		if i = SpaceTab.Skip(l, i); i != len(l) {
			return nil, errors.Wrap(PartialReadError{End: i}, "%v:%d:%d", name, line, i+1)
		}

		for _, op := range x.([]asm.Operation) {
			ops = append(ops, withLine(op, line))
		}
	}

	tr.V("parse").Printw("parsed", "ops", len(ops))

	return ops, nil
}

func (Statement) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	var ops []asm.Operation

	i = SpaceTab.Skip(b, st)

	if x, j, err := label.Parse(ctx, b, i); err == nil {
		ops = append(ops, asm.Label{Name: x.([]Node)[0].(string)})
		i = SpaceTab.Skip(b, j)
	}

	if i == len(b) {
		return ops, i, nil
	}

	var op asm.Operation

	if b[i] == '.' {
		op, i, err = directive(ctx, b, i+1)
	} else {
		op, i, err = instruction(ctx, b, i)
	}

	if err != nil {
		return nil, i, err
	}

	return append(ops, op), i, nil
}

func directive(ctx context.Context, b []byte, st int) (_ asm.Operation, i int, err error) {
	x, i, err := Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.New("directive name expected")
	}

	d := asm.Directive{Name: strings.ToLower(x.(string))}

	var args Parser

	switch d.Name {
	case "global", "extern":
		args = Spaced(List{Of: Spaced(Ident{}), Sep: comma})
	case "section":
		args = Spaced(SectionName{})
	case "word":
		args = Spaced(List{Of: Spaced(AnyOf{Int{}, Ident{}}), Sep: comma})
	case "skip":
		args = Spaced(Int{})
	case "ascii":
		args = Spaced(String{})
	case "end":
		return d, i, nil
	default:
		// reported by the assembler
		return d, len(b), nil
	}

	x, i, err = args.Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, ".%v", d.Name)
	}

	switch d.Name {
	case "global", "extern":
		for _, n := range x.([]Node) {
			d.Idents = append(d.Idents, n.(string))
		}
	case "section":
		d.Idents = []string{x.(string)}
	case "word":
		for _, n := range x.([]Node) {
			switch n := n.(type) {
			case int32:
				d.Words = append(d.Words, asm.Immediate(n))
			case string:
				d.Words = append(d.Words, asm.ImmediateSymbol(n))
			}
		}
	case "skip":
		d.Value = x.(int32)
	case "ascii":
		d.Str = x.(string)
	}

	return d, i, nil
}

func instruction(ctx context.Context, b []byte, st int) (_ asm.Operation, i int, err error) {
	x, i, err := Ident{}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.New("instruction expected")
	}

	ins := asm.Instruction{Mnemonic: strings.ToUpper(x.(string))}

	j := SpaceTab.Skip(b, i)
	if j == len(b) {
		return ins, j, nil
	}

	x, i, err = Spaced(List{Of: Spaced(Operand{}), Sep: comma}).Parse(ctx, b, i)
	if err != nil {
		return nil, i, errors.Wrap(err, "%v", ins.Mnemonic)
	}

	for _, n := range x.([]Node) {
		ins.Operands = append(ins.Operands, n.(asm.Operand))
	}

	return ins, i, nil
}

func withLine(op asm.Operation, line int) asm.Operation {
	switch op := op.(type) {
	case asm.Instruction:
		op.Line = line
		return op
	case asm.Directive:
		op.Line = line
		return op
	case asm.Label:
		op.Line = line
		return op
	}

	return op
}

// stripComment cuts a # or ; comment outside of string literals.
func stripComment(l []byte) []byte {
	quoted := false

	for i := 0; i < len(l); i++ {
		switch c := l[i]; {
		case quoted && c == '\\':
			i++
		case c == '"':
			quoted = !quoted
		case !quoted && (c == '#' || c == ';'):
			return l[:i]
		}
	}

	return l
}

func (e PartialReadError) Error() string {
	return "unexpected text"
}
