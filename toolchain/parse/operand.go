package parse

import (
	"context"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/asmlink/toolchain/asm"
	"github.com/slowlang/asmlink/toolchain/isa"
)

type (
	// Reg is a general purpose register: %r0..%r15, %sp, %pc.
	Reg struct{}

	// CSR is a control register: %status, %handler, %cause.
	CSR struct{}

	// Operand is any instruction operand.
	Operand struct{}

	// Indirect is [%reg], [%reg + disp] or [%reg - disp].
	Indirect struct{}
)

var csrs = map[string]isa.CSR{
	"status":  isa.Status,
	"handler": isa.Handler,
	"cause":   isa.Cause,
}

func (Reg) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) || b[st] != '%' {
		return nil, st, errors.New("register expected")
	}

	x, i, err = Ident{}.Parse(ctx, b, st+1)
	if err != nil {
		return nil, st, errors.New("register expected")
	}

	r, ok := register(x.(string))
	if !ok {
		return nil, st, errors.New("register expected")
	}

	return r, i, nil
}

func (Reg) Name() string { return "register" }

func (CSR) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) || b[st] != '%' {
		return nil, st, errors.New("control register expected")
	}

	x, i, err = Ident{}.Parse(ctx, b, st+1)
	if err != nil {
		return nil, st, errors.New("control register expected")
	}

	c, ok := csrs[strings.ToLower(x.(string))]
	if !ok {
		return nil, st, errors.New("control register expected")
	}

	return c, i, nil
}

func (CSR) Name() string { return "control register" }

func (Indirect) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	p := Context{
		Pre: Const("["),
		Of: AllOf{
			Spaced(Reg{}),
			Optional{AllOf{
				Spaced(AnyOf{Const("+"), Const("-")}),
				Spaced(AnyOf{Int{}, Ident{}}),
			}},
		},
		Post: Spaced(Const("]")),
	}

	x, i, err = p.Parse(ctx, b, st)
	if err != nil {
		return nil, i, err
	}

	l := x.([]Node)
	r := l[0].(isa.Reg)

	disp, ok := l[1].([]Node)
	if !ok {
		return asm.Indirect(r), i, nil
	}

	sign := disp[0].(string)

	switch d := disp[1].(type) {
	case int32:
		if sign == "-" {
			d = -d
		}

		return asm.IndirectDisp(r, d), i, nil
	case string:
		if sign == "-" {
			return nil, i, errors.New("symbol displacement can't be negative")
		}

		return asm.IndirectSymbol(r, d), i, nil
	}

	panic(disp[1])
}

func (Indirect) Name() string { return "indirect operand" }

func (Operand) Parse(ctx context.Context, b []byte, st int) (x Node, i int, err error) {
	if st == len(b) {
		return nil, st, errors.New("operand expected")
	}

	switch b[st] {
	case '$':
		x, i, err = AnyOf{Int{}, Ident{}}.Parse(ctx, b, st+1)
		if err != nil {
			return nil, st, errors.New("immediate value expected")
		}

		if v, ok := x.(int32); ok {
			return asm.Immediate(v), i, nil
		}

		return asm.ImmediateSymbol(x.(string)), i, nil
	case '%':
		x, i, err = AnyOf{Reg{}, CSR{}}.Parse(ctx, b, st)
		if err != nil {
			return nil, st, errors.New("unknown register")
		}

		if r, ok := x.(isa.Reg); ok {
			return asm.Register(r), i, nil
		}

		return asm.ControlReg(x.(isa.CSR)), i, nil
	case '[':
		return Indirect{}.Parse(ctx, b, st)
	}

	x, i, err = AnyOf{Int{}, Ident{}}.Parse(ctx, b, st)
	if err != nil {
		return nil, i, errors.New("operand expected")
	}

	if v, ok := x.(int32); ok {
		return asm.Direct(v), i, nil
	}

	return asm.DirectSymbol(x.(string)), i, nil
}

func (Operand) Name() string { return "operand" }

func register(s string) (isa.Reg, bool) {
	s = strings.ToLower(s)

	switch s {
	case "sp":
		return isa.SP, true
	case "pc":
		return isa.PC, true
	}

	if len(s) < 2 || len(s) > 3 || s[0] != 'r' {
		return 0, false
	}

	n := 0

	for _, c := range s[1:] {
		if c < '0' || c > '9' {
			return 0, false
		}

		n = n*10 + int(c-'0')
	}

	if n >= isa.NumRegs || len(s) == 3 && s[1] == '0' {
		return 0, false
	}

	return isa.Reg(n), true
}
