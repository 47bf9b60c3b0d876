package asm

import (
	"context"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/isa"
)

type (
	// seq is an instruction expansion. Nothing is emitted until the
	// whole sequence is encoded.
	seq struct {
		words []isa.Word

		pool   int // index of the literal pool word or -1
		symbol string

		err error
	}
)

func (u *Unit) instruction(ctx context.Context, x Instruction) error {
	if u.cur == nil {
		return fail(ErrNoSection, "")
	}

	name := strings.ToUpper(x.Mnemonic)

	q, err := u.expand(name, x.Operands)
	if err != nil {
		return err
	}

	if q.err != nil {
		return q.err
	}

	if q.pool >= 0 && q.symbol != "" {
		u.reference(q.symbol, u.cur.Loc()+uint32(q.pool*isa.WordSize), x.Line)
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("expand") {
		tr.Printw("instruction", "line", x.Line, "ins", x, "loc", u.cur.Loc(), "words", q.words)
	}

	for _, w := range q.words {
		u.cur.AppendWord(uint32(w))
	}

	return nil
}

func (u *Unit) expand(name string, ops []Operand) (q *seq, err error) {
	q = &seq{pool: -1}

	switch name {
	case "HALT", "INT":
		err = operands(name, ops)

		q.op(name, 0, 0, 0, 0)
	case "IRET":
		err = operands(name, ops)

		q.op("CSRWR_MEM", 0, isa.SP, 0, 4)
		q.op("POP", isa.PC, isa.SP, 0, 8)
	case "RET":
		err = operands(name, ops)

		q.op("POP", isa.PC, isa.SP, 0, 4)
	case "PUSH":
		err = operands(name, ops, RegDirect)

		if err == nil {
			q.op("PUSH", isa.SP, 0, ops[0].Reg(), -4)
		}
	case "POP":
		err = operands(name, ops, RegDirect)

		if err == nil {
			q.op("POP", ops[0].Reg(), isa.SP, 0, 4)
		}
	case "NOT":
		err = operands(name, ops, RegDirect)

		if err == nil {
			r := ops[0].Reg()
			q.op(name, r, r, 0, 0)
		}
	case "XCHG":
		err = operands(name, ops, RegDirect, RegDirect)

		if err == nil {
			q.op(name, 0, ops[1].Reg(), ops[0].Reg(), 0)
		}
	case "ADD", "SUB", "MUL", "DIV", "AND", "OR", "XOR", "SHL", "SHR":
		err = operands(name, ops, RegDirect, RegDirect)

		if err == nil {
			src, dst := ops[0].Reg(), ops[1].Reg()
			q.op(name, dst, dst, src, 0)
		}
	case "CSRRD":
		err = operands(name, ops, CSRDirect, RegDirect)

		if err == nil {
			q.op(name, ops[1].Reg(), isa.Reg(ops[0].Value), 0, 0)
		}
	case "CSRWR":
		err = operands(name, ops, RegDirect, CSRDirect)

		if err == nil {
			q.op(name, isa.Reg(ops[1].Value), ops[0].Reg(), 0, 0)
		}
	case "LD":
		if len(ops) != 2 || ops[1].Mode != RegDirect {
			return nil, fail(ErrInvalidOperand, "%v: operand, %%reg expected", name)
		}

		err = u.load(q, ops[0], ops[1].Reg())
	case "ST":
		if len(ops) != 2 || ops[0].Mode != RegDirect {
			return nil, fail(ErrInvalidOperand, "%v: %%reg, operand expected", name)
		}

		err = u.store(q, ops[0].Reg(), ops[1])
	case "BEQ", "BNE", "BGT":
		if len(ops) != 3 || ops[0].Mode != RegDirect || ops[1].Mode != RegDirect {
			return nil, fail(ErrInvalidOperand, "%v: %%reg, %%reg, target expected", name)
		}

		err = q.target(ops[2])

		q.op(name+"_IDENT", isa.PC, ops[0].Reg(), ops[1].Reg(), 4)
		q.op("JMP_LITERAL", isa.PC, 0, 0, 4)
		q.poolWord(ops[2])
	case "JMP":
		if len(ops) != 1 {
			return nil, fail(ErrInvalidOperand, "%v: target expected", name)
		}

		err = q.target(ops[0])

		q.op("JMP_IDENT", isa.PC, 0, 0, 0)
		q.poolWord(ops[0])
	case "CALL":
		if len(ops) != 1 {
			return nil, fail(ErrInvalidOperand, "%v: target expected", name)
		}

		err = q.target(ops[0])

		q.op("CALL_IDENT", isa.PC, 0, 0, 4)
		q.op("JMP_LITERAL", isa.PC, 0, 0, 4)
		q.poolWord(ops[0])
	default:
		return nil, fail(ErrUnknownInstruction, "%v", name)
	}

	if err != nil {
		return nil, err
	}

	return q, nil
}

func (u *Unit) load(q *seq, o Operand, r isa.Reg) error {
	switch o.Mode {
	case ImmLiteral, ImmSymbol:
		q.op("LD_REG_MEM", r, isa.PC, 0, 4)
		q.op("JMP_LITERAL", isa.PC, 0, 0, 4)
		q.poolWord(o)
	case DirLiteral, DirSymbol:
		q.op("LD_REG_MEM", r, isa.PC, 0, 8)
		q.op("LD_REG_MEM", r, r, 0, 0)
		q.op("JMP_LITERAL", isa.PC, 0, 0, 4)
		q.poolWord(o)
	case RegDirect:
		q.op("LD_REG", r, o.Reg(), 0, 0)
	case RegIndirect:
		q.op("LD_REG_MEM", r, 0, o.Reg(), 0)
	case RegIndLiteral, RegIndSymbol:
		d, err := u.disp(o)
		if err != nil {
			return err
		}

		q.op("LD_REG_MEM", r, 0, o.Reg(), d)
	default:
		return fail(ErrInvalidOperand, "LD: %v", o)
	}

	return nil
}

func (u *Unit) store(q *seq, r isa.Reg, o Operand) error {
	switch o.Mode {
	case ImmLiteral, ImmSymbol:
		return fail(ErrInvalidOperand, "ST: immediate destination %v", o)
	case DirLiteral, DirSymbol:
		q.op("ST_MEM_MEM", isa.PC, 0, r, 4)
		q.op("JMP_LITERAL", isa.PC, 0, 0, 4)
		q.poolWord(o)
	case RegDirect:
		q.op("LD_REG", o.Reg(), r, 0, 0)
	case RegIndirect:
		q.op("ST_MEM", o.Reg(), 0, r, 0)
	case RegIndLiteral, RegIndSymbol:
		d, err := u.disp(o)
		if err != nil {
			return err
		}

		q.op("ST_MEM", o.Reg(), 0, r, d)
	default:
		return fail(ErrInvalidOperand, "ST: %v", o)
	}

	return nil
}

// disp returns the displacement of a register indirect operand.
// A symbol displacement must already be defined.
func (u *Unit) disp(o Operand) (int32, error) {
	d := int64(o.Disp)

	if o.Mode == RegIndSymbol {
		sym := u.symbols[o.Symbol]
		if sym == nil || !sym.Defined {
			return 0, fail(ErrUndefinedSymbol, "displacement %v", o.Symbol)
		}

		d = int64(sym.Value)
	}

	if err := isa.CheckDisp(d); err != nil {
		return 0, fail(err, "")
	}

	return int32(d), nil
}

func (q *seq) op(name string, a, b, c isa.Reg, d int32) {
	if q.err != nil {
		return
	}

	for _, r := range []isa.Reg{a, b, c} {
		if r < 0 || r >= isa.NumRegs {
			q.err = fail(ErrInvalidOperand, "register %d", int(r))
			return
		}
	}

	w, err := isa.Encode(name, a, b, c, d)
	if err != nil {
		q.err = fail(err, "")
		return
	}

	q.words = append(q.words, w)
}

// poolWord appends the literal pool slot for o.
func (q *seq) poolWord(o Operand) {
	q.pool = len(q.words)

	if o.IsSymbol() {
		q.symbol = o.Symbol
		q.words = append(q.words, 0)

		return
	}

	q.words = append(q.words, isa.Word(o.Value))
}

func (q *seq) target(o Operand) error {
	switch o.Mode {
	case ImmLiteral, ImmSymbol, DirLiteral, DirSymbol:
		return nil
	}

	return fail(ErrInvalidOperand, "jump target %v", o)
}

func operands(name string, ops []Operand, modes ...Mode) error {
	if len(ops) != len(modes) {
		return fail(ErrInvalidOperand, "%v: %d operands expected, got %d", name, len(modes), len(ops))
	}

	for i, m := range modes {
		if ops[i].Mode != m {
			return fail(ErrInvalidOperand, "%v: operand %d: %v", name, i+1, ops[i])
		}
	}

	return nil
}
