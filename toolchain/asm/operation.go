package asm

import (
	"strconv"
	"strings"

	"github.com/slowlang/asmlink/toolchain/isa"
)

type (
	Mode int

	Operand struct {
		Mode   Mode
		Value  int32 // literal, register or control register number
		Symbol string
		Disp   int32
	}

	// Operation is one of Instruction, Directive or Label.
	Operation interface {
		SourceLine() int
		String() string

		operation()
	}

	Instruction struct {
		Mnemonic string
		Operands []Operand
		Line     int
	}

	Directive struct {
		Name   string    // without the leading dot
		Idents []string  // .global, .extern, .section
		Words  []Operand // .word items: ImmLiteral or ImmSymbol
		Str    string    // .ascii
		Value  int32     // .skip
		Line   int
	}

	Label struct {
		Name string
		Line int
	}
)

const (
	ModeNone Mode = iota

	ImmLiteral // $5
	ImmSymbol  // $sym
	DirLiteral // 5
	DirSymbol  // sym

	RegDirect     // %r1
	RegIndirect   // [%r1]
	RegIndLiteral // [%r1 + 4]
	RegIndSymbol  // [%r1 + sym]

	CSRDirect // %status
)

func Immediate(v int32) Operand       { return Operand{Mode: ImmLiteral, Value: v} }
func ImmediateSymbol(s string) Operand { return Operand{Mode: ImmSymbol, Symbol: s} }
func Direct(v int32) Operand          { return Operand{Mode: DirLiteral, Value: v} }
func DirectSymbol(s string) Operand    { return Operand{Mode: DirSymbol, Symbol: s} }
func Register(r isa.Reg) Operand       { return Operand{Mode: RegDirect, Value: int32(r)} }
func Indirect(r isa.Reg) Operand       { return Operand{Mode: RegIndirect, Value: int32(r)} }
func ControlReg(c isa.CSR) Operand     { return Operand{Mode: CSRDirect, Value: int32(c)} }

func IndirectDisp(r isa.Reg, d int32) Operand {
	return Operand{Mode: RegIndLiteral, Value: int32(r), Disp: d}
}

func IndirectSymbol(r isa.Reg, s string) Operand {
	return Operand{Mode: RegIndSymbol, Value: int32(r), Symbol: s}
}

func (o Operand) Reg() isa.Reg { return isa.Reg(o.Value) }

// IsSymbol reports whether the operand value is a symbol address.
func (o Operand) IsSymbol() bool { return o.Mode == ImmSymbol || o.Mode == DirSymbol }

func (o Operand) String() string {
	switch o.Mode {
	case ImmLiteral:
		return "$" + strconv.Itoa(int(o.Value))
	case ImmSymbol:
		return "$" + o.Symbol
	case DirLiteral:
		return strconv.Itoa(int(o.Value))
	case DirSymbol:
		return o.Symbol
	case RegDirect:
		return "%" + o.Reg().String()
	case RegIndirect:
		return "[%" + o.Reg().String() + "]"
	case RegIndLiteral:
		return "[%" + o.Reg().String() + " + " + strconv.Itoa(int(o.Disp)) + "]"
	case RegIndSymbol:
		return "[%" + o.Reg().String() + " + " + o.Symbol + "]"
	case CSRDirect:
		return "%" + isa.CSR(o.Value).String()
	default:
		return "<none>"
	}
}

func (x Instruction) SourceLine() int { return x.Line }
func (x Directive) SourceLine() int   { return x.Line }
func (x Label) SourceLine() int       { return x.Line }

func (Instruction) operation() {}
func (Directive) operation()   {}
func (Label) operation()       {}

func (x Instruction) String() string {
	var b strings.Builder

	b.WriteString(x.Mnemonic)

	for i, o := range x.Operands {
		if i == 0 {
			b.WriteByte(' ')
		} else {
			b.WriteString(", ")
		}

		b.WriteString(o.String())
	}

	return b.String()
}

func (x Directive) String() string {
	var l []string

	switch x.Name {
	case "global", "extern", "section":
		l = x.Idents
	case "word":
		for _, w := range x.Words {
			if w.IsSymbol() {
				l = append(l, w.Symbol)
			} else {
				l = append(l, strconv.Itoa(int(w.Value)))
			}
		}
	case "skip":
		l = []string{strconv.Itoa(int(x.Value))}
	case "ascii":
		l = []string{strconv.Quote(x.Str)}
	}

	if len(l) == 0 {
		return "." + x.Name
	}

	return "." + x.Name + " " + strings.Join(l, ", ")
}

func (x Label) String() string { return x.Name + ":" }
