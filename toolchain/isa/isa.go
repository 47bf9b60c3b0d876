package isa

import (
	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"
)

type (
	Reg int
	CSR int

	// Opcode is the op and mode nibbles of an instruction word.
	Opcode struct {
		Op   uint8
		Mode uint8
	}

	// Word is a packed instruction: op<<28 | mode<<24 | a<<20 | b<<16 | c<<12 | disp.
	Word uint32
)

const (
	SP Reg = 14
	PC Reg = 15

	NumRegs = 16
)

const (
	Status CSR = iota
	Handler
	Cause
)

const (
	DispMin = -2048
	DispMax = 2047

	WordSize = 4
)

var (
	ErrUnknownOpcode     = errors.New("unknown opcode")
	ErrDisplacementRange = errors.New("displacement out of range")
)

var opcodes = map[string]Opcode{
	"HALT": {0x0, 0x0},
	"INT":  {0x1, 0x0},

	"CALL_LITERAL": {0x2, 0x0},
	"CALL_IDENT":   {0x2, 0x1},

	"JMP_LITERAL": {0x3, 0x0},
	"BEQ_LITERAL": {0x3, 0x1},
	"BNE_LITERAL": {0x3, 0x2},
	"BGT_LITERAL": {0x3, 0x3},
	"JMP_IDENT":   {0x3, 0x8},
	"BEQ_IDENT":   {0x3, 0x9},
	"BNE_IDENT":   {0x3, 0xa},
	"BGT_IDENT":   {0x3, 0xb},

	"XCHG": {0x4, 0x0},

	"ADD": {0x5, 0x0},
	"SUB": {0x5, 0x1},
	"MUL": {0x5, 0x2},
	"DIV": {0x5, 0x3},

	"NOT": {0x6, 0x0},
	"AND": {0x6, 0x1},
	"OR":  {0x6, 0x2},
	"XOR": {0x6, 0x3},

	"SHL": {0x7, 0x0},
	"SHR": {0x7, 0x1},

	"ST_MEM":     {0x8, 0x0},
	"PUSH":       {0x8, 0x1},
	"ST_MEM_MEM": {0x8, 0x2},

	"CSRRD":             {0x9, 0x0},
	"LD_REG":            {0x9, 0x1},
	"LD_REG_MEM":        {0x9, 0x2},
	"POP":               {0x9, 0x3},
	"CSRWR":             {0x9, 0x4},
	"CSRWR_OR":          {0x9, 0x5},
	"CSRWR_MEM":         {0x9, 0x6},
	"CSRWR_MEM_POSTINC": {0x9, 0x7},
}

var names = func() map[Opcode]string {
	m := make(map[Opcode]string, len(opcodes))

	for n, o := range opcodes {
		m[o] = n
	}

	return m
}()

func Lookup(name string) (Opcode, error) {
	o, ok := opcodes[name]
	if !ok {
		return Opcode{}, errors.Wrap(ErrUnknownOpcode, "%v", name)
	}

	return o, nil
}

func CheckDisp(d int64) error {
	if d < DispMin || d > DispMax {
		return errors.Wrap(ErrDisplacementRange, "%d not in [%d, %d]", d, DispMin, DispMax)
	}

	return nil
}

// Encode packs one instruction word. Register fields are truncated to 4 bits.
func Encode(name string, a, b, c Reg, d int32) (Word, error) {
	o, err := Lookup(name)
	if err != nil {
		return 0, err
	}

	return o.Encode(a, b, c, d)
}

func (o Opcode) Encode(a, b, c Reg, d int32) (Word, error) {
	if err := CheckDisp(int64(d)); err != nil {
		return 0, err
	}

	w := uint32(o.Op&0xf)<<28 |
		uint32(o.Mode&0xf)<<24 |
		uint32(a&0xf)<<20 |
		uint32(b&0xf)<<16 |
		uint32(c&0xf)<<12 |
		uint32(d)&0xfff

	return Word(w), nil
}

func (o Opcode) String() string {
	if n, ok := names[o]; ok {
		return n
	}

	return string(hfmt.Appendf(nil, "OP_%x_%x", o.Op, o.Mode))
}

func (w Word) Opcode() Opcode { return Opcode{Op: w.Op(), Mode: w.Mode()} }

func (w Word) Op() uint8   { return uint8(w >> 28) }
func (w Word) Mode() uint8 { return uint8(w>>24) & 0xf }
func (w Word) A() Reg      { return Reg(w>>20) & 0xf }
func (w Word) B() Reg      { return Reg(w>>16) & 0xf }
func (w Word) C() Reg      { return Reg(w>>12) & 0xf }

// Disp is the sign extended displacement field.
func (w Word) Disp() int32 {
	return int32(uint32(w)<<20) >> 20
}

func (w Word) String() string {
	return string(Disassemble(nil, w))
}

// Disassemble appends w as "NAME a, b, c, disp".
func Disassemble(b []byte, w Word) []byte {
	return hfmt.Appendf(b, "%v r%d, r%d, r%d, %d", w.Opcode(), w.A(), w.B(), w.C(), w.Disp())
}

func (w Word) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendSemantic(b, tlwire.Hex)
	b = e.AppendInt(b, int(w))

	return b
}

func (r Reg) String() string {
	switch r {
	case SP:
		return "sp"
	case PC:
		return "pc"
	}

	return string(hfmt.Appendf(nil, "r%d", int(r)))
}

func (c CSR) String() string {
	switch c {
	case Status:
		return "status"
	case Handler:
		return "handler"
	case Cause:
		return "cause"
	}

	return string(hfmt.Appendf(nil, "csr%d", int(c)))
}
