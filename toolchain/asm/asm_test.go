package asm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/asmlink/toolchain/isa"
	"github.com/slowlang/asmlink/toolchain/obj"
)

func ins(m string, ops ...Operand) Instruction {
	return Instruction{Mnemonic: m, Operands: ops}
}

func dir(name string, idents ...string) Directive {
	return Directive{Name: name, Idents: idents}
}

func words(ws ...Operand) Directive {
	return Directive{Name: "word", Words: ws}
}

func enc(t testing.TB, name string, a, b, c isa.Reg, d int32) isa.Word {
	t.Helper()

	w, err := isa.Encode(name, a, b, c, d)
	require.NoError(t, err)

	return w
}

func codeWords(s *obj.Section) (l []isa.Word) {
	for off := uint32(0); off+4 <= s.Size(); off += 4 {
		l = append(l, isa.Word(s.Word(off)))
	}

	return l
}

func TestAddHalt(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("global", "main"),
		dir("section", "text"),
		Label{Name: "main"},
		ins("ADD", Register(1), Register(2)),
		ins("HALT"),
		dir("end"),
	})
	require.NoError(t, err)

	text := o.Section("text")
	require.NotNil(t, text)
	assert.Equal(t, []byte{0x00, 0x10, 0x22, 0x50, 0, 0, 0, 0}, text.Code)

	ws := codeWords(text)
	assert.Equal(t, uint8(0x5), ws[0].Op())
	assert.Equal(t, uint8(0x0), ws[0].Mode())
	assert.Equal(t, uint8(0x0), ws[1].Op())

	main := o.Symbol("main")
	require.NotNil(t, main)
	assert.Equal(t, obj.Global, main.Bind)
	assert.True(t, main.Defined)
	assert.Equal(t, text.Index, main.Section)
	assert.Equal(t, uint32(0), main.Value)

	sec := o.Symbol("text")
	require.NotNil(t, sec)
	assert.True(t, sec.IsSection())
	assert.Equal(t, obj.Local, sec.Bind)

	assert.Empty(t, text.Relocations)
}

func TestForwardReferenceClosure(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("global", "g"),
		dir("extern", "e"),
		dir("section", "text"),
		ins("JMP", ImmediateSymbol("fwd")), // 0: jmp, 4: pool
		ins("CALL", ImmediateSymbol("g")),  // 8: call, 12: jmp, 16: pool
		ins("CALL", ImmediateSymbol("e")),  // 20: call, 24: jmp, 28: pool
		Label{Name: "fwd"},                 // 32
		Label{Name: "g"},                   // 32
		ins("HALT"),
		dir("end"),
	})
	require.NoError(t, err)

	text := o.Section("text")
	require.NotNil(t, text)

	assert.ElementsMatch(t, []obj.Relocation{
		{Symbol: "fwd", Offset: 4, Type: obj.ABS32, Addend: 32},
		{Symbol: "g", Offset: 16, Type: obj.ABS32, Addend: 0},
		{Symbol: "e", Offset: 28, Type: obj.ABS32, Addend: 0},
	}, text.Relocations)

	e := o.Symbol("e")
	require.NotNil(t, e)
	assert.Equal(t, obj.Extern, e.Bind)
	assert.Equal(t, obj.Undefined, e.Section)

	ws := codeWords(text)
	assert.Equal(t, enc(t, "JMP_IDENT", isa.PC, 0, 0, 0), ws[0])
	assert.Equal(t, isa.Word(0), ws[1])
	assert.Equal(t, enc(t, "CALL_IDENT", isa.PC, 0, 0, 4), ws[2])
	assert.Equal(t, enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4), ws[3])
}

func TestBackwardReference(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		ins("HALT"),
		Label{Name: "loop"},
		ins("BNE", Register(1), Register(2), ImmediateSymbol("loop")),
	})
	require.NoError(t, err)

	text := o.Section("text")

	assert.Equal(t, []obj.Relocation{
		{Symbol: "loop", Offset: 12, Type: obj.ABS32, Addend: 4},
	}, text.Relocations)

	ws := codeWords(text)
	require.Len(t, ws, 4)
	assert.Equal(t, enc(t, "BNE_IDENT", isa.PC, 1, 2, 4), ws[1])
	assert.Equal(t, enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4), ws[2])
}

func TestGlobalAfterUse(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		ins("HALT"),
		Label{Name: "x"},
		ins("HALT"),
		words(ImmediateSymbol("x")),
		dir("global", "x"),
	})
	require.NoError(t, err)

	assert.Equal(t, []obj.Relocation{
		{Symbol: "x", Offset: 8, Type: obj.ABS32, Addend: 0},
	}, o.Section("text").Relocations)

	x := o.Symbol("x")
	require.NotNil(t, x)
	assert.Equal(t, obj.Global, x.Bind)
	assert.Equal(t, uint32(4), x.Value)
}

func TestReopenSection(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		words(Immediate(1)),
		dir("section", "data"),
		words(Immediate(2)),
		dir("section", "text"),
		words(Immediate(3)),
	})

	var ds Diagnostics
	require.ErrorAs(t, err, &ds)
	require.Len(t, ds, 1)
	assert.True(t, ds.Has(ErrDuplicateSection))

	assert.Equal(t, []byte{1, 0, 0, 0, 3, 0, 0, 0}, o.Section("text").Code)
	assert.Equal(t, []byte{2, 0, 0, 0}, o.Section("data").Code)
}

func TestDiagnosticText(t *testing.T) {
	_, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		Label{Name: "x", Line: 2},
		Label{Name: "x", Line: 3},
		Instruction{Mnemonic: "FOO", Line: 4},
	})

	var ds Diagnostics
	require.ErrorAs(t, err, &ds)
	require.Len(t, ds, 2)

	assert.Equal(t, "line 3: x: duplicate label", ds[0].Error())
	assert.Equal(t, "line 4: FOO: FOO: unknown instruction", ds[1].Error())

	// where each was detected
	assert.NotZero(t, ds[0].From)
	assert.NotZero(t, ds[1].From)
	assert.NotEqual(t, ds[0].From, ds[1].From)
}

func TestCrossSectionReference(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "data"),
		words(Immediate(1)),
		Label{Name: "d"},
		words(Immediate(2), ImmediateSymbol("d")),
		dir("section", "text"),
		ins("LD", DirectSymbol("d"), Register(3)),
		ins("ST", Register(3), DirectSymbol("d")),
		dir("end"),
	})
	require.NoError(t, err)

	data := o.Section("data")
	text := o.Section("text")

	assert.Equal(t, []obj.Relocation{
		{Symbol: "d", Offset: 8, Type: obj.ABS32, Addend: 4},
	}, data.Relocations)

	assert.Equal(t, []obj.Relocation{
		{Symbol: "d", Offset: 12, Type: obj.ABS32, Addend: 4},
		{Symbol: "d", Offset: 24, Type: obj.ABS32, Addend: 4},
	}, text.Relocations)

	assert.Equal(t, []isa.Word{
		enc(t, "LD_REG_MEM", 3, isa.PC, 0, 8),
		enc(t, "LD_REG_MEM", 3, 3, 0, 0),
		enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4),
		0,
		enc(t, "ST_MEM_MEM", isa.PC, 0, 3, 4),
		enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4),
		0,
	}, codeWords(text))
}

func TestLoadStoreModes(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		ins("LD", Immediate(5), Register(1)),
		ins("LD", Register(2), Register(1)),
		ins("LD", Indirect(2), Register(1)),
		ins("LD", IndirectDisp(2, -1), Register(1)),
		ins("ST", Register(1), Register(2)),
		ins("ST", Register(1), Indirect(2)),
		ins("ST", Register(1), IndirectDisp(2, 4)),
		ins("LD", Direct(0x100), Register(4)),
	})
	require.NoError(t, err)

	assert.Equal(t, []isa.Word{
		enc(t, "LD_REG_MEM", 1, isa.PC, 0, 4),
		enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4),
		5,
		enc(t, "LD_REG", 1, 2, 0, 0),
		enc(t, "LD_REG_MEM", 1, 0, 2, 0),
		enc(t, "LD_REG_MEM", 1, 0, 2, -1),
		enc(t, "LD_REG", 2, 1, 0, 0),
		enc(t, "ST_MEM", 2, 0, 1, 0),
		enc(t, "ST_MEM", 2, 0, 1, 4),
		enc(t, "LD_REG_MEM", 4, isa.PC, 0, 8),
		enc(t, "LD_REG_MEM", 4, 4, 0, 0),
		enc(t, "JMP_LITERAL", isa.PC, 0, 0, 4),
		0x100,
	}, codeWords(o.Section("text")))

	assert.Empty(t, o.Section("text").Relocations)
}

func TestStackAndControl(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "text"),
		ins("PUSH", Register(3)),
		ins("POP", Register(3)),
		ins("RET"),
		ins("IRET"),
		ins("INT"),
		ins("CSRRD", ControlReg(isa.Cause), Register(1)),
		ins("CSRWR", Register(1), ControlReg(isa.Handler)),
		ins("XCHG", Register(1), Register(2)),
		ins("NOT", Register(5)),
	})
	require.NoError(t, err)

	ws := codeWords(o.Section("text"))

	assert.Equal(t, []isa.Word{
		enc(t, "PUSH", isa.SP, 0, 3, -4),
		enc(t, "POP", 3, isa.SP, 0, 4),
		enc(t, "POP", isa.PC, isa.SP, 0, 4),
		enc(t, "CSRWR_MEM", 0, isa.SP, 0, 4),
		enc(t, "POP", isa.PC, isa.SP, 0, 8),
		enc(t, "INT", 0, 0, 0, 0),
		enc(t, "CSRRD", 1, isa.Reg(isa.Cause), 0, 0),
		enc(t, "CSRWR", isa.Reg(isa.Handler), 1, 0, 0),
		enc(t, "XCHG", 0, 2, 1, 0),
		enc(t, "NOT", 5, 5, 0, 0),
	}, ws)

	assert.Equal(t, uint32(0xffc), uint32(ws[0])&0xfff)
}

func TestRecoverableErrors(t *testing.T) {
	ctx := context.Background()

	o, err := Assemble(ctx, []Operation{
		ins("HALT"), // no section
		dir("section", "text"),
		ins("LD", IndirectDisp(1, 2048), Register(2)),
		ins("ST", Register(1), Immediate(5)),
		ins("FOO"),
		Directive{Name: "bar"},
		Label{Name: "a"},
		Label{Name: "a"},
		dir("section", "text"),
		dir("extern", "x"),
		Label{Name: "x"},
		ins("JMP", ImmediateSymbol("nowhere")),
		dir("end"),
		ins("ADD", Register(1), Register(2)),
	})
	require.Error(t, err)

	ds, ok := err.(Diagnostics)
	require.True(t, ok, "%T", err)

	assert.True(t, ds.Has(ErrNoSection))
	assert.True(t, ds.Has(isa.ErrDisplacementRange))
	assert.True(t, ds.Has(ErrInvalidOperand))
	assert.True(t, ds.Has(ErrUnknownInstruction))
	assert.True(t, ds.Has(ErrUnknownDirective))
	assert.True(t, ds.Has(ErrDuplicateLabel))
	assert.True(t, ds.Has(ErrDuplicateSection))
	assert.True(t, ds.Has(ErrExternDefinition))
	assert.True(t, ds.Has(ErrUndefinedSymbol))
	assert.Len(t, ds, 9)

	text := o.Section("text")
	require.NotNil(t, text)

	// only the JMP made it, ADD after .end is ignored
	assert.Equal(t, uint32(8), text.Size())
	assert.Equal(t, []obj.Relocation{
		{Symbol: "nowhere", Offset: 4, Type: obj.ABS32},
	}, text.Relocations)

	nw := o.Symbol("nowhere")
	require.NotNil(t, nw)
	assert.Equal(t, obj.Extern, nw.Bind)
}

func TestDirectives(t *testing.T) {
	o, err := Assemble(context.Background(), []Operation{
		dir("section", "data"),
		Directive{Name: "ascii", Str: "hi"},
		Directive{Name: "skip", Value: 5},
		words(Immediate(-1)),
	})
	require.NoError(t, err)

	assert.Equal(t, []byte{'h', 'i', 0, 0, 0, 0, 0, 0, 0xff, 0xff, 0xff, 0xff}, o.Section("data").Code)
}

func TestSectionIndices(t *testing.T) {
	u := New()

	a := u.GetOrCreateSection("a")
	b := u.GetOrCreateSection("b")

	assert.Equal(t, 0, a.Index)
	assert.Equal(t, 1, b.Index)
	assert.Same(t, a, u.GetOrCreateSection("a"))

	u.SetCurrentSection("b")
	assert.Same(t, b, u.CurrentSection())

	s := u.AddSymbol(&obj.Symbol{Name: "x", Bind: obj.Local})
	assert.Equal(t, 2, s.Idx)

	s2 := u.AddSymbol(&obj.Symbol{Name: "x", Bind: obj.Global})
	assert.Same(t, s, s2)
	assert.Equal(t, 2, s2.Idx)
	assert.Equal(t, obj.Global, u.Symbol("x").Bind)
}
