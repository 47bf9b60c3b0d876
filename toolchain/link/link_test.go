package link

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/asmlink/toolchain/asm"
	"github.com/slowlang/asmlink/toolchain/obj"
	"github.com/slowlang/asmlink/toolchain/parse"
)

func assemble(t testing.TB, name, src string) *obj.Object {
	t.Helper()

	ctx := context.Background()

	ops, err := parse.Source(ctx, name, []byte(src))
	require.NoError(t, err)

	o, err := asm.Assemble(ctx, ops)
	require.NoError(t, err)

	return o
}

func hexLink(t testing.TB, ps []Placement, objs ...*obj.Object) (*Output, error) {
	t.Helper()

	return Link(context.Background(), objs, Options{Mode: Hex, Placements: ps})
}

func word(t testing.TB, out *Output, addr uint32) uint32 {
	t.Helper()

	for _, s := range out.Segments {
		if addr >= s.Addr && uint64(addr)+4 <= uint64(s.Addr)+uint64(len(s.Data)) {
			return binary.LittleEndian.Uint32(s.Data[addr-s.Addr:])
		}
	}

	t.Fatalf("no word at %#x", addr)

	return 0
}

func TestMergeOffsets(t *testing.T) {
	a := assemble(t, "a.s", ".section text\n.word 1\n")
	b := assemble(t, "b.s", ".section text\nb: .word b\n")

	out, err := hexLink(t, []Placement{{Section: "text", Addr: 0x1000}}, a, b)
	require.NoError(t, err)

	text := out.Object.Section("text")
	require.NotNil(t, text)

	assert.Equal(t, uint32(8), text.Size())
	assert.Equal(t, []obj.Relocation{{Symbol: "text", Offset: 4, Type: obj.ABS32, Addend: 4}}, text.Relocations)

	assert.Equal(t, uint32(1), word(t, out, 0x1000))
	assert.Equal(t, uint32(0x1004), word(t, out, 0x1004))

	sym := out.Object.Symbol("b")
	require.NotNil(t, sym)
	assert.Equal(t, uint32(0x1004), sym.Value)
}

func TestGlobalAcrossObjects(t *testing.T) {
	a := assemble(t, "a.s", ".extern f\n.section text\n.word f\n")
	b := assemble(t, "b.s", ".global f\n.section text\n.word 0\nf: .word 5\n")

	out, err := hexLink(t, nil, a, b)
	require.NoError(t, err)

	assert.Equal(t, uint32(8), word(t, out, 0))
	assert.Equal(t, uint32(5), word(t, out, 8))
}

func TestGlobalDeclaredAfterUse(t *testing.T) {
	for _, src := range []string{
		".section text\nhalt\nx: halt\n.word x\n.global x\n",
		".global x\n.section text\nhalt\nx: halt\n.word x\n",
	} {
		o := assemble(t, "a.s", src)

		out, err := hexLink(t, []Placement{{"text", 0x100}}, o)
		require.NoError(t, err)

		assert.Equal(t, uint32(0x104), out.Object.Symbol("x").Value, src)
		assert.Equal(t, uint32(0x104), word(t, out, 0x108), src)
	}
}

func TestLocalCrossSection(t *testing.T) {
	src := ".section text\n.word d\n.section data\n.word 9\nd: .word 1\n"

	a := assemble(t, "a.s", src)
	b := assemble(t, "b.s", src)

	out, err := hexLink(t, []Placement{{Section: "text", Addr: 0}}, a, b)
	require.NoError(t, err)

	data := out.Object.Section("data")
	require.NotNil(t, data)
	assert.Equal(t, uint32(8), data.Start)

	assert.Equal(t, uint32(12), word(t, out, 0))
	assert.Equal(t, uint32(20), word(t, out, 4))
}

func TestSequentialPlacement(t *testing.T) {
	a := assemble(t, "a.s", ".section text\n.skip 16\n")
	b := assemble(t, "b.s", ".section data\n.word 7\n")

	ps := []Placement{{Section: "text", Addr: 0x1000}}

	for _, objs := range [][]*obj.Object{{a, b}, {b, a}} {
		out, err := hexLink(t, ps, objs...)
		require.NoError(t, err)

		assert.Equal(t, uint32(0x1000), out.Object.Section("text").Start)
		assert.Equal(t, uint32(0x1010), out.Object.Section("data").Start)

		require.Len(t, out.Segments, 2)
		assert.Equal(t, "text", out.Segments[0].Name)
		assert.Equal(t, "data", out.Segments[1].Name)

		assert.Equal(t, uint32(7), word(t, out, 0x1010))
	}
}

func TestSegmentsOrder(t *testing.T) {
	a := assemble(t, "a.s", ".section a\n.word 1\n.section b\n.word 2\n.section c\n.word 3\n")

	out, err := hexLink(t, []Placement{{Section: "a", Addr: 0x300}, {Section: "b", Addr: 0x100}}, a)
	require.NoError(t, err)

	var names []string
	for _, s := range out.Segments {
		names = append(names, s.Name)
	}

	assert.Equal(t, []string{"b", "a", "c"}, names)
	assert.Equal(t, uint32(0x304), out.Object.Section("c").Start)

	base, img := out.Flat()
	assert.Equal(t, uint32(0x100), base)
	assert.Len(t, img, 0x208)
	assert.Equal(t, []byte{2, 0, 0, 0}, img[:4])
	assert.Equal(t, []byte{3, 0, 0, 0}, img[0x204:])

	b := out.Format(nil)
	assert.Equal(t, "0100: 02 00 00 00\n0300: 01 00 00 00\n0304: 03 00 00 00\n", string(b))
}

func TestDuplicateGlobal(t *testing.T) {
	a := assemble(t, "a.s", ".global x\n.section t\nx: .word 0\n")
	b := assemble(t, "b.s", ".global x\n.section u\nx: .word 1\n")

	for _, objs := range [][]*obj.Object{{a, b}, {b, a}} {
		_, err := hexLink(t, nil, objs...)
		assert.True(t, errors.Is(err, ErrDuplicateGlobalSymbol), "got %v", err)
	}
}

func TestLinkErrors(t *testing.T) {
	text8 := assemble(t, "a.s", ".section text\n.word 1, 2\n.section data\n.word 3\n")
	ext := assemble(t, "b.s", ".extern y\n.section text\n.word y\n")

	for _, tc := range []struct {
		name string
		ps   []Placement
		objs []*obj.Object
		err  error
	}{
		{"overlap", []Placement{{"text", 0x1000}, {"data", 0x1004}}, []*obj.Object{text8}, ErrOverlappingSections},
		{"unresolved", nil, []*obj.Object{ext}, ErrUnresolvedSymbol},
		{"unknown_section", []Placement{{"bss", 0}}, []*obj.Object{text8}, ErrUnknownSection},
		{"address_space", []Placement{{"text", 0xfffffffc}}, []*obj.Object{text8}, ErrAddressSpace},
		{"sequential_address_space", []Placement{{"data", 0xfffffffc}}, []*obj.Object{text8}, ErrAddressSpace},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := hexLink(t, tc.ps, tc.objs...)
			assert.True(t, errors.Is(err, tc.err), "got %v", err)
		})
	}
}

func TestRelocationRange(t *testing.T) {
	o := &obj.Object{
		Symbols: []*obj.Symbol{
			{Name: "text", Idx: 0, Defined: true, Type: obj.TypeSection, Section: 0},
		},
		Sections: []*obj.Section{{
			Name:        "text",
			Code:        make([]byte, 8),
			Relocations: []obj.Relocation{{Symbol: "text", Offset: 6}},
		}},
	}

	_, err := hexLink(t, nil, o)
	assert.True(t, errors.Is(err, ErrRelocationRange), "got %v", err)
}

func TestAbsoluteSymbol(t *testing.T) {
	o := &obj.Object{
		Symbols: []*obj.Symbol{
			{Name: "text", Idx: 0, Defined: true, Type: obj.TypeSection, Section: 0},
			{Name: "k", Idx: 1, Value: 0x42, Defined: true, Bind: obj.Absolute, Section: obj.AbsoluteSection},
		},
		Sections: []*obj.Section{{
			Name:        "text",
			Code:        make([]byte, 4),
			Relocations: []obj.Relocation{{Symbol: "k", Offset: 0, Addend: 0x42}},
		}},
	}

	out, err := hexLink(t, []Placement{{"text", 0x100}}, o)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x42), word(t, out, 0x100))
	assert.Equal(t, uint32(0x42), out.Object.Symbol("k").Value)
}

func TestRelocatable(t *testing.T) {
	ctx := context.Background()

	a := assemble(t, "a.s", ".extern y\n.section text\nl: .word y, l\n")
	b := assemble(t, "b.s", ".global y\n.section data\ny: .word 5\n")

	out, err := Link(ctx, []*obj.Object{a}, Options{Mode: Relocatable})
	require.NoError(t, err)

	sym := out.Object.Symbol("y")
	require.NotNil(t, sym)
	assert.Equal(t, obj.Extern, sym.Bind)
	assert.Equal(t, obj.Undefined, sym.Section)

	text := out.Format(nil)

	m, err := obj.Parse(ctx, text)
	require.NoError(t, err)

	final, err := hexLink(t, []Placement{{"text", 0x2000}}, m, b)
	require.NoError(t, err)

	assert.Equal(t, uint32(0x2008), word(t, final, 0x2000))
	assert.Equal(t, uint32(0x2000), word(t, final, 0x2004))
	assert.Equal(t, uint32(5), word(t, final, 0x2008))
}

func TestModeRequired(t *testing.T) {
	_, err := Link(context.Background(), nil, Options{})
	assert.Error(t, err)
}

func TestParsePlacement(t *testing.T) {
	for _, tc := range []struct {
		in  string
		exp Placement
	}{
		{"text@0x1000", Placement{"text", 0x1000}},
		{"data@4096", Placement{"data", 4096}},
		{"a@b@0XfF", Placement{"a@b", 0xff}},
		{"top@0xffffffff", Placement{"top", 0xffffffff}},
	} {
		p, err := ParsePlacement(tc.in)
		if assert.NoError(t, err, tc.in) {
			assert.Equal(t, tc.exp, p, tc.in)
		}
	}

	for _, in := range []string{"text", "@0x10", "text@", "text@0x", "text@0x100000000", "text@-1", "text@12ab"} {
		_, err := ParsePlacement(in)
		assert.True(t, errors.Is(err, ErrInvalidPlacement), "%q: %v", in, err)
	}
}
