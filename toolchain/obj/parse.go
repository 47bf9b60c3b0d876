package obj

import (
	"bytes"
	"context"
	"os"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

type (
	parser struct {
		lines [][]byte
		i     int

		o     *Object
		sizes map[string]uint32
	}
)

func ParseFile(ctx context.Context, name string) (o *Object, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("object file", "name", name, "size", len(text))

	o, err = Parse(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return o, nil
}

// Parse reads the textual object format produced by Format.
func Parse(ctx context.Context, text []byte) (o *Object, err error) {
	p := &parser{
		lines: bytes.Split(text, []byte("\n")),
		o:     &Object{},
		sizes: map[string]uint32{},
	}

	err = p.parse()
	if err != nil {
		return nil, errors.Wrap(err, "line %d", p.i)
	}

	for _, s := range p.o.Sections {
		if size := p.sizes[s.Name]; size != s.Size() {
			return nil, errors.Wrap(ErrMalformedObject, "section %v: size %#x, code %#x", s.Name, size, s.Size())
		}
	}

	if tr := tlog.SpanFromContext(ctx); tr.If("obj") {
		tr.Printw("object parsed", "symbols", len(p.o.Symbols), "sections", len(p.o.Sections))
	}

	return p.o, nil
}

func (p *parser) parse() (err error) {
	for {
		l, ok := p.next()
		if !ok {
			return nil
		}

		switch {
		case l == "#.symtab":
			err = p.block(symtabHeader, p.symbol)
		case l == "#.sectab":
			err = p.block(sectabHeader, p.section)
		case strings.HasPrefix(l, "#.rela."):
			s := p.o.Section(l[len("#.rela."):])
			if s == nil {
				return errors.Wrap(ErrMalformedObject, "relocations for unknown section %q", l[len("#.rela."):])
			}

			err = p.block(relaHeader, func(f []string) error { return p.relocation(s, f) })
		case strings.HasPrefix(l, "#.machineCode."):
			s := p.o.Section(l[len("#.machineCode."):])
			if s == nil {
				return errors.Wrap(ErrMalformedObject, "code for unknown section %q", l[len("#.machineCode."):])
			}

			err = p.block("", func(f []string) error { return p.code(s, f) })
		default:
			return errors.Wrap(ErrMalformedObject, "unexpected line: %q", l)
		}

		if err != nil {
			return err
		}
	}
}

func (p *parser) block(header string, row func(f []string) error) error {
	if header != "" {
		l, ok := p.next()
		if !ok {
			return errors.Wrap(ErrMalformedObject, "unexpected end of file")
		}

		if !equalFields(l, header) {
			return errors.Wrap(ErrMalformedObject, "bad header: %q", l)
		}
	}

	for {
		l, ok := p.next()
		if !ok {
			return errors.Wrap(ErrMalformedObject, "unexpected end of file")
		}

		if l == "#end" {
			return nil
		}

		err := row(strings.Fields(l))
		if err != nil {
			return err
		}
	}
}

func (p *parser) symbol(f []string) (err error) {
	if len(f) != 6 {
		return errors.Wrap(ErrMalformedObject, "symbol: %d fields", len(f))
	}

	s := &Symbol{Name: f[5]}

	s.Idx, err = strconv.Atoi(f[0])
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "symbol index: %v", err)
	}

	v, err := strconv.ParseUint(f[1], 16, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "symbol value: %v", err)
	}

	s.Value = uint32(v)

	switch f[2] {
	case "SCTN":
		s.Type = TypeSection
	case "NOTYP":
		s.Type = TypeNone
	default:
		return errors.Wrap(ErrMalformedObject, "symbol type: %q", f[2])
	}

	switch f[3] {
	case "LOC":
		s.Bind = Local
	case "GLOB":
		s.Bind = Global
		s.IsGlobal = true
	case "EXT":
		s.Bind = Extern
		s.IsExtern = true
	case "ABS":
		s.Bind = Absolute
	default:
		return errors.Wrap(ErrMalformedObject, "symbol bind: %q", f[3])
	}

	switch f[4] {
	case "UND":
		s.Section = Undefined
	case "ABS":
		s.Section = AbsoluteSection
		s.Defined = true
	default:
		s.Section, err = strconv.Atoi(f[4])
		if err != nil || s.Section < 0 {
			return errors.Wrap(ErrMalformedObject, "symbol section index: %q", f[4])
		}

		s.Defined = true
	}

	if p.o.Symbol(s.Name) != nil && s.Type == TypeSection {
		return errors.Wrap(ErrMalformedObject, "duplicate section symbol %v", s.Name)
	}

	p.o.Symbols = append(p.o.Symbols, s)

	return nil
}

func (p *parser) section(f []string) error {
	if len(f) != 3 {
		return errors.Wrap(ErrMalformedObject, "section: %d fields", len(f))
	}

	start, err := strconv.ParseUint(f[1], 16, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "section start: %v", err)
	}

	size, err := strconv.ParseUint(f[2], 16, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "section size: %v", err)
	}

	if p.o.Section(f[0]) != nil {
		return errors.Wrap(ErrMalformedObject, "duplicate section %v", f[0])
	}

	sym := p.o.Symbol(f[0])
	if sym == nil || !sym.IsSection() {
		return errors.Wrap(ErrMalformedObject, "section %v has no section symbol", f[0])
	}

	p.o.Sections = append(p.o.Sections, &Section{
		Name:  f[0],
		Index: sym.Section,
		Start: uint32(start),
	})

	p.sizes[f[0]] = uint32(size)

	return nil
}

func (p *parser) relocation(s *Section, f []string) error {
	if len(f) != 4 {
		return errors.Wrap(ErrMalformedObject, "relocation: %d fields", len(f))
	}

	off, err := strconv.ParseUint(f[0], 16, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "relocation offset: %v", err)
	}

	if f[1] != ABS32.String() {
		return errors.Wrap(ErrUnsupportedRelocation, "%q", f[1])
	}

	add, err := strconv.ParseInt(f[3], 10, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "relocation addend: %v", err)
	}

	if p.o.Symbol(f[2]) == nil {
		return errors.Wrap(ErrMalformedObject, "relocation against unknown symbol %v", f[2])
	}

	s.AddRelocation(Relocation{
		Symbol: f[2],
		Offset: uint32(off),
		Type:   ABS32,
		Addend: int32(add),
	})

	return nil
}

func (p *parser) code(s *Section, f []string) error {
	if len(f) < 2 || len(f) > bytesPerLine+1 {
		return errors.Wrap(ErrMalformedObject, "code: %d fields", len(f))
	}

	addr, err := strconv.ParseUint(f[0], 16, 32)
	if err != nil {
		return errors.Wrap(ErrMalformedObject, "code address: %v", err)
	}

	if uint32(addr) != s.Size() {
		return errors.Wrap(ErrMalformedObject, "code address %#x, expected %#x", addr, s.Size())
	}

	for _, x := range f[1:] {
		c, err := strconv.ParseUint(x, 16, 8)
		if err != nil {
			return errors.Wrap(ErrMalformedObject, "code byte: %v", err)
		}

		s.Append(byte(c))
	}

	return nil
}

// next returns the next non-empty line.
func (p *parser) next() (string, bool) {
	for p.i < len(p.lines) {
		l := bytes.TrimSpace(p.lines[p.i])
		p.i++

		if len(l) != 0 {
			return string(l), true
		}
	}

	return "", false
}

func equalFields(l, header string) bool {
	a, b := strings.Fields(l), strings.Fields(header)
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
