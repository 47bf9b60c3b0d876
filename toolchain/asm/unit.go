package asm

import (
	"context"
	"strings"

	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/obj"
)

type (
	// Unit is the registry of one compilation unit: symbols, sections and
	// the references still waiting for a symbol.
	Unit struct {
		symbols map[string]*obj.Symbol
		order   []*obj.Symbol

		sections []*section
		byName   map[string]*section
		cur      *section

		firstUse map[string]int // symbol -> line of first unresolved reference

		ended bool
		diags Diagnostics
	}

	section struct {
		*obj.Section

		refs     map[string]*obj.ForwardRef
		refOrder []string
	}
)

func New() *Unit {
	return &Unit{
		symbols:  map[string]*obj.Symbol{},
		byName:   map[string]*section{},
		firstUse: map[string]int{},
	}
}

// Assemble executes ops in order and returns the resulting object.
// Recoverable errors are collected and returned as Diagnostics
// together with the best-effort object.
func Assemble(ctx context.Context, ops []Operation) (*obj.Object, error) {
	return New().Assemble(ctx, ops)
}

func (u *Unit) Assemble(ctx context.Context, ops []Operation) (o *obj.Object, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "assemble", "ops", len(ops))
	defer tr.Finish("err", &err)

	for _, op := range ops {
		if u.ended {
			tr.V("asm").Printw("ignored after .end", "line", op.SourceLine(), "op", op)
			continue
		}

		if e := u.Exec(ctx, op); e != nil {
			u.report(ctx, op.SourceLine(), opString(op), e)
		}
	}

	if !u.ended {
		u.End(ctx, 0)
	}

	o = u.Object()

	if tr.If("dump_symbols") {
		for _, s := range o.Symbols {
			tr.Printw("symbol", "idx", s.Idx, "name", s.Name, "value", s.Value, "bind", s.Bind, "ndx", s.Section)
		}
	}

	if len(u.diags) != 0 {
		return o, u.diags
	}

	return o, nil
}

// Exec applies one operation to the unit.
func (u *Unit) Exec(ctx context.Context, op Operation) error {
	if u.ended {
		return nil
	}

	switch op := op.(type) {
	case Instruction:
		return u.instruction(ctx, op)
	case Directive:
		return u.directive(ctx, op)
	case Label:
		return u.label(ctx, op)
	default:
		panic(op)
	}
}

func (u *Unit) Diagnostics() Diagnostics { return u.diags }

// GetOrCreateSection returns the named section creating it and its section symbol if needed.
func (u *Unit) GetOrCreateSection(name string) *obj.Section {
	if s, ok := u.byName[name]; ok {
		return s.Section
	}

	s := &section{
		Section: &obj.Section{
			Name:  name,
			Index: len(u.sections),
		},
		refs: map[string]*obj.ForwardRef{},
	}

	u.sections = append(u.sections, s)
	u.byName[name] = s

	u.AddSymbol(&obj.Symbol{
		Name:    name,
		Defined: true,
		Bind:    obj.Local,
		Type:    obj.TypeSection,
		Section: s.Index,
	})

	return s.Section
}

func (u *Unit) SetCurrentSection(name string) {
	u.cur = u.byName[name]
}

func (u *Unit) CurrentSection() *obj.Section {
	if u.cur == nil {
		return nil
	}

	return u.cur.Section
}

// AddSymbol inserts s or overwrites the symbol with the same name.
// An overwritten symbol keeps its table index.
func (u *Unit) AddSymbol(s *obj.Symbol) *obj.Symbol {
	if old, ok := u.symbols[s.Name]; ok {
		idx := old.Idx
		*old = *s
		old.Idx = idx

		return old
	}

	s.Idx = len(u.order)

	u.symbols[s.Name] = s
	u.order = append(u.order, s)

	return s
}

func (u *Unit) Symbol(name string) *obj.Symbol {
	return u.symbols[name]
}

// End converts every pending forward reference into a relocation.
// Operations executed after End are ignored.
func (u *Unit) End(ctx context.Context, line int) {
	tr := tlog.SpanFromContext(ctx)

	for _, s := range u.sections {
		// binds may have changed since the relocation was made
		for i, r := range s.Relocations {
			s.Relocations[i].Addend = u.symbols[r.Symbol].Addend()
		}

		for _, name := range s.refOrder {
			sym := u.symbols[name]
			if sym == nil {
				u.report(ctx, u.firstUse[name], "", fail(ErrUndefinedSymbol, "%v", name))

				sym = u.AddSymbol(&obj.Symbol{
					Name:     name,
					IsExtern: true,
					Bind:     obj.Extern,
					Section:  obj.Undefined,
				})
			}

			for _, off := range s.refs[name].Offsets {
				s.AddRelocation(obj.Relocation{
					Symbol: name,
					Offset: off,
					Type:   obj.ABS32,
					Addend: sym.Addend(),
				})
			}

			if tr.If("backpatch") {
				tr.Printw("backpatch", "section", s.Name, "symbol", name, "offsets", s.refs[name].Offsets, "addend", sym.Addend())
			}
		}

		s.refs = map[string]*obj.ForwardRef{}
		s.refOrder = nil
	}

	tr.V("asm").Printw("end", "line", line)

	u.ended = true
}

// Object snapshots the unit tables.
func (u *Unit) Object() *obj.Object {
	o := &obj.Object{
		Symbols: append([]*obj.Symbol{}, u.order...),
	}

	for _, s := range u.sections {
		o.Sections = append(o.Sections, s.Section)
	}

	return o
}

// reference makes the 4 bytes at off in the current section refer to sym.
// Symbols not yet defined in this section are resolved at End.
func (u *Unit) reference(name string, off uint32, line int) {
	s := u.cur
	sym := u.symbols[name]

	if sym == nil || !sym.Defined || sym.Section != s.Index {
		ref, ok := s.refs[name]
		if !ok {
			ref = &obj.ForwardRef{}
			s.refs[name] = ref
			s.refOrder = append(s.refOrder, name)
		}

		ref.Add(off)

		if _, ok := u.firstUse[name]; !ok && sym == nil {
			u.firstUse[name] = line
		}

		return
	}

	s.AddRelocation(obj.Relocation{
		Symbol: name,
		Offset: off,
		Type:   obj.ABS32,
		Addend: sym.Addend(),
	})
}

func (u *Unit) report(ctx context.Context, line int, op string, err error) {
	d := Diagnostic{
		Line: line,
		Op:   op,
		Err:  err,
	}

	if l, ok := err.(located); ok {
		d.Err, d.From = l.error, l.PC
	}

	u.diags = append(u.diags, d)

	tlog.SpanFromContext(ctx).Printw("assembler error", "line", line, "op", op, "err", err, "from", d.From)
}

func (u *Unit) label(ctx context.Context, x Label) error {
	if u.cur == nil {
		return fail(ErrNoSection, "label %v", x.Name)
	}

	lc := u.cur.Loc()

	sym := u.symbols[x.Name]
	switch {
	case sym == nil:
		u.AddSymbol(&obj.Symbol{
			Name:    x.Name,
			Value:   lc,
			Defined: true,
			Bind:    obj.Local,
			Section: u.cur.Index,
		})
	case sym.Defined:
		return fail(ErrDuplicateLabel, "%v", x.Name)
	case sym.Bind == obj.Extern:
		return fail(ErrExternDefinition, "%v", x.Name)
	default:
		sym.Value = lc
		sym.Defined = true
		sym.Type = obj.TypeNone
		sym.Section = u.cur.Index
	}

	tlog.SpanFromContext(ctx).V("asm").Printw("label", "name", x.Name, "section", u.cur.Name, "value", lc)

	return nil
}

func (u *Unit) directive(ctx context.Context, x Directive) (err error) {
	switch strings.ToLower(strings.TrimPrefix(x.Name, ".")) {
	case "global":
		return u.global(x.Idents)
	case "extern":
		return u.extern(x.Idents)
	case "section":
		return u.section(ctx, x.Idents)
	case "word":
		return u.word(x)
	case "skip":
		return u.skip(x.Value)
	case "ascii":
		return u.ascii(x.Str)
	case "end":
		u.End(ctx, x.Line)
		return nil
	default:
		return fail(ErrUnknownDirective, ".%v", x.Name)
	}
}

func (u *Unit) global(names []string) error {
	for _, n := range names {
		sym := u.symbols[n]
		if sym == nil {
			u.AddSymbol(&obj.Symbol{
				Name:     n,
				IsGlobal: true,
				Bind:     obj.Global,
				Section:  obj.Undefined,
			})

			continue
		}

		if sym.IsSection() {
			return fail(ErrInvalidOperand, "section %v can't be global", n)
		}

		sym.IsGlobal = true
		sym.IsExtern = false
		sym.Bind = obj.Global
	}

	return nil
}

func (u *Unit) extern(names []string) error {
	for _, n := range names {
		sym := u.symbols[n]
		if sym == nil {
			u.AddSymbol(&obj.Symbol{
				Name:     n,
				IsExtern: true,
				Bind:     obj.Extern,
				Section:  obj.Undefined,
			})

			continue
		}

		if sym.Defined {
			return fail(ErrExternDefinition, "%v", n)
		}

		sym.IsExtern = true
		sym.IsGlobal = false
		sym.Bind = obj.Extern
	}

	return nil
}

func (u *Unit) section(ctx context.Context, names []string) error {
	if len(names) != 1 || names[0] == "" {
		return fail(ErrInvalidOperand, "section name expected")
	}

	name := names[0]

	if _, ok := u.byName[name]; ok {
		u.SetCurrentSection(name)

		return fail(ErrDuplicateSection, "%v", name)
	}

	if _, ok := u.symbols[name]; ok {
		return fail(ErrDuplicateSection, "%v: name is used by a symbol", name)
	}

	s := u.GetOrCreateSection(name)
	u.SetCurrentSection(name)

	tlog.SpanFromContext(ctx).V("asm").Printw("section", "name", name, "ndx", s.Index)

	return nil
}

func (u *Unit) word(x Directive) error {
	if u.cur == nil {
		return fail(ErrNoSection, "")
	}

	for _, w := range x.Words {
		if !w.IsSymbol() {
			u.cur.AppendWord(uint32(w.Value))
			continue
		}

		u.reference(w.Symbol, u.cur.Loc(), x.Line)
		u.cur.AppendWord(0)
	}

	return nil
}

func (u *Unit) skip(n int32) error {
	if u.cur == nil {
		return fail(ErrNoSection, "")
	}

	if n < 0 {
		return fail(ErrInvalidOperand, "negative size %d", n)
	}

	u.cur.Zero(int(n))

	return nil
}

func (u *Unit) ascii(str string) error {
	if u.cur == nil {
		return fail(ErrNoSection, "")
	}

	u.cur.Append([]byte(str)...)
	u.cur.Append(0)

	return nil
}
