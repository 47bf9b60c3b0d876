package link

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/obj"
)

// merge appends o's sections to the global ones of the same name
// and moves its relocations there.
func (l *Linker) merge(ctx context.Context, o *obj.Object) (f *file, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "merge", "symbols", len(o.Symbols), "sections", len(o.Sections))
	defer tr.Finish("err", &err)

	f = newFile(o)

	secs := o.SortedSections()

	for _, s := range secs {
		g := l.getOrCreateSection(s.Name)

		f.global[s.Index] = g
		f.base[s.Index] = g.Size()

		g.Append(s.Code...)
	}

	for _, s := range secs {
		g := f.global[s.Index]
		base := f.base[s.Index]

		for _, r := range s.Relocations {
			if uint64(r.Offset)+4 > uint64(s.Size()) {
				return nil, errors.Wrap(ErrRelocationRange, "section %v: offset %#x, size %#x", s.Name, r.Offset, s.Size())
			}

			r.Offset += base

			sym := f.byName[r.Symbol]
			if sym == nil {
				return nil, errors.Wrap(obj.ErrMalformedObject, "relocation against unknown symbol %v", r.Symbol)
			}

			switch {
			case sym.Bind == obj.Global || sym.Bind == obj.Extern:
			case sym.Section == obj.AbsoluteSection:
				// value is in the addend already
				err = g.Patch(r.Offset, uint32(r.Addend))
				if err != nil {
					return nil, errors.Wrap(err, "absolute %v", sym.Name)
				}

				continue
			default:
				sg, ok := f.global[sym.Section]
				if !ok {
					return nil, errors.Wrap(obj.ErrMalformedObject, "local symbol %v in unknown section %d", sym.Name, sym.Section)
				}

				r.Symbol = sg.Name
				r.Addend += int32(f.base[sym.Section])
			}

			if tr.If("dump_relocs") {
				tr.Printw("relocation", "section", g.Name, "off", r.Offset, "sym", r.Symbol, "addend", r.Addend)
			}

			g.AddRelocation(r)
		}
	}

	return f, nil
}

// determine assigns o's defined symbols their merged values.
func (l *Linker) determine(ctx context.Context, f *file) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "determine", "symbols", len(f.Symbols))
	defer tr.Finish("err", &err)

	for _, s := range f.SortedSymbols() {
		if s.IsSection() {
			continue
		}

		if s.Bind == obj.Extern || !s.Defined || s.Section == obj.Undefined {
			l.need(s.Name)
			continue
		}

		n := *s

		if n.Section != obj.AbsoluteSection {
			g, ok := f.global[n.Section]
			if !ok {
				return errors.Wrap(obj.ErrMalformedObject, "symbol %v in unknown section %d", n.Name, n.Section)
			}

			n.Value += f.base[n.Section]
			n.Section = g.Index
		}

		if n.Bind == obj.Global {
			if _, ok := l.globals[n.Name]; ok {
				return errors.Wrap(ErrDuplicateGlobalSymbol, "%v", n.Name)
			}

			if _, ok := l.secs[n.Name]; ok {
				return errors.Wrap(ErrDuplicateGlobalSymbol, "%v clashes with section", n.Name)
			}

			l.globals[n.Name] = &n
		}

		l.addSymbol(&n)
	}

	return nil
}

func (l *Linker) getOrCreateSection(name string) *obj.Section {
	if s, ok := l.secs[name]; ok {
		return s
	}

	s := &obj.Section{
		Name:  name,
		Index: len(l.sections),
	}

	l.sections = append(l.sections, s)
	l.secs[name] = s

	l.addSymbol(&obj.Symbol{
		Name:    name,
		Defined: true,
		Bind:    obj.Local,
		Type:    obj.TypeSection,
		Section: s.Index,
	})

	return s
}

func (l *Linker) addSymbol(s *obj.Symbol) {
	s.Idx = len(l.symbols)

	l.symbols = append(l.symbols, s)
}

func (l *Linker) need(name string) {
	if _, ok := l.needed[name]; ok {
		return
	}

	l.needed[name] = struct{}{}
	l.needs = append(l.needs, name)
}

// unresolved returns needed names no object defines.
func (l *Linker) unresolved() (r []string) {
	for _, n := range l.needs {
		if _, ok := l.globals[n]; !ok {
			r = append(r, n)
		}
	}

	return r
}

// relocatable returns merged tables with unresolved names imported.
func (l *Linker) relocatable(unresolved []string) *obj.Object {
	for _, n := range unresolved {
		l.addSymbol(&obj.Symbol{
			Name:     n,
			IsExtern: true,
			Bind:     obj.Extern,
			Section:  obj.Undefined,
		})
	}

	return l.object()
}

func newFile(o *obj.Object) *file {
	f := &file{
		Object: o,
		global: map[int]*obj.Section{},
		base:   map[int]uint32{},
		byName: map[string]*obj.Symbol{},
	}

	for _, s := range o.Symbols {
		if p, ok := f.byName[s.Name]; ok && rank(p) >= rank(s) {
			continue
		}

		f.byName[s.Name] = s
	}

	return f
}

// rank orders same named symbols of a merged object: names resolved
// by the linker first, then section symbols.
func rank(s *obj.Symbol) int {
	switch {
	case s.Bind == obj.Global || s.Bind == obj.Extern:
		return 2
	case s.IsSection():
		return 1
	default:
		return 0
	}
}
