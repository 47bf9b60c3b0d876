package link

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"
)

const addressSpace = 1 << 32

// place assigns start addresses. Explicitly placed sections go where asked,
// the rest follow each other from the highest explicit end in index order.
func (l *Linker) place(ctx context.Context, ps []Placement) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "place", "placements", len(ps))
	defer tr.Finish("err", &err)

	for _, p := range ps {
		s := l.secs[p.Section]
		if s == nil {
			return errors.Wrap(ErrUnknownSection, "%v", p.Section)
		}

		if uint64(p.Addr)+uint64(s.Size()) > addressSpace {
			return errors.Wrap(ErrAddressSpace, "section %v at %#x, size %#x", s.Name, p.Addr, s.Size())
		}

		s.Start = p.Addr
		l.placed.Set(s.Index)
	}

	var next uint64

	l.placed.Range(func(i int) bool {
		s := l.sections[i]

		if end := uint64(s.Start) + uint64(s.Size()); end > next {
			next = end
		}

		return true
	})

	for _, s := range l.sections {
		if l.placed.IsSet(s.Index) {
			continue
		}

		if next+uint64(s.Size()) > addressSpace {
			return errors.Wrap(ErrAddressSpace, "section %v at %#x, size %#x", s.Name, next, s.Size())
		}

		s.Start = uint32(next)
		l.placed.Set(s.Index)

		next += uint64(s.Size())
	}

	for i, a := range l.sections {
		if a.Size() == 0 {
			continue
		}

		for _, b := range l.sections[i+1:] {
			if b.Size() == 0 {
				continue
			}

			if uint64(a.Start) < uint64(b.Start)+uint64(b.Size()) && uint64(b.Start) < uint64(a.Start)+uint64(a.Size()) {
				return errors.Wrap(ErrOverlappingSections, "%v [%#x+%#x] and %v [%#x+%#x]", a.Name, a.Start, a.Size(), b.Name, b.Start, b.Size())
			}
		}
	}

	for _, s := range l.symbols {
		if s.Section >= 0 {
			s.Value += l.sections[s.Section].Start
		}
	}

	if tr.If("dump_placement") {
		for _, s := range l.sections {
			tr.Printw("section", "name", s.Name, "index", s.Index, "start", s.Start, "size", s.Size())
		}
	}

	return nil
}

// resolve patches every relocation with S + A.
func (l *Linker) resolve(ctx context.Context) (err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "resolve", "sections", len(l.sections))
	defer tr.Finish("err", &err)

	for _, s := range l.sections {
		for _, r := range s.Relocations {
			var v uint32

			if g, ok := l.secs[r.Symbol]; ok {
				v = g.Start
			} else if sym, ok := l.globals[r.Symbol]; ok {
				v = sym.Value
			} else {
				return errors.Wrap(ErrUnresolvedSymbol, "%v", r.Symbol)
			}

			v += uint32(r.Addend)

			if uint64(r.Offset)+4 > uint64(s.Size()) {
				return errors.Wrap(ErrRelocationRange, "section %v: offset %#x, size %#x", s.Name, r.Offset, s.Size())
			}

			err = s.Patch(r.Offset, v)
			if err != nil {
				return errors.Wrap(err, "relocation")
			}

			if tr.If("dump_relocs") {
				tr.Printw("patched", "section", s.Name, "off", r.Offset, "sym", r.Symbol, "addend", r.Addend, "value", v)
			}
		}
	}

	return nil
}
