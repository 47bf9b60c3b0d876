package link

import (
	"context"
	"io"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/hex"
	"github.com/slowlang/asmlink/toolchain/obj"
	"github.com/slowlang/asmlink/toolchain/set"
)

type (
	// Linker holds the merged tables of all input objects.
	Linker struct {
		sections []*obj.Section // global index order, which is first seen order
		secs     map[string]*obj.Section

		symbols []*obj.Symbol
		globals map[string]*obj.Symbol

		needs  []string // extern and undefined global names, first seen order
		needed map[string]struct{}

		placed set.Bits[int]
	}

	// Output is the link result in the requested Mode.
	Output struct {
		Mode Mode

		Object   *obj.Object   // merged tables, placed in Hex mode
		Segments []hex.Segment // Hex mode only, ordered by address
	}

	// file is the per input view: its sections mapped into the global ones.
	file struct {
		*obj.Object

		global map[int]*obj.Section // file section index -> global section
		base   map[int]uint32       // file section index -> offset inside global section

		byName map[string]*obj.Symbol
	}
)

var (
	ErrDuplicateGlobalSymbol = errors.New("duplicate global symbol")
	ErrUnresolvedSymbol      = errors.New("unresolved symbol")
	ErrOverlappingSections   = errors.New("overlapping sections")
	ErrRelocationRange       = errors.New("relocation out of range")
	ErrUnknownSection        = errors.New("unknown section")
	ErrAddressSpace          = errors.New("address space exhausted")
)

// LinkFiles parses object files and links them.
func LinkFiles(ctx context.Context, names []string, opts Options) (*Output, error) {
	objs := make([]*obj.Object, 0, len(names))

	for _, n := range names {
		o, err := obj.ParseFile(ctx, n)
		if err != nil {
			return nil, errors.Wrap(err, "parse")
		}

		objs = append(objs, o)
	}

	return Link(ctx, objs, opts)
}

// Link merges objs in the given order. Any error aborts the link.
func Link(ctx context.Context, objs []*obj.Object, opts Options) (out *Output, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "link", "objects", len(objs), "mode", opts.Mode)
	defer tr.Finish("err", &err)

	if opts.Mode != Hex && opts.Mode != Relocatable {
		return nil, errors.New("link mode required")
	}

	l := New()

	files := make([]*file, len(objs))

	for i, o := range objs {
		files[i], err = l.merge(ctx, o)
		if err != nil {
			return nil, errors.Wrap(err, "merge object %d", i)
		}
	}

	for i, f := range files {
		err = l.determine(ctx, f)
		if err != nil {
			return nil, errors.Wrap(err, "object %d", i)
		}
	}

	unresolved := l.unresolved()

	if opts.Mode == Relocatable {
		return &Output{
			Mode:   Relocatable,
			Object: l.relocatable(unresolved),
		}, nil
	}

	if len(unresolved) != 0 {
		return nil, errors.Wrap(ErrUnresolvedSymbol, "%v", unresolved[0])
	}

	err = l.place(ctx, opts.Placements)
	if err != nil {
		return nil, errors.Wrap(err, "place")
	}

	err = l.resolve(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "resolve")
	}

	return &Output{
		Mode:     Hex,
		Object:   l.object(),
		Segments: l.segments(),
	}, nil
}

func New() *Linker {
	return &Linker{
		secs:    map[string]*obj.Section{},
		globals: map[string]*obj.Symbol{},
		needed:  map[string]struct{}{},
	}
}

// Section returns the merged section by name.
func (l *Linker) Section(name string) *obj.Section { return l.secs[name] }

func (l *Linker) object() *obj.Object {
	return &obj.Object{
		Symbols:  l.symbols,
		Sections: l.sections,
	}
}

// segments orders sections by address.
func (l *Linker) segments() []hex.Segment {
	h := heap.Heap[*obj.Section]{Less: func(d []*obj.Section, i, j int) bool {
		if d[i].Start != d[j].Start {
			return d[i].Start < d[j].Start
		}

		return d[i].Index < d[j].Index
	}}

	for _, s := range l.sections {
		h.Push(s)
	}

	segs := make([]hex.Segment, 0, h.Len())

	for h.Len() != 0 {
		s := h.Pop()

		segs = append(segs, hex.Segment{Name: s.Name, Addr: s.Start, Data: s.Code})
	}

	return segs
}

func (o *Output) Format(b []byte) []byte {
	if o.Mode == Hex {
		return hex.Format(b, o.Segments)
	}

	return obj.Format(b, o.Object)
}

func (o *Output) Write(w io.Writer) error {
	_, err := w.Write(o.Format(nil))
	if err != nil {
		return errors.Wrap(err, "write %v output", o.Mode)
	}

	return nil
}

// Flat returns the image from the lowest placed address with gaps zero filled.
func (o *Output) Flat() (base uint32, img []byte) {
	if len(o.Segments) == 0 {
		return 0, nil
	}

	base = o.Segments[0].Addr

	for _, s := range o.Segments {
		if len(s.Data) == 0 {
			continue
		}

		end := int(s.Addr-base) + len(s.Data)
		for len(img) < end {
			img = append(img, 0)
		}

		copy(img[s.Addr-base:], s.Data)
	}

	return base, img
}
