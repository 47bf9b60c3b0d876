package obj

import (
	"encoding/binary"
	"sort"

	"tlog.app/go/errors"
)

type (
	Bind    int
	SymType int

	RelocType int

	Symbol struct {
		Name  string
		Idx   int // creation order, only used to keep tables stable
		Value uint32

		IsGlobal bool
		IsExtern bool
		Defined  bool

		Bind    Bind
		Type    SymType
		Section int // section index, Undefined or AbsoluteSection
	}

	Relocation struct {
		Symbol string
		Offset uint32
		Type   RelocType
		Addend int32
	}

	// ForwardRef is the list of section offsets waiting for one symbol.
	ForwardRef struct {
		Offsets []uint32
	}

	Section struct {
		Name  string
		Index int
		Start uint32

		Code        []byte
		Relocations []Relocation
	}

	Object struct {
		Symbols  []*Symbol
		Sections []*Section
	}
)

const (
	Local Bind = iota
	Global
	Extern
	Absolute
)

const (
	TypeNone SymType = iota
	TypeSection
)

const (
	ABS32 RelocType = iota
)

const (
	Undefined       = -1
	AbsoluteSection = -2
)

var (
	ErrMalformedObject       = errors.New("malformed object")
	ErrUnsupportedRelocation = errors.New("unsupported relocation type")
)

func (b Bind) String() string {
	switch b {
	case Local:
		return "LOC"
	case Global:
		return "GLOB"
	case Extern:
		return "EXT"
	case Absolute:
		return "ABS"
	default:
		return "BIND?"
	}
}

func (t SymType) String() string {
	if t == TypeSection {
		return "SCTN"
	}

	return "NOTYP"
}

func (t RelocType) String() string {
	if t == ABS32 {
		return "ABS32"
	}

	return "RELOC?"
}

// Addend is the relocation addend a reference to s gets at assembly time:
// zero for symbols resolved by name, the section offset otherwise.
func (s *Symbol) Addend() int32 {
	if s.Bind == Global || s.Bind == Extern {
		return 0
	}

	return int32(s.Value)
}

func (s *Symbol) IsSection() bool { return s.Type == TypeSection }

func (r *ForwardRef) Add(off uint32) {
	r.Offsets = append(r.Offsets, off)
}

// Loc is the location counter. It is the buffer length by construction.
func (s *Section) Loc() uint32 { return uint32(len(s.Code)) }

func (s *Section) Size() uint32 { return uint32(len(s.Code)) }

func (s *Section) Append(b ...byte) {
	s.Code = append(s.Code, b...)
}

func (s *Section) AppendWord(w uint32) {
	s.Code = binary.LittleEndian.AppendUint32(s.Code, w)
}

func (s *Section) Zero(n int) {
	for i := 0; i < n; i++ {
		s.Code = append(s.Code, 0)
	}
}

func (s *Section) Word(off uint32) uint32 {
	return binary.LittleEndian.Uint32(s.Code[off:])
}

// Patch writes v as 4 little-endian bytes at off.
func (s *Section) Patch(off, v uint32) error {
	if uint64(off)+4 > uint64(len(s.Code)) {
		return errors.New("patch at %#x out of section %v (size %#x)", off, s.Name, len(s.Code))
	}

	binary.LittleEndian.PutUint32(s.Code[off:], v)

	return nil
}

func (s *Section) AddRelocation(r Relocation) {
	s.Relocations = append(s.Relocations, r)
}

func (o *Object) Symbol(name string) *Symbol {
	for _, s := range o.Symbols {
		if s.Name == name {
			return s
		}
	}

	return nil
}

func (o *Object) Section(name string) *Section {
	for _, s := range o.Sections {
		if s.Name == name {
			return s
		}
	}

	return nil
}

func (o *Object) SectionByIndex(ndx int) *Section {
	for _, s := range o.Sections {
		if s.Index == ndx {
			return s
		}
	}

	return nil
}

// SortedSymbols returns symbols ordered by Idx without touching o.
func (o *Object) SortedSymbols() []*Symbol {
	l := append([]*Symbol{}, o.Symbols...)

	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Idx < l[j].Idx
	})

	return l
}

func (o *Object) SortedSections() []*Section {
	l := append([]*Section{}, o.Sections...)

	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Index < l[j].Index
	})

	return l
}

func sortedRelocations(l []Relocation) []Relocation {
	l = append([]Relocation{}, l...)

	sort.SliceStable(l, func(i, j int) bool {
		return l[i].Offset < l[j].Offset
	})

	return l
}
