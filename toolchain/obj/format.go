package obj

import (
	"io"
	"strconv"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"
)

const (
	symtabHeader = "Idx Value     Type    Bind   Ndx Name"
	sectabHeader = "Name   StartAddr   Size"
	relaHeader   = "Offset     Type           Symbol Addend"

	bytesPerLine = 16
)

func Write(w io.Writer, o *Object) error {
	_, err := w.Write(Format(nil, o))
	if err != nil {
		return errors.Wrap(err, "write object")
	}

	return nil
}

// Format appends the textual relocatable object to b.
func Format(b []byte, o *Object) []byte {
	secs := o.SortedSections()

	b = append(b, "#.symtab\n"...)
	b = app(b, "%s\n", symtabHeader)

	for _, s := range o.SortedSymbols() {
		b = app(b, "%3d %08x %v %v %s %s\n", s.Idx, s.Value, s.Type, s.Bind, ndxString(s.Section), s.Name)
	}

	b = append(b, "#end\n"...)

	b = append(b, "#.sectab\n"...)
	b = app(b, "%s\n", sectabHeader)

	for _, s := range secs {
		b = app(b, "%s %08x %08x\n", s.Name, s.Start, s.Size())
	}

	b = append(b, "#end\n"...)

	for _, s := range secs {
		b = app(b, "#.rela.%s\n", s.Name)
		b = app(b, "%s\n", relaHeader)

		for _, r := range sortedRelocations(s.Relocations) {
			b = app(b, "%08x %-14s %s %d\n", r.Offset, r.Type.String(), r.Symbol, r.Addend)
		}

		b = append(b, "#end\n"...)
	}

	for _, s := range secs {
		b = app(b, "#.machineCode.%s\n", s.Name)
		b = AppendBytes(b, 0, s.Code, "%08x")
		b = append(b, "#end\n"...)
	}

	return b
}

// AppendBytes dumps code 16 bytes per line, each line prefixed with its address
// formatted by addrFmt and a space.
func AppendBytes(b []byte, base uint32, code []byte, addrFmt string) []byte {
	for i := 0; i < len(code); i += bytesPerLine {
		b = app(b, addrFmt, base+uint32(i))
		b = append(b, ' ')

		end := i + bytesPerLine
		if end > len(code) {
			end = len(code)
		}

		for j, c := range code[i:end] {
			if j != 0 {
				b = append(b, ' ')
			}

			b = app(b, "%02x", c)
		}

		b = append(b, '\n')
	}

	return b
}

func ndxString(ndx int) string {
	switch ndx {
	case Undefined:
		return "UND"
	case AbsoluteSection:
		return "ABS"
	}

	return strconv.Itoa(ndx)
}

func app(b []byte, f string, args ...any) []byte {
	return hfmt.Appendf(b, f, args...)
}
