package hex

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"tlog.app/go/errors"

	"github.com/slowlang/asmlink/toolchain/obj"
)

type (
	// Segment is a run of bytes placed at Addr.
	Segment struct {
		Name string
		Addr uint32
		Data []byte
	}

	// Memory is a sparse byte addressed image as the emulator loads it.
	Memory map[uint32]byte
)

var ErrMalformedImage = errors.New("malformed hex image")

// Format appends segments in the given order, 16 bytes per line
// prefixed with the absolute address. Gaps are not printed.
func Format(b []byte, segs []Segment) []byte {
	for _, s := range segs {
		b = obj.AppendBytes(b, s.Addr, s.Data, "%04x:")
	}

	return b
}

func Write(w io.Writer, segs []Segment) error {
	_, err := w.Write(Format(nil, segs))
	if err != nil {
		return errors.Wrap(err, "write image")
	}

	return nil
}

// Read loads "AAAA: bb bb ..." lines.
func Read(r io.Reader) (m Memory, err error) {
	m = Memory{}

	s := bufio.NewScanner(r)
	line := 0

	for s.Scan() {
		line++

		l := strings.TrimSpace(s.Text())
		if l == "" {
			continue
		}

		addr, data, ok := strings.Cut(l, ":")
		if !ok {
			return nil, errors.Wrap(ErrMalformedImage, "line %d: no address", line)
		}

		a, err := strconv.ParseUint(addr, 16, 32)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedImage, "line %d: address: %v", line, err)
		}

		for i, x := range strings.Fields(data) {
			c, err := strconv.ParseUint(x, 16, 8)
			if err != nil {
				return nil, errors.Wrap(ErrMalformedImage, "line %d: byte %d: %v", line, i, err)
			}

			m[uint32(a)+uint32(i)] = byte(c)
		}
	}

	if err = s.Err(); err != nil {
		return nil, errors.Wrap(err, "read image")
	}

	return m, nil
}

// Word reads a little endian word. Missing bytes are zero.
func (m Memory) Word(addr uint32) uint32 {
	return uint32(m[addr]) | uint32(m[addr+1])<<8 | uint32(m[addr+2])<<16 | uint32(m[addr+3])<<24
}
