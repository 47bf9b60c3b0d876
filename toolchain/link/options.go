package link

import (
	"strconv"
	"strings"

	"tlog.app/go/errors"
)

type (
	Mode int

	// Placement pins a section to an absolute address.
	Placement struct {
		Section string
		Addr    uint32
	}

	Options struct {
		Mode       Mode
		Placements []Placement
	}
)

const (
	_ Mode = iota
	Hex
	Relocatable
)

var ErrInvalidPlacement = errors.New("invalid placement")

// ParsePlacement parses "section@address", address is decimal or 0x hex.
func ParsePlacement(s string) (p Placement, err error) {
	i := strings.LastIndexByte(s, '@')
	if i <= 0 || i == len(s)-1 {
		return p, errors.Wrap(ErrInvalidPlacement, "%q: section@address expected", s)
	}

	name, addr := s[:i], s[i+1:]

	base := 10
	if strings.HasPrefix(addr, "0x") || strings.HasPrefix(addr, "0X") {
		base = 16
		addr = addr[2:]
	}

	v, err := strconv.ParseUint(addr, base, 32)
	if err != nil {
		return p, errors.Wrap(ErrInvalidPlacement, "%q: %v", s, err)
	}

	return Placement{Section: name, Addr: uint32(v)}, nil
}

func (m Mode) String() string {
	switch m {
	case Hex:
		return "hex"
	case Relocatable:
		return "relocatable"
	}

	return "mode" + strconv.Itoa(int(m))
}

func (p Placement) String() string {
	return p.Section + "@0x" + strconv.FormatUint(uint64(p.Addr), 16)
}
