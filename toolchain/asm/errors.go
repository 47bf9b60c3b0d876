package asm

import (
	"strconv"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
)

type (
	// Diagnostic is a recoverable assembly error. The operation it was
	// reported for had no effect.
	Diagnostic struct {
		Line int
		Op   string
		Err  error
		From loc.PC
	}

	Diagnostics []Diagnostic

	// located is an error tagged with the place it was detected at.
	located struct {
		error
		PC loc.PC
	}
)

var (
	ErrUnknownDirective   = errors.New("unknown directive")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrInvalidOperand     = errors.New("invalid operand")
	ErrDuplicateLabel     = errors.New("duplicate label")
	ErrDuplicateSection   = errors.New("duplicate section")
	ErrNoSection          = errors.New("no current section")
	ErrUndefinedSymbol    = errors.New("undefined symbol")
	ErrExternDefinition   = errors.New("extern symbol defined locally")
)

func fail(kind error, f string, args ...any) error {
	err := kind
	if f != "" {
		err = errors.Wrap(kind, f, args...)
	}

	return located{error: err, PC: loc.Caller(1)}
}

func (e located) Unwrap() error { return e.error }

// opString is the operation as shown in diagnostics. Labels are already
// named by their errors.
func opString(op Operation) string {
	if _, ok := op.(Label); ok {
		return ""
	}

	return op.String()
}

func (d Diagnostic) Error() string {
	s := d.Err.Error()

	if d.Op != "" {
		s = d.Op + ": " + s
	}

	if d.Line != 0 {
		s = "line " + strconv.Itoa(d.Line) + ": " + s
	}

	return s
}

func (d Diagnostic) Unwrap() error { return d.Err }

func (ds Diagnostics) Error() string {
	switch len(ds) {
	case 0:
		return "no errors"
	case 1:
		return ds[0].Error()
	}

	return ds[0].Error() + " (and " + strconv.Itoa(len(ds)-1) + " more errors)"
}

func (ds Diagnostics) Unwrap() []error {
	l := make([]error, len(ds))

	for i, d := range ds {
		l[i] = d
	}

	return l
}

// Has reports whether any diagnostic is of the kind target.
func (ds Diagnostics) Has(target error) bool {
	for _, d := range ds {
		if errors.Is(d.Err, target) {
			return true
		}
	}

	return false
}
