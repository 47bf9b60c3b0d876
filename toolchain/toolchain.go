package toolchain

import (
	"context"
	"os"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/asm"
	"github.com/slowlang/asmlink/toolchain/link"
	"github.com/slowlang/asmlink/toolchain/obj"
	"github.com/slowlang/asmlink/toolchain/parse"
)

func AssembleFile(ctx context.Context, name string) (o *obj.Object, err error) {
	text, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tlog.SpanFromContext(ctx).Printw("read file", "size", len(text), "name", name)

	return Assemble(ctx, name, text)
}

// AssembleFileTo assembles in and writes the object to out.
// An object with assembler diagnostics is still written, the diagnostics are returned after that.
func AssembleFileTo(ctx context.Context, in, out string) (o *obj.Object, err error) {
	o, asmErr := AssembleFile(ctx, in)
	if o == nil {
		return nil, asmErr
	}

	f, err := os.Create(out)
	if err != nil {
		return o, errors.Wrap(err, "create output")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close output")
		}
	}()

	err = obj.Write(f, o)
	if err != nil {
		return o, err
	}

	return o, asmErr
}

// Assemble turns one assembly source into a relocatable object.
// On assembler diagnostics the object is returned along with asm.Diagnostics.
func Assemble(ctx context.Context, name string, text []byte) (o *obj.Object, err error) {
	ops, err := parse.Source(ctx, name, text)
	if err != nil {
		return nil, errors.Wrap(err, "parse text")
	}

	o, err = asm.Assemble(ctx, ops)
	if err != nil {
		return o, errors.Wrap(err, "assemble")
	}

	return o, nil
}

func LinkFiles(ctx context.Context, names []string, opts link.Options) (*link.Output, error) {
	return link.LinkFiles(ctx, names, opts)
}

// Link links assembled sources, given as name/text pairs, in order.
func Link(ctx context.Context, srcs map[string][]byte, order []string, opts link.Options) (out *link.Output, err error) {
	objs := make([]*obj.Object, 0, len(order))

	for _, name := range order {
		o, err := Assemble(ctx, name, srcs[name])
		if err != nil {
			return nil, errors.Wrap(err, "%v", name)
		}

		objs = append(objs, o)
	}

	return link.Link(ctx, objs, opts)
}
