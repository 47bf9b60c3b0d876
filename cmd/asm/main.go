package main

import (
	"context"
	"os"

	"github.com/k0kubun/pp/v3"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain"
)

func main() {
	app := &cli.Command{
		Name:        "asm",
		Description: "asm assembles one source file into a relocatable object",
		Action:      asmAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "output.o", "output object file"),
			cli.NewFlag("dump", false, "dump the object to stderr"),
			cli.HelpFlag,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func asmAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) != 1 {
		return errors.New("exactly one input file expected, got %d", len(c.Args))
	}

	in := c.Args[0]

	out := c.String("output")

	o, err := toolchain.AssembleFileTo(ctx, in, out)

	if o != nil && c.Bool("dump") {
		pp.Fprintln(os.Stderr, o)
	}

	if err != nil {
		return errors.Wrap(err, "%v", in)
	}

	return nil
}
