package main

import (
	"context"
	"os"
	"strings"

	"github.com/k0kubun/pp/v3"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/asmlink/toolchain/link"
)

func main() {
	app := &cli.Command{
		Name:        "link",
		Description: "link merges relocatable objects into a hex image or one relocatable object",
		Action:      linkAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("output,o", "a.out", "output file"),
			cli.NewFlag("place", []string{}, "section@address placement, repeatable, hex mode only"),
			cli.NewFlag("hex", false, "produce a placed hex image"),
			cli.NewFlag("relocatable", false, "produce one merged relocatable object"),
			cli.NewFlag("dump", false, "dump the linked object to stderr"),
			cli.HelpFlag,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func linkAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	var opts link.Options

	switch h, r := c.Bool("hex"), c.Bool("relocatable"); {
	case h && !r:
		opts.Mode = link.Hex
	case r && !h:
		opts.Mode = link.Relocatable
	default:
		return errors.New("exactly one of --hex and --relocatable expected")
	}

	pls, _ := c.Flag("place").Value.([]string)

	for _, pl := range pls {
		for _, s := range strings.Split(pl, ",") {
			p, err := link.ParsePlacement(s)
			if err != nil {
				return err
			}

			opts.Placements = append(opts.Placements, p)
		}
	}

	if len(c.Args) == 0 {
		return errors.New("no input objects")
	}

	out, err := link.LinkFiles(ctx, c.Args, opts)
	if err != nil {
		return errors.Wrap(err, "link")
	}

	if c.Bool("dump") {
		pp.Fprintln(os.Stderr, out.Object)
	}

	f, err := os.Create(c.String("output"))
	if err != nil {
		return errors.Wrap(err, "create output")
	}

	defer func() {
		e := f.Close()
		if err == nil && e != nil {
			err = errors.Wrap(e, "close output")
		}
	}()

	return out.Write(f)
}
