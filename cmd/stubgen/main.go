// Command stubgen writes the typed client and server wrapper for a Go
// interface:
//
//	//go:generate go run stub-rpc/cmd/stubgen -in hello.go -type HelloService
//
// The output goes next to the input as <input>_rpc.go unless -out is set.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli"

	"stub-rpc/gen"
	"stub-rpc/idl"
)

func generateCommand(c *cli.Context) error {
	in := c.String("in")
	if in == "" {
		in = os.Getenv("GOFILE")
	}
	typ := c.String("type")
	if in == "" || typ == "" {
		return cli.NewExitError("stubgen: -in and -type are required", 2)
	}
	out := c.String("out")
	if out == "" {
		out = strings.TrimSuffix(in, ".go") + "_rpc.go"
	}

	f, err := idl.ParseSource(in, nil, typ)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	src, err := gen.Generate(gen.Options{
		Package:   f.Package,
		Interface: typ,
		Imports:   f.Imports,
		Source:    filepath.Base(in),
	}, f.Declaration)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if err := os.WriteFile(out, src, 0o644); err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	if c.Bool("v") {
		fmt.Fprintf(os.Stderr, "stubgen: %s -> %s (%d methods)\n", typ, out, len(f.Declaration.Methods()))
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "stubgen"
	app.Usage = "generate a client proxy and server wrapper from a Go interface"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "in",
			Usage: "Go source file declaring the interface (default $GOFILE)",
		},
		cli.StringFlag{
			Name:  "type, t",
			Usage: "name of the interface",
		},
		cli.StringFlag{
			Name:  "out, o",
			Usage: "output file (default <in>_rpc.go)",
		},
		cli.BoolFlag{
			Name:  "v",
			Usage: "report what was written",
		},
	}
	app.Action = generateCommand
	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}
