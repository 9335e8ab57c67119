// respd is a RESP server with a bounded worker pool.
//
//	respd serve --port 6379 --workers 4
//	respd ping --address 127.0.0.1:6379 hello
//	respd bench --clients 4 --requests 100000
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "respd",
		Usage: "RESP server with a bounded worker pool",
		Commands: []*cli.Command{
			serveCommand(),
			pingCommand(),
			benchCommand(),
		},
		Flags:  serveFlags(),
		Action: serveAction,
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
