package main

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func callCommand() *cli.Command {
	return &cli.Command{
		Name:      "call",
		Usage:     "invoke a member and print its result as JSON",
		ArgsUsage: "PATH MEMBER [ARG...]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "concurrency",
				Aliases: []string{"n"},
				Usage:   "issue the call `N` times concurrently",
				Value:   1,
			},
		},
		Action: call,
	}
}

func call(c *cli.Context) error {
	if c.Args().Len() < 2 {
		return cli.Exit("usage: wproxy call PATH MEMBER [ARG...]", 2)
	}
	member := c.Args().Get(1)
	args := parseArgs(c.Args().Slice()[2:])

	p, closeProxy, err := open(c)
	if err != nil {
		return err
	}
	defer closeProxy()

	n := c.Int("concurrency")
	if n < 1 {
		n = 1
	}

	var (
		g   errgroup.Group
		out sync.Mutex
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			payload, err := p.Invoke(member, args...).Wait(c.Context)
			if err != nil {
				return err
			}
			out.Lock()
			defer out.Unlock()
			_, err = fmt.Fprintln(c.App.Writer, string(payload))
			return err
		})
	}
	return g.Wait()
}

// parseArgs reads each argument as JSON, falling back to a plain string.
func parseArgs(raw []string) []any {
	args := make([]any, len(raw))
	for i, s := range raw {
		if json.Valid([]byte(s)) {
			args[i] = json.RawMessage(s)
		} else {
			args[i] = s
		}
	}
	return args
}
