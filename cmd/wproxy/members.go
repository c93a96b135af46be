package main

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"
)

func membersCommand() *cli.Command {
	return &cli.Command{
		Name:      "members",
		Usage:     "list the members a worker answers to",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			p, closeProxy, err := open(c)
			if err != nil {
				return err
			}
			defer closeProxy()

			members := append([]string(nil), p.Members()...)
			sort.Strings(members)
			for _, m := range members {
				fmt.Fprintln(c.App.Writer, m)
			}
			return nil
		},
	}
}
