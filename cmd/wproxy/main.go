// Command wproxy loads a worker and calls its members from the shell.
//
//	wproxy call ./demoworker add 1 2
//	wproxy --etcd 127.0.0.1:2379 call etcd://demo echo '"hi"'
//	wproxy members tcp://127.0.0.1:7000
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"workerproxy/client"
	"workerproxy/codec"
	"workerproxy/internal/cliutil"
	"workerproxy/loader"
	"workerproxy/registry"
)

var flags = []cli.Flag{
	&cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "time the worker has to become ready",
		Value:   client.DefaultLoadTimeout,
		EnvVars: []string{"WPROXY_TIMEOUT"},
	},
	&cli.StringFlag{
		Name:    "codec",
		Usage:   "request `codec`: json or binary",
		Value:   "json",
		EnvVars: []string{"WPROXY_CODEC"},
	},
	&cli.StringSliceFlag{
		Name:    "etcd",
		Usage:   "resolve etcd:// paths through the etcd `endpoint`s",
		EnvVars: []string{"WPROXY_ETCD"},
	},
	cliutil.LogLevelFlag("WPROXY_LOGLVL"),
}

var commands = []*cli.Command{
	callCommand(),
	membersCommand(),
}

func main() {
	run(&cli.App{
		Name:      "wproxy",
		Usage:     "call members of an isolated worker",
		UsageText: "wproxy [global options] command [command options] PATH [arguments...]",
		Flags:     flags,
		Commands:  commands,
		Before:    cliutil.SetupLogging,
		After:     cliutil.SyncLogging,
	})
}

func run(app *cli.App) {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// open loads the worker named by the first argument.
func open(c *cli.Context) (*client.Proxy, func() error, error) {
	path := c.Args().First()
	if path == "" {
		return nil, nil, cli.Exit("missing worker path", 2)
	}

	ct, err := codec.ParseCodecType(c.String("codec"))
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() error { return nil }
	if strings.HasPrefix(path, loader.SchemeEtcd) {
		endpoints := c.StringSlice("etcd")
		if len(endpoints) == 0 {
			return nil, nil, cli.Exit("etcd:// paths need --etcd", 2)
		}
		reg, err := registry.NewEtcdRegistry(endpoints)
		if err != nil {
			return nil, nil, err
		}
		loader.Default.Net.Registry = reg
		cleanup = reg.Close
	}

	p, err := client.CreateProxy(c.Context, path,
		client.WithLoadTimeout(c.Duration("timeout")),
		client.WithCodec(ct))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, func() error {
		p.Close()
		return cleanup()
	}, nil
}

