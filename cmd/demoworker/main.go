// Command demoworker serves a small demo target.
//
// Started by a proxy it speaks over stdin/stdout. With --listen it serves every TCP
// connection with a fresh target and can announce itself in etcd.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"workerproxy/internal/cliutil"
	"workerproxy/logging"
	"workerproxy/middleware"
	"workerproxy/registry"
	"workerproxy/worker"
)

var flags = []cli.Flag{
	&cli.StringFlag{
		Name:    "listen",
		Aliases: []string{"l"},
		Usage:   "serve TCP on `addr` instead of stdio",
		EnvVars: []string{"DEMOWORKER_LISTEN"},
	},
	&cli.StringFlag{
		Name:    "name",
		Usage:   "register under `name`",
		Value:   "demo",
		EnvVars: []string{"DEMOWORKER_NAME"},
	},
	&cli.StringFlag{
		Name:    "advertise",
		Usage:   "register `addr` instead of the listen address",
		EnvVars: []string{"DEMOWORKER_ADVERTISE"},
	},
	&cli.StringSliceFlag{
		Name:    "etcd",
		Usage:   "register in etcd at `endpoint`s",
		EnvVars: []string{"DEMOWORKER_ETCD"},
	},
	&cli.Float64Flag{
		Name:  "rate",
		Usage: "limit calls per second, 0 for no limit",
	},
	&cli.DurationFlag{
		Name:  "call-timeout",
		Usage: "fail calls running longer than `d`, 0 for no limit",
	},
	cliutil.LogLevelFlag("DEMOWORKER_LOGLVL"),
}

func main() {
	app := &cli.App{
		Name:   "demoworker",
		Usage:  "serve a demo target to workerproxy clients",
		Flags:  flags,
		Before: cliutil.SetupLogging,
		After:  cliutil.SyncLogging,
		Action: serve,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newDemo(c *cli.Context) worker.Factory {
	name := c.String("name")
	return func() (any, error) {
		return &Demo{Name: name, Started: time.Now()}, nil
	}
}

func middlewares(c *cli.Context) []middleware.Middleware {
	mws := []middleware.Middleware{middleware.LoggingMiddleware(logging.Logger())}
	if d := c.Duration("call-timeout"); d > 0 {
		mws = append(mws, middleware.TimeOutMiddleware(d))
	}
	if r := c.Float64("rate"); r > 0 {
		mws = append(mws, middleware.RateLimitMiddleware(r, max(1, int(r))))
	}
	return mws
}

func serve(c *cli.Context) error {
	if c.String("listen") == "" {
		target, _ := newDemo(c)()
		return worker.ServeStdio(target, worker.WithMiddleware(middlewares(c)...))
	}

	var reg registry.Registry
	if endpoints := c.StringSlice("etcd"); len(endpoints) > 0 {
		etcd, err := registry.NewEtcdRegistry(endpoints)
		if err != nil {
			return err
		}
		defer etcd.Close()
		reg = etcd
	}

	svr := worker.NewServer(c.String("name"), newDemo(c))
	for _, mw := range middlewares(c) {
		svr.Use(mw)
	}

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve("tcp", c.String("listen"), c.String("advertise"), reg) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errc:
		return err
	case s := <-sig:
		logging.Logger().Info("shutting down", zap.Stringer("signal", s))
	}
	if err := svr.Shutdown(5 * time.Second); err != nil {
		return err
	}
	return <-errc
}
