// Package cliutil holds the pieces shared by the command-line tools.
package cliutil

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"workerproxy/logging"
)

// LogLevelFlag is the --loglvl flag. env names the environment variable it reads.
func LogLevelFlag(env string) cli.Flag {
	return &cli.StringFlag{
		Name:    "loglvl",
		Usage:   "set logging `level` to debug, info, warn or error",
		Value:   "warn",
		EnvVars: []string{env},
	}
}

// SetupLogging installs a stderr logger at the level given by --loglvl.
// Logs never go to stdout, which a stdio worker uses for frames.
func SetupLogging(c *cli.Context) error {
	lvl, err := zapcore.ParseLevel(c.String("loglvl"))
	if err != nil {
		return fmt.Errorf("loglvl: %w", err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = true

	logger, err := cfg.Build(zap.Fields(zap.String("app", c.App.Name)))
	if err != nil {
		return err
	}
	logging.SetLogger(logger)
	return nil
}

// SyncLogging flushes the shared logger.
func SyncLogging(*cli.Context) error {
	_ = logging.Logger().Sync()
	return nil
}
