package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"workerproxy/logging"
)

// DefaultGrace is how long a worker process gets to exit after its stdin closes.
const DefaultGrace = 2 * time.Second

// Exec starts the worker as a child process and speaks the call protocol over its
// stdin/stdout. The process is expected to call worker.ServeStdio.
type Exec struct {
	Args   []string  // extra arguments after the path
	Env    []string  // appended to the parent environment
	Stderr io.Writer // worker diagnostics, defaults to os.Stderr
	Grace  time.Duration
}

func (e *Exec) Load(ctx context.Context, path string) (io.ReadWriteCloser, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}

	// The process outlives ctx; it is tied to the returned channel instead.
	cmd := exec.Command(path, e.Args...)
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stderr = e.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	// Our own pipe for stdout: Wait closes the read end of a StdoutPipe when the child
	// exits, dropping frames still buffered in it.
	stdout, childOut, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return nil, err
	}
	cmd.Stdout = childOut
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		childOut.Close()
		return nil, fmt.Errorf("start worker %s: %w", path, err)
	}
	// The child holds its own copy; ours would keep the reader from ever seeing EOF.
	childOut.Close()

	grace := e.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}
	logging.Logger().Debug("worker process started", zap.String("path", path), zap.Int("pid", cmd.Process.Pid))

	p := &procConn{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		grace:  grace,
		exited: make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()
	return p, nil
}

// procConn is the channel to a worker process.
type procConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File // read end; the child holds the write end
	grace  time.Duration

	exited  chan struct{}
	waitErr error // set before exited is closed

	once     sync.Once
	closeErr error
}

func (p *procConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *procConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

// Close ends the worker: stdin is closed so it can exit on its own, and it is killed
// if it has not done so within the grace period.
func (p *procConn) Close() error {
	p.once.Do(func() {
		err := p.stdin.Close()

		select {
		case <-p.exited:
		case <-time.After(p.grace):
			err = multierr.Append(err, p.cmd.Process.Kill())
			<-p.exited
		}

		var exitErr *exec.ExitError
		if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
			err = multierr.Append(err, p.waitErr)
		}
		p.closeErr = multierr.Append(err, p.stdout.Close())
	})
	return p.closeErr
}
