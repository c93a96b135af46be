package main

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Demo is the target served by demoworker.
type Demo struct {
	Name    string
	Started time.Time
}

func (d *Demo) Echo(v any) any { return v }

func (d *Demo) Add(a, b float64) float64 { return a + b }

func (d *Demo) Upper(s string) string { return strings.ToUpper(s) }

func (d *Demo) Uptime() string { return time.Since(d.Started).Round(time.Millisecond).String() }

// Sleep answers after ms milliseconds, or fails when the caller goes away.
func (d *Demo) Sleep(ctx context.Context, ms int) (string, error) {
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return "slept " + time.Duration(ms*int(time.Millisecond)).String(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Later delivers its value asynchronously.
func (d *Demo) Later(v any) <-chan any {
	ch := make(chan any, 1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		ch <- v
	}()
	return ch
}

func (d *Demo) Fail(msg string) error {
	if msg == "" {
		msg = "demo failure"
	}
	return errors.New(msg)
}
